// Package notify renders outbound notification mails for reconciliation
// outcomes and hands them to the background queue. Templates use
// {placeholder} substitution so operators can override wording without
// touching code.
package notify

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/kessaihq/kessai/internal/pkg/billing"
	"github.com/kessaihq/kessai/internal/pkg/jobqueue"
)

// Template is a mail subject/body pair with {placeholder} markers.
type Template struct {
	Subject string
	Body    string
}

// Render substitutes every {key} marker with its value from data. Unknown
// markers are left in place so missing data is visible instead of silent.
func (t Template) Render(data map[string]string) (string, string) {
	subject := t.Subject
	body := t.Body
	for k, v := range data {
		marker := "{" + k + "}"
		subject = strings.ReplaceAll(subject, marker, v)
		body = strings.ReplaceAll(body, marker, v)
	}
	return subject, body
}

func defaultTemplates() map[string]Template {
	return map[string]Template{
		billing.NotifySignupOnetime: {
			Subject: "Thank you for your payment",
			Body: "<p>Hello,</p>" +
				"<p>We received your payment of {amount} {currency} for {item_name}.</p>" +
				"<p>Transaction: {payment_intent_id}<br>Date: {transaction_date}</p>",
		},
		billing.NotifySignupSubscription: {
			Subject: "Your subscription is active",
			Body: "<p>Hello,</p>" +
				"<p>Your subscription to {item_name} has started.</p>" +
				"<p>Subscription: {subscription_id}<br>Date: {transaction_date}</p>",
		},
		billing.NotifyPaymentFailed: {
			Subject: "Your subscription payment failed",
			Body: "<p>Hello,</p>" +
				"<p>The latest payment for your subscription {subscription_id} " +
				"could not be processed. Please update your payment method.</p>",
		},
		billing.NotifySubscriptionCanceled: {
			Subject: "Your subscription has been canceled",
			Body: "<p>Hello,</p>" +
				"<p>Your subscription {subscription_id} has been canceled. " +
				"You will not be charged again.</p>",
		},
	}
}

// Enqueuer is the queue surface the notifier needs.
type Enqueuer interface {
	EnqueueJob(jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error)
}

// Notifier implements the reconciliation dispatcher on top of the mail
// queue. Dispatch never blocks a request on SMTP and never fails the
// caller: a notification that cannot be queued is logged and dropped.
type Notifier struct {
	queue      Enqueuer
	adminEmail string
	templates  map[string]Template
}

// NewNotifier wires a notifier. adminEmail may be empty to disable
// operator copies.
func NewNotifier(queue Enqueuer, adminEmail string) *Notifier {
	return &Notifier{
		queue:      queue,
		adminEmail: adminEmail,
		templates:  defaultTemplates(),
	}
}

// SetTemplate overrides the template for one notification context.
func (n *Notifier) SetTemplate(event string, t Template) {
	n.templates[event] = t
}

// Dispatch renders and queues the notification for the given context.
func (n *Notifier) Dispatch(ctx context.Context, event string, data map[string]string) {
	_ = ctx
	tmpl, ok := n.templates[event]
	if !ok {
		log.Warnf("[Notify] No template for context %s, dropping", event)
		return
	}

	subject, body := tmpl.Render(data)

	if to := data["customer_email"]; to != "" {
		n.enqueue(to, subject, body, event)
	} else {
		log.Warnf("[Notify] No recipient for context %s, dropping", event)
	}

	// Operator copy for events that usually need follow-up.
	if n.adminEmail != "" {
		switch event {
		case billing.NotifyPaymentFailed, billing.NotifySubscriptionCanceled:
			n.enqueue(n.adminEmail, "[admin] "+subject, body, event)
		}
	}
}

func (n *Notifier) enqueue(to, subject, body, event string) {
	payload := jobqueue.MailDeliveryJobPayload{
		To:      to,
		Subject: subject,
		Body:    body,
		Context: event,
	}
	if _, err := n.queue.EnqueueJob(jobqueue.JobTypeMailDelivery, payload.ToMap()); err != nil {
		log.Errorf("[Notify] Failed to queue %s mail for %s: %v", event, to, err)
	}
}
