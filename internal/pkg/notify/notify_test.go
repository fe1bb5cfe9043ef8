package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kessaihq/kessai/internal/pkg/billing"
	"github.com/kessaihq/kessai/internal/pkg/jobqueue"
)

type fakeQueue struct {
	jobs []map[string]interface{}
}

func (f *fakeQueue) EnqueueJob(_ jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error) {
	f.jobs = append(f.jobs, payload)
	return &jobqueue.Job{}, nil
}

func TestTemplateRender(t *testing.T) {
	tmpl := Template{
		Subject: "Payment of {amount} {currency}",
		Body:    "<p>Thanks for {item_name}, ref {payment_intent_id}</p>",
	}
	subject, body := tmpl.Render(map[string]string{
		"amount":            "5000",
		"currency":          "jpy",
		"item_name":         "Donation",
		"payment_intent_id": "pi_1",
	})
	assert.Equal(t, "Payment of 5000 jpy", subject)
	assert.Equal(t, "<p>Thanks for Donation, ref pi_1</p>", body)
}

func TestTemplateRender_UnknownMarkerStays(t *testing.T) {
	tmpl := Template{Subject: "Hello {missing}", Body: ""}
	subject, _ := tmpl.Render(map[string]string{})
	assert.Equal(t, "Hello {missing}", subject)
}

func TestDispatchQueuesMail(t *testing.T) {
	queue := &fakeQueue{}
	n := NewNotifier(queue, "")

	n.Dispatch(context.Background(), billing.NotifySignupOnetime, map[string]string{
		"customer_email": "taro@example.com",
		"amount":         "5000",
		"currency":       "jpy",
	})

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "taro@example.com", queue.jobs[0]["to"])
	assert.Equal(t, billing.NotifySignupOnetime, queue.jobs[0]["context"])
}

func TestDispatchAdminCopy(t *testing.T) {
	queue := &fakeQueue{}
	n := NewNotifier(queue, "ops@example.com")

	n.Dispatch(context.Background(), billing.NotifyPaymentFailed, map[string]string{
		"customer_email":  "taro@example.com",
		"subscription_id": "sub_1",
	})

	require.Len(t, queue.jobs, 2)
	assert.Equal(t, "ops@example.com", queue.jobs[1]["to"])

	// Signups do not page the operator.
	queue.jobs = nil
	n.Dispatch(context.Background(), billing.NotifySignupSubscription, map[string]string{
		"customer_email": "taro@example.com",
	})
	assert.Len(t, queue.jobs, 1)
}

func TestDispatchWithoutRecipientDropped(t *testing.T) {
	queue := &fakeQueue{}
	n := NewNotifier(queue, "")

	n.Dispatch(context.Background(), billing.NotifyPaymentFailed, map[string]string{})
	assert.Empty(t, queue.jobs)
}

func TestDispatchUnknownContextDropped(t *testing.T) {
	queue := &fakeQueue{}
	n := NewNotifier(queue, "")

	n.Dispatch(context.Background(), "something_else", map[string]string{"customer_email": "a@b.c"})
	assert.Empty(t, queue.jobs)
}

func TestSetTemplateOverride(t *testing.T) {
	queue := &fakeQueue{}
	n := NewNotifier(queue, "")
	n.SetTemplate(billing.NotifySignupOnetime, Template{Subject: "Custom {amount}", Body: "x"})

	n.Dispatch(context.Background(), billing.NotifySignupOnetime, map[string]string{
		"customer_email": "taro@example.com",
		"amount":         "1",
	})
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "Custom 1", queue.jobs[0]["subject"])
}
