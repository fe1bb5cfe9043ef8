package jobqueue

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// processMailDeliveryJob delivers one rendered mail through the injected
// sender. Delivery failures are returned so the queue retries with backoff.
func (q *Queue) processMailDeliveryJob(job *Job) error {
	payload, err := MailDeliveryJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid mail payload: %w", err)
	}
	if payload.To == "" {
		return fmt.Errorf("mail payload without recipient")
	}
	if q.mailer == nil {
		return fmt.Errorf("no mail sender configured")
	}

	if err := q.mailer.Send(payload.To, payload.Subject, payload.Body); err != nil {
		return fmt.Errorf("send mail to %s: %w", payload.To, err)
	}

	log.Infof("[JobQueue] Mail delivered to %s (context=%s)", payload.To, payload.Context)
	return nil
}
