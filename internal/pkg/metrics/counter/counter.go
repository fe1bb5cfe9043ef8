// Package counter keeps cheap operational counters in Redis hashes.
// Increments happen on the request path; reads happen from the admin
// stats endpoint. Losing these on a cache flush is acceptable.
package counter

import (
	"context"

	"github.com/kessaihq/kessai/internal/pkg/cache"
)

const (
	eventsReceivedKey  = "billing:counters:events_received"
	eventsProcessedKey = "billing:counters:events_processed"
	eventsFailedKey    = "billing:counters:events_failed"
)

// AddEventReceived increments the received counter for an event type.
func AddEventReceived(eventType string) error {
	return incr(eventsReceivedKey, eventType)
}

// AddEventProcessed increments the processed counter for an event type.
func AddEventProcessed(eventType string) error {
	return incr(eventsProcessedKey, eventType)
}

// AddEventFailed increments the failure counter for an event type.
func AddEventFailed(eventType string) error {
	return incr(eventsFailedKey, eventType)
}

func incr(key, field string) error {
	if field == "" {
		field = "unknown"
	}
	return cache.GetClient().HIncrBy(context.Background(), key, field, 1).Err()
}

// Snapshot returns all counters grouped by outcome and event type.
func Snapshot() (map[string]map[string]string, error) {
	ctx := context.Background()
	rdb := cache.GetClient()

	out := make(map[string]map[string]string, 3)
	for name, key := range map[string]string{
		"received":  eventsReceivedKey,
		"processed": eventsProcessedKey,
		"failed":    eventsFailedKey,
	} {
		data, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		out[name] = data
	}
	return out, nil
}
