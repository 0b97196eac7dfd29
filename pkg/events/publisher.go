package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"libraryhub/pkg/domain"
)

// Publisher delivers committed loan events to downstream consumers
// (notifications, reporting). Delivery is at-most-once.
type Publisher interface {
	Publish(ctx context.Context, e domain.LoanEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.LoanEvent) error { return nil }
func (NopPublisher) Close() error                                    { return nil }

// encode renders an event as the JSON document carried by every backend.
func encode(e domain.LoanEvent) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode loan event: %w", err)
	}
	return payload, nil
}

func publishTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, 2*time.Second)
}
