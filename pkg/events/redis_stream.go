package events

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"libraryhub/internal/util"
	"libraryhub/pkg/domain"
)

// RedisStreamConfig configures the Redis stream publisher.
type RedisStreamConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// RedisStreamPublisher appends loan events to a capped Redis stream.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamPublisher(cfg RedisStreamConfig) (*RedisStreamPublisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "libraryhub:circulation:events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &RedisStreamPublisher{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// Publish adds the event as one stream entry. The full document sits under
// "payload"; the routing fields are duplicated so consumers can filter cheaply.
func (p *RedisStreamPublisher) Publish(ctx context.Context, e domain.LoanEvent) error {
	payload, err := encode(e)
	if err != nil {
		return err
	}
	values := map[string]any{
		"event_id":  e.ID,
		"type":      string(e.Type),
		"loan_id":   e.LoanID,
		"member_id": e.MemberID,
		"payload":   string(payload),
	}
	if requestID := util.RequestIDFromContext(ctx); requestID != "" {
		values["request_id"] = requestID
	}
	ctx, cancel := publishTimeout(ctx)
	defer cancel()
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}

func (p *RedisStreamPublisher) Close() error {
	return p.client.Close()
}
