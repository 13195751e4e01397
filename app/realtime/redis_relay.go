package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// envelope is the wire form of an Event on the shared channel
type envelope struct {
	Type            string          `json:"type"`
	PartitionID     uint            `json:"partitionId"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	OriginSessionID string          `json:"originSessionId,omitempty"`
	SentAt          time.Time       `json:"sentAt"`
}

// RedisRelay publishes hub events on a Redis channel and delivers everything
// received on it to the local hub, so origin exclusion holds across instances.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *log.Logger
	pubsub  *redis.PubSub
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *log.Logger) *RedisRelay {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisRelay{client: client, channel: channel, hub: hub, logger: logger}
}

// Publish implements Publisher
func (r *RedisRelay) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode realtime payload: %w", err)
	}
	body, err := json.Marshal(envelope{
		Type:            evt.Type,
		PartitionID:     evt.PartitionID,
		Payload:         payload,
		OriginSessionID: evt.OriginSessionID,
		SentAt:          evt.SentAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode realtime envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.client.Publish(ctx, r.channel, body).Err()
}

// Start subscribes and installs the relay as the hub publisher. It returns a stop func.
func (r *RedisRelay) Start(ctx context.Context) (func(), error) {
	r.pubsub = r.client.Subscribe(ctx, r.channel)

	// Wait for confirmation that subscription is created
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.listen(ctx)
	}()

	r.hub.SetPublisher(r)
	r.logger.Printf("realtime: relay subscribed channel=%s", r.channel)

	return func() {
		r.hub.SetPublisher(nil)
		cancel()
		_ = r.pubsub.Close()
		<-done
	}, nil
}

func (r *RedisRelay) listen(ctx context.Context) {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Printf("realtime: dropping malformed relay message err=%v", err)
				continue
			}
			r.hub.Deliver(Event{
				Type:            env.Type,
				PartitionID:     env.PartitionID,
				Payload:         env.Payload,
				OriginSessionID: env.OriginSessionID,
				SentAt:          env.SentAt,
			})
		}
	}
}
