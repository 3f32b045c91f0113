// Package redis republishes engine events on Redis pub/sub channels named
// perpx.<kind>.<market>.
package redis

import (
	"context"

	"perpx/events"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type Relay struct {
	client publisher
	enc    events.Encoder
	log    *zap.Logger
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func NewRelay(client publisher, enc events.Encoder, log *zap.Logger) *Relay {
	return &Relay{client: client, enc: enc, log: log.Named("redis")}
}

func (r *Relay) Run(ctx context.Context, sub *events.Subscription) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := r.Publish(ctx, ev); err != nil {
				r.log.Warn("publish failed", zap.String("channel", ev.Topic()), zap.Error(err))
			}
		}
	}
}

// Publish sends one event on its topic channel.
func (r *Relay) Publish(ctx context.Context, ev events.Event) error {
	payload, err := r.enc.Encode(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, ev.Topic(), payload).Err()
}
