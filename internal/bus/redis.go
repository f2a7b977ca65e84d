package bus

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/noteduco342/OMChat-backend/internal/metrics"
)

// RedisClient is satisfied by *redis.Client.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Redis fans envelopes out over a pub/sub channel.
type Redis struct {
	client  RedisClient
	channel string
	nodeID  string
	pubsub  *redis.PubSub
}

func NewRedis(client RedisClient, channel, nodeID string) *Redis {
	return &Redis{client: client, channel: channel, nodeID: nodeID}
}

func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	env.Origin = r.nodeID
	data, err := Encode(env)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		metrics.BusEvents.WithLabelValues("error").Inc()
		return err
	}
	metrics.BusEvents.WithLabelValues("published").Inc()
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	r.pubsub = r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed.
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		return err
	}

	ch := r.pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				env, err := Decode([]byte(msg.Payload))
				if err != nil {
					metrics.BusEvents.WithLabelValues("error").Inc()
					log.Printf("[bus] failed to decode redis envelope: %v", err)
					continue
				}
				metrics.BusEvents.WithLabelValues("received").Inc()
				h(env)
			}
		}
	}()
	log.Printf("[bus] subscribed to redis channel %s as node %s", r.channel, r.nodeID)
	return nil
}

func (r *Redis) Close() error {
	if r.pubsub == nil {
		return nil
	}
	return r.pubsub.Close()
}
