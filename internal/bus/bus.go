// Package bus carries delivery envelopes between server nodes. Every node,
// the publisher included, receives each envelope and hands it to its local
// hub, so a single-node deployment and a cluster take the same path.
package bus

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/noteduco342/OMChat-backend/internal/config"
)

// Envelope is one event addressed to a set of users, a group room, or to
// everyone connected.
type Envelope struct {
	Origin     string `msgpack:"o"`
	Type       string `msgpack:"t"`
	Recipients []uint `msgpack:"r,omitempty"`
	Room       uint   `msgpack:"g,omitempty"`
	Broadcast  bool   `msgpack:"b,omitempty"`
	// LeaveRoom removes Recipients' connections from Room after delivery.
	LeaveRoom bool `msgpack:"l,omitempty"`
	// Frame is the encoded client frame, written to sockets as is.
	Frame []byte `msgpack:"f"`
}

type Handler func(Envelope)

type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe registers h and starts consuming. It returns once the
	// subscription is live; consumption stops when ctx is done.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

func Encode(env Envelope) ([]byte, error) {
	return msgpack.Marshal(&env)
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := msgpack.Unmarshal(data, &env)
	return env, err
}

// Options selects and configures a backend. Redis may be nil unless the
// redis driver is chosen.
type Options struct {
	Config config.BusConfig
	Redis  RedisClient
}

// New builds the backend selected by cfg.Driver.
func New(opts Options) (Bus, error) {
	switch opts.Config.Driver {
	case "", "local":
		return NewLocal(), nil
	case "redis":
		if opts.Redis == nil {
			return nil, fmt.Errorf("bus: redis driver selected but redis is unavailable")
		}
		return NewAsync(NewRedis(opts.Redis, opts.Config.Channel, opts.Config.NodeID), DefaultQueueSize, DefaultPublishTimeout), nil
	case "kafka":
		return NewKafka(opts.Config.KafkaBrokers, opts.Config.KafkaTopic, opts.Config.NodeID), nil
	default:
		return nil, fmt.Errorf("bus: unknown driver %q", opts.Config.Driver)
	}
}
