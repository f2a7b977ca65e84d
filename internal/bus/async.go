package bus

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/noteduco342/OMChat-backend/internal/metrics"
)

const (
	DefaultQueueSize      = 1024
	DefaultPublishTimeout = 5 * time.Second
)

var (
	ErrQueueFull = errors.New("bus: publish queue full")
	ErrClosed    = errors.New("bus: closed")
)

// Async hands envelopes to a single background publisher so callers never
// wait on the network. Order is preserved; when the queue is full the
// envelope is dropped.
type Async struct {
	inner   Bus
	queue   chan Envelope
	timeout time.Duration

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewAsync(inner Bus, size int, timeout time.Duration) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	a := &Async{
		inner:   inner,
		queue:   make(chan Envelope, size),
		timeout: timeout,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish ignores ctx: the envelope outlives the request that produced it.
func (a *Async) Publish(_ context.Context, env Envelope) error {
	select {
	case <-a.stop:
		return ErrClosed
	default:
	}
	select {
	case a.queue <- env:
		return nil
	default:
		metrics.BusEvents.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

func (a *Async) Subscribe(ctx context.Context, h Handler) error {
	return a.inner.Subscribe(ctx, h)
}

// Close flushes what is queued, then closes the wrapped bus.
func (a *Async) Close() error {
	a.closeOnce.Do(func() { close(a.stop) })
	<-a.done
	return a.inner.Close()
}

func (a *Async) run() {
	defer close(a.done)
	for {
		select {
		case env := <-a.queue:
			a.send(env)
		case <-a.stop:
			for {
				select {
				case env := <-a.queue:
					a.send(env)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) send(env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.inner.Publish(ctx, env); err != nil {
		log.Printf("[bus] publish %s failed: %v", env.Type, err)
	}
}
