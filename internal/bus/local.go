package bus

import (
	"context"
	"sync"

	"github.com/noteduco342/OMChat-backend/internal/metrics"
)

// Local delivers synchronously within the process.
type Local struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Publish(_ context.Context, env Envelope) error {
	l.mu.RLock()
	handlers := l.handlers
	l.mu.RUnlock()

	metrics.BusEvents.WithLabelValues("published").Inc()
	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, h Handler) error {
	l.mu.Lock()
	l.handlers = append(l.handlers, h)
	l.mu.Unlock()
	return nil
}

func (l *Local) Close() error {
	return nil
}
