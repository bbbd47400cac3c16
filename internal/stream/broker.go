package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Handler consumes one event. Returning an error requests redelivery;
// after the attempt budget is spent the event goes to the dead-letter
// sink instead of being dropped.
type Handler func(ctx context.Context, event Event) error

// DeadLetterSink receives events that exhausted their redelivery budget.
type DeadLetterSink interface {
	Consign(ctx context.Context, event Event, cause error)
}

type BrokerConfig struct {
	BufferSize  int
	MaxAttempts int
	RetryDelay  time.Duration
	Workers     int
}

// Broker is an in-process change-stream dispatcher with at-least-once
// semantics. Events are fanned out to every subscribed handler; there is
// no ordering guarantee across keys and duplicates are possible when a
// handler fails partway through.
type Broker struct {
	cfg      BrokerConfig
	ch       chan Event
	quit     chan struct{}
	mu       sync.RWMutex
	handlers []Handler
	sink     DeadLetterSink
	seq      atomic.Uint64
	wg       sync.WaitGroup

	// pubMu serializes Close against in-flight Publish calls. Publishers
	// hold the read side for the whole send, so once Close takes the
	// write side no goroutine can still be sending on ch.
	pubMu   sync.RWMutex
	closed  bool
	closing atomic.Bool
}

func NewBroker(cfg BrokerConfig, sink DeadLetterSink) *Broker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Broker{
		cfg:  cfg,
		ch:   make(chan Event, cfg.BufferSize),
		quit: make(chan struct{}),
		sink: sink,
	}
}

func (b *Broker) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues an event for delivery. It blocks when the buffer is
// full rather than dropping the event; a concurrent Close unblocks it
// with an error instead of panicking under it.
func (b *Broker) Publish(ctx context.Context, event Event) error {
	b.pubMu.RLock()
	defer b.pubMu.RUnlock()
	if b.closed {
		return fmt.Errorf("stream broker closed")
	}
	event.Seq = b.seq.Add(1)
	select {
	case b.ch <- event:
		return nil
	case <-b.quit:
		return fmt.Errorf("stream broker closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) Start(ctx context.Context) {
	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
}

// Close stops accepting events, drains the buffer, and waits for
// in-flight deliveries.
func (b *Broker) Close() {
	if !b.closing.CompareAndSwap(false, true) {
		return
	}
	// Wake publishers blocked on a full buffer, then wait them all out
	// before closing the channel they were sending on.
	close(b.quit)
	b.pubMu.Lock()
	b.closed = true
	b.pubMu.Unlock()
	close(b.ch)
	b.wg.Wait()
}

func (b *Broker) worker(ctx context.Context) {
	defer b.wg.Done()
	for event := range b.ch {
		b.deliver(ctx, event)
	}
}

func (b *Broker) deliver(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	logger := logutil.GetLogger(ctx).With(
		zap.Uint64("seq", event.Seq),
		zap.String("kind", string(event.Kind)),
		zap.String("tenant_id", event.TenantID),
		zap.String("file_id", event.FileID),
	)
	for _, handler := range handlers {
		event.Attempts = 0
		var lastErr error
		for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
			event.Attempts = attempt
			lastErr = handler(ctx, event)
			if lastErr == nil {
				break
			}
			logger.Warn("event delivery failed",
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			if attempt == b.cfg.MaxAttempts {
				break
			}
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = b.cfg.MaxAttempts
			case <-time.After(b.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		if lastErr != nil {
			logger.Error("event delivery exhausted, sending to dead letter", zap.Error(lastErr))
			if b.sink != nil {
				b.sink.Consign(ctx, event, lastErr)
			}
		}
	}
}
