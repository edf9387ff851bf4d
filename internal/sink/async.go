package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AsyncConfig contains configuration for an Async sink.
type AsyncConfig struct {
	// BufferSize is the maximum number of messages waiting to be published.
	BufferSize int `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`

	// PublishRate is the maximum number of publish calls per second.
	PublishRate int `yaml:"publish_rate,omitempty" json:"publish_rate,omitempty"`

	// BatchSize is how many queued messages one publish call carries.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`

	// PublishTimeout bounds each publish call.
	PublishTimeout time.Duration `yaml:"publish_timeout,omitempty" json:"publish_timeout,omitempty"`

	// Filter selects the event types to forward. Nil forwards everything.
	Filter func(eventType string) bool `yaml:"-" json:"-"`
}

// DefaultAsyncConfig returns sensible defaults for an Async sink.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		BufferSize:     10000,
		PublishRate:    100,
		BatchSize:      50,
		PublishTimeout: 5 * time.Second,
	}
}

// Async is an events.Sink that queues encoded events in memory and drains
// them to a Publisher from a background goroutine.
type Async struct {
	publisher Publisher
	config    AsyncConfig
	logger    *zap.Logger

	queue chan Message

	mu      sync.RWMutex
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	published atomic.Int64
	dropped   atomic.Int64
}

// NewAsync creates an Async sink. Call Start to begin draining.
func NewAsync(publisher Publisher, config AsyncConfig, logger *zap.Logger) *Async {
	defaults := DefaultAsyncConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.PublishRate <= 0 {
		config.PublishRate = defaults.PublishRate
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{
		publisher: publisher,
		config:    config,
		logger:    logger,
		queue:     make(chan Message, config.BufferSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Emit encodes the event and enqueues it without blocking. Events are
// dropped, and counted, when the queue is full or the sink is closed.
func (a *Async) Emit(eventType string, payload any) {
	if a.config.Filter != nil && !a.config.Filter(eventType) {
		return
	}
	msg, err := Encode(eventType, payload)
	if err != nil {
		a.dropped.Add(1)
		a.logger.Warn("dropping unencodable event", zap.String("event", eventType), zap.Error(err))
		return
	}
	if err := a.Enqueue(msg); err != nil {
		a.dropped.Add(1)
		a.logger.Warn("dropping event", zap.String("event", eventType), zap.Error(err))
	}
}

// Enqueue adds an encoded message to the queue.
func (a *Async) Enqueue(msg Message) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start begins the drainer goroutine. It is a no-op when already started.
func (a *Async) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started || a.closed {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()

	go a.run(ctx)
}

// Close stops accepting events, drains what is queued until ctx expires and
// closes the publisher.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	started := a.started
	close(a.queue)
	a.mu.Unlock()

	if started {
		close(a.stopCh)
		select {
		case <-a.doneCh:
		case <-ctx.Done():
			a.logger.Warn("sink close timed out", zap.Int("pending", len(a.queue)))
		}
	}
	return a.publisher.Close()
}

// Published returns the number of messages delivered to the publisher.
func (a *Async) Published() int64 { return a.published.Load() }

// Dropped returns the number of events that were never queued or whose
// publish failed.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Pending returns the number of queued messages.
func (a *Async) Pending() int { return len(a.queue) }

func (a *Async) run(ctx context.Context) {
	defer close(a.doneCh)

	limiter := rate.NewLimiter(rate.Limit(a.config.PublishRate), 1)
	batch := make([]Message, 0, a.config.BatchSize)

	for {
		select {
		case msg, ok := <-a.queue:
			if !ok {
				return
			}
			batch = append(batch[:0], msg)
			batch = a.fill(batch)
			if err := limiter.Wait(ctx); err != nil {
				a.dropped.Add(int64(len(batch)))
				return
			}
			a.publish(ctx, batch)
		case <-ctx.Done():
			return
		case <-a.stopCh:
			a.drain(ctx, limiter, batch)
			return
		}
	}
}

// fill tops the batch up from the queue without blocking.
func (a *Async) fill(batch []Message) []Message {
	for len(batch) < a.config.BatchSize {
		select {
		case msg, ok := <-a.queue:
			if !ok {
				return batch
			}
			batch = append(batch, msg)
		default:
			return batch
		}
	}
	return batch
}

// drain publishes whatever remains in the closed queue.
func (a *Async) drain(ctx context.Context, limiter *rate.Limiter, batch []Message) {
	for {
		batch = a.fill(batch[:0])
		if len(batch) == 0 {
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			a.dropped.Add(int64(len(batch)))
			return
		}
		a.publish(ctx, batch)
	}
}

func (a *Async) publish(ctx context.Context, batch []Message) {
	pctx, cancel := context.WithTimeout(ctx, a.config.PublishTimeout)
	defer cancel()

	if err := a.publisher.Publish(pctx, batch...); err != nil {
		a.dropped.Add(int64(len(batch)))
		a.logger.Error("failed to publish events", zap.Int("count", len(batch)), zap.Error(err))
		return
	}
	a.published.Add(int64(len(batch)))
}
