package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/logging"
)

// Consumer receives batches of events mirrored by the Hub. Implementations
// must honor ctx deadlines and tolerate repeated calls.
type Consumer interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Config tunes the Hub. Zero values take the defaults below.
type Config struct {
	// BufferSize is the capacity of the event channel. Emit drops events
	// once it is full.
	BufferSize int
	// MaxBatchEvents flushes a batch early once it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait bounds how long the first event of a batch waits.
	MaxBatchWait time.Duration
	// ConsumerTimeout applies to each Consume call.
	ConsumerTimeout time.Duration
	// BaseContext parents consumer calls. It should outlive request contexts.
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize      = 1024
	defaultMaxBatchEvents  = 256
	defaultMaxBatchWait    = 250 * time.Millisecond
	defaultConsumerTimeout = 5 * time.Second
	dropLogInterval        = 5 * time.Second
)

// Hub mirrors events from every job to registered consumers. It implements
// Sink, is safe for concurrent use and never blocks callers, so it can sit
// next to a ConnectionSink in a Tee without slowing delivery to clients.
type Hub struct {
	cfg         Config
	consumers   []Consumer
	events      chan Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub initializes a Hub and starts the background batching goroutine using
// the supplied consumers. The returned Hub is immediately ready to accept events.
func NewHub(cfg Config, consumers ...Consumer) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.ConsumerTimeout <= 0 {
		cfg.ConsumerTimeout = defaultConsumerTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := logging.OrNop(cfg.Logger)
	h := &Hub{
		cfg:         cfg,
		consumers:   append([]Consumer(nil), consumers...),
		events:      make(chan Event, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit implements Sink. Events are stamped, validated and queued without
// blocking; overflow is counted and reported at most once per dropLogInterval.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now()
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event",
			zap.String("type", string(evt.Type)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		return
	default:
	}
	h.dropped.Add(1)
	if h.dropLimiter.Allow(time.Now()) {
		h.logger.Warn("progress hub full, events dropped",
			zap.Int64("dropped", h.dropped.Swap(0)),
			zap.Int("buffer_size", h.cfg.BufferSize))
	}
}

// Close stops intake, flushes what is queued, closes consumers and waits for
// the batching goroutine. Only the first call's ctx is used for closing
// consumers; every call waits on its own ctx.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-ctx.Done():
		return fmt.Errorf("close progress hub: %w", ctx.Err())
	case <-h.doneCh:
		return nil
	}
}

// run owns the pending batch. A batch is flushed when it reaches
// MaxBatchEvents, when MaxBatchWait has passed since its first event, or on
// stop after the channel is drained.
func (h *Hub) run() {
	defer close(h.doneCh)
	var (
		pending  = make([]Event, 0, h.cfg.MaxBatchEvents)
		deadline <-chan time.Time
		timer    *time.Timer
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, deadline = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		h.deliver(pending)
		pending = pending[:0]
	}

	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				flush()
			} else if timer == nil {
				timer = time.NewTimer(h.cfg.MaxBatchWait)
				deadline = timer.C
			}
		case <-deadline:
			timer, deadline = nil, nil
			flush()
		case <-h.stopCh:
			for drained := false; !drained; {
				select {
				case evt := <-h.events:
					pending = append(pending, evt)
					if len(pending) >= h.cfg.MaxBatchEvents {
						flush()
					}
				default:
					drained = true
				}
			}
			flush()
			h.closeConsumers()
			return
		}
	}
}

// deliver hands each consumer its own copy of batch under ConsumerTimeout.
func (h *Hub) deliver(batch []Event) {
	for _, consumer := range h.consumers {
		if consumer == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.ConsumerTimeout)
		err := consumer.Consume(ctx, append([]Event(nil), batch...))
		cancel()
		if err != nil {
			h.logger.Warn("progress consumer failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
	}
}

func (h *Hub) closeConsumers() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, consumer := range h.consumers {
		if consumer == nil {
			continue
		}
		if err := consumer.Close(ctx); err != nil {
			h.logger.Warn("progress consumer close failed", zap.Error(err))
		}
	}
}

// rateLimiter admits at most one call per interval.
type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	prev := r.last.Load()
	if prev != 0 && now.UnixNano()-prev < int64(r.interval) {
		return false
	}
	return r.last.CompareAndSwap(prev, now.UnixNano())
}
