package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub. Zero values pick the
// defaults below.
type Config struct {
	// BufferSize bounds events queued between Emit and the batching loop.
	BufferSize int
	// MaxBatchEvents flushes as soon as this many events are pending.
	MaxBatchEvents int
	// MaxBatchWait flushes a non-empty batch after this long.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	// BaseContext parents sink calls.
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Stats counts events seen by a Hub.
type Stats struct {
	Accepted   int64
	Dropped    int64
	Delivered  int64
	SinkErrors int64
}

// Hub batches research lifecycle events and hands them to every sink from a
// single goroutine. Emit never blocks. A request's terminal event flushes the
// pending batch at once so run history is visible as soon as a request ends.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	accepted    atomic.Int64
	dropped     atomic.Int64
	delivered   atomic.Int64
	sinkErrors  atomic.Int64
	lastDropLog atomic.Int64
	closing     atomic.Bool

	stopOnce sync.Once
	drainCtx context.Context
}

// NewHub starts the batching loop over the given sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		events: make(chan Event, cfg.BufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: cfg.Logger,
	}
	for _, sink := range sinks {
		if sink != nil {
			h.sinks = append(h.sinks, sink)
		}
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events are discarded; events arriving while the
// buffer is full or after Close are counted as dropped.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event",
			zap.String("request_id", evt.RequestID),
			zap.Error(err),
		)
		return
	}
	if h.closing.Load() {
		h.dropped.Add(1)
		return
	}
	select {
	case h.events <- evt:
		h.accepted.Add(1)
	default:
		h.drop()
	}
}

// Stats returns a snapshot of the hub's counters.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Accepted:   h.accepted.Load(),
		Dropped:    h.dropped.Load(),
		Delivered:  h.delivered.Load(),
		SinkErrors: h.sinkErrors.Load(),
	}
}

// Close stops accepting events, flushes what is queued, closes the sinks and
// waits for the loop to exit or ctx to end. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.stopOnce.Do(func() {
		h.closing.Store(true)
		h.drainCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		stats := h.Stats()
		h.logger.Info("progress hub closed",
			zap.Int64("accepted", stats.Accepted),
			zap.Int64("delivered", stats.Delivered),
			zap.Int64("dropped", stats.Dropped),
			zap.Int64("sink_errors", stats.SinkErrors),
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)

	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		deadline *time.Timer
		fire     <-chan time.Time
	)
	flush := func() {
		if deadline != nil {
			deadline.Stop()
		}
		fire = nil
		h.deliver(pending)
		pending = pending[:0]
	}

	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			switch {
			case len(pending) >= h.cfg.MaxBatchEvents, evt.Stage.Terminal():
				flush()
			case fire == nil:
				if deadline == nil {
					deadline = time.NewTimer(h.cfg.MaxBatchWait)
				} else {
					deadline.Reset(h.cfg.MaxBatchWait)
				}
				fire = deadline.C
			}
		case <-fire:
			flush()
		case <-h.quit:
			if deadline != nil {
				deadline.Stop()
			}
			h.drain(pending)
			return
		}
	}
}

// drain delivers everything still buffered, then closes the sinks.
func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.deliver(pending)
				pending = pending[:0]
			}
		default:
			h.deliver(pending)
			for _, sink := range h.sinks {
				if err := sink.Close(h.drainCtx); err != nil {
					h.logger.Warn("progress sink close failed",
						zap.String("sink", sinkName(sink)),
						zap.Error(err),
					)
				}
			}
			return
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	snapshot := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if err := h.consume(sink, snapshot); err != nil {
			h.sinkErrors.Add(1)
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", sinkName(sink)),
				zap.Int("events", len(snapshot)),
				zap.Error(err),
			)
		}
	}
	h.delivered.Add(int64(len(snapshot)))
}

func (h *Hub) consume(sink Sink, batch []Event) (err error) {
	ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Consume(ctx, batch)
}

// drop counts a rejected event and logs at most once per dropLogInterval.
func (h *Hub) drop() {
	total := h.dropped.Add(1)
	now := time.Now().UnixNano()
	last := h.lastDropLog.Load()
	if now-last < dropLogInterval.Nanoseconds() || !h.lastDropLog.CompareAndSwap(last, now) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped_total", total))
}

func sinkName(sink Sink) string {
	return fmt.Sprintf("%T", sink)
}
