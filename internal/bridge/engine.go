package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/databridge/internal/bus"
	"github.com/torosent/databridge/internal/config"
	"github.com/torosent/databridge/internal/forward"
	"github.com/torosent/databridge/internal/logging"
	"github.com/torosent/databridge/internal/tracing"
)

var (
	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("bridge already running")
	// ErrNoStreams is returned by Start when no stream could be initialised.
	ErrNoStreams = errors.New("no streams initialised")
)

// ForwarderFactory builds the forwarder of a stream.
type ForwarderFactory func(config.StreamConfig) (forward.Forwarder, error)

// Options configure an Engine. Zero values are usable.
type Options struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
	// StatsInterval enables a periodic per-stream counter log line.
	StatsInterval time.Duration
	NewForwarder  ForwarderFactory
}

// Engine runs one forwarding pipeline per configured stream.
type Engine struct {
	opener       bus.Opener
	streams      []config.StreamConfig
	log          *slog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
	statsEvery   time.Duration
	newForwarder ForwarderFactory

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex

	// mu guards the fields below. Dispatch holds it for reading across a
	// forward so Stop cannot release a handler in use.
	mu       sync.RWMutex
	running  bool
	session  bus.Session
	handlers []*streamHandler
	byTopic  map[string]*streamHandler

	statsCancel context.CancelFunc
	statsDone   chan struct{}
}

// New creates a stopped engine. Streams are initialised in order.
func New(opener bus.Opener, streams []config.StreamConfig, opts Options) *Engine {
	log := logging.Component(opts.Logger, "bridge")
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("databridge")
	}
	newForwarder := opts.NewForwarder
	if newForwarder == nil {
		fwdLog := opts.Logger
		newForwarder = func(s config.StreamConfig) (forward.Forwarder, error) {
			return forward.New(s, forward.Options{Logger: fwdLog})
		}
	}
	return &Engine{
		opener:       opener,
		streams:      append([]config.StreamConfig(nil), streams...),
		log:          log,
		metrics:      metrics,
		tracer:       tracer,
		statsEvery:   opts.StatsInterval,
		newForwarder: newForwarder,
	}
}

// Start opens a bus session and initialises every stream independently. A
// stream that fails is logged and skipped. Start fails only when the
// session cannot be opened or no stream succeeds; nothing is retained then.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.Running() {
		return ErrAlreadyRunning
	}

	session, err := e.opener.Open(ctx)
	if err != nil {
		return fmt.Errorf("open bus session: %w", err)
	}

	var (
		handlers []*streamHandler
		byTopic  = make(map[string]*streamHandler)
		errs     []error
	)
	for i, stream := range e.streams {
		h, err := e.initStream(ctx, session, stream)
		if err != nil {
			e.log.Error("stream initialisation failed",
				slog.Int("index", i),
				slog.String("topic", stream.Topic),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("stream %d (%s): %w", i, stream.Topic, err))
			continue
		}
		if first, dup := byTopic[stream.Topic]; dup {
			h.shadowed = true
			e.log.Warn("duplicate topic, stream will not receive traffic",
				slog.String("topic", stream.Topic),
				slog.String("destination", h.destination()),
				slog.String("active_destination", first.destination()))
		} else {
			byTopic[stream.Topic] = h
		}
		handlers = append(handlers, h)
		e.log.Info("stream started",
			slog.String("topic", stream.Topic),
			slog.String("protocol", string(stream.Protocol)),
			slog.String("destination", h.destination()))
	}

	if len(handlers) == 0 {
		if cerr := session.Close(); cerr != nil {
			e.log.Warn("closing bus session", slog.Any("error", cerr))
		}
		if len(errs) == 0 {
			return ErrNoStreams
		}
		return fmt.Errorf("%w: %w", ErrNoStreams, errors.Join(errs...))
	}

	e.mu.Lock()
	e.session = session
	e.handlers = handlers
	e.byTopic = byTopic
	e.running = true
	e.mu.Unlock()

	e.metrics.setActiveStreams(len(handlers))
	e.startStatsLoop()
	e.log.Info("bridge running",
		slog.Int("active_streams", len(handlers)),
		slog.Int("configured_streams", len(e.streams)))
	return nil
}

func (e *Engine) initStream(ctx context.Context, session bus.Session, stream config.StreamConfig) (*streamHandler, error) {
	if err := stream.Validate(); err != nil {
		return nil, err
	}
	fwd, err := e.newForwarder(stream)
	if err != nil {
		return nil, fmt.Errorf("create forwarder: %w", err)
	}
	h := newStreamHandler(stream, fwd)

	sub, err := session.Subscribe(ctx, stream.Topic, func(ctx context.Context, s bus.Sample) {
		e.dispatch(ctx, h, s)
	}, func() {
		e.log.Warn("subscription ended by the bus", slog.String("topic", stream.Topic))
	})
	if err != nil {
		_ = fwd.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	h.sub = sub
	return h, nil
}

// dispatch forwards a sample to the first stream registered for its topic.
// via is the stream whose subscription delivered the sample; deliveries
// through a shadowed duplicate are ignored so each message goes out once.
func (e *Engine) dispatch(ctx context.Context, via *streamHandler, s bus.Sample) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running {
		return
	}
	h, ok := e.byTopic[s.Topic]
	if !ok {
		e.metrics.recordUnmatched()
		return
	}
	if h != via {
		return
	}

	ctx, span := tracing.StartForwardSpan(ctx, e.tracer, s.Topic, string(h.cfg.Protocol), h.destination(), len(s.Payload))
	err := h.forwarder.Forward(ctx, s.Payload)
	tracing.EndSpan(span, err)

	h.record(len(s.Payload), err)
	e.metrics.recordForward(s.Topic, len(s.Payload), err)
	if err != nil {
		h.logFailure(e.log, err)
	}
}

// Stop releases every stream and the bus session. It is a no-op when the
// engine is not running.
func (e *Engine) Stop() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	handlers := e.handlers
	session := e.session
	e.handlers = nil
	e.byTopic = nil
	e.session = nil
	e.mu.Unlock()

	e.stopStatsLoop()

	var errs []error
	for _, h := range handlers {
		if err := h.close(); err != nil {
			errs = append(errs, fmt.Errorf("stream %s: %w", h.cfg.Topic, err))
		}
	}
	if session != nil {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bus session: %w", err))
		}
	}

	e.metrics.setActiveStreams(0)
	e.logTotals(handlers, "bridge stopped")
	return errors.Join(errs...)
}

// Close stops the engine.
func (e *Engine) Close() error {
	return e.Stop()
}

// Running reports whether the engine is forwarding.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// ActiveStreams returns the number of streams holding a live subscription,
// shadowed duplicates included.
func (e *Engine) ActiveStreams() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

// Topics returns the topics of the active streams in start order.
func (e *Engine) Topics() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	topics := make([]string, len(e.handlers))
	for i, h := range e.handlers {
		topics[i] = h.cfg.Topic
	}
	return topics
}

// StreamStats is the running total of one stream.
type StreamStats struct {
	Topic       string
	Destination string
	Forwarded   uint64
	Bytes       uint64
	Failed      uint64
	Shadowed    bool
}

// Stats returns per-stream totals in start order.
func (e *Engine) Stats() []StreamStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return collectStats(e.handlers)
}

func collectStats(handlers []*streamHandler) []StreamStats {
	stats := make([]StreamStats, len(handlers))
	for i, h := range handlers {
		stats[i] = StreamStats{
			Topic:       h.cfg.Topic,
			Destination: h.destination(),
			Forwarded:   h.forwarded.Load(),
			Bytes:       h.bytes.Load(),
			Failed:      h.failed.Load(),
			Shadowed:    h.shadowed,
		}
	}
	return stats
}

func (e *Engine) startStatsLoop() {
	if e.statsEvery <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.statsCancel = cancel
	e.statsDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.statsEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, st := range e.Stats() {
					if st.Shadowed {
						continue
					}
					e.log.Info("stream stats",
						slog.String("topic", st.Topic),
						slog.Uint64("forwarded", st.Forwarded),
						slog.Uint64("bytes", st.Bytes),
						slog.Uint64("failed", st.Failed))
				}
			}
		}
	}()
}

func (e *Engine) stopStatsLoop() {
	if e.statsCancel == nil {
		return
	}
	e.statsCancel()
	<-e.statsDone
	e.statsCancel = nil
	e.statsDone = nil
}

func (e *Engine) logTotals(handlers []*streamHandler, msg string) {
	var forwarded, failed uint64
	for _, st := range collectStats(handlers) {
		forwarded += st.Forwarded
		failed += st.Failed
	}
	e.log.Info(msg,
		slog.Int("streams", len(handlers)),
		slog.Uint64("forwarded", forwarded),
		slog.Uint64("failed", failed))
}
