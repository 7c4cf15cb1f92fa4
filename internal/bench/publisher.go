package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/databridge/internal/bus"
	"github.com/torosent/databridge/internal/clock"
	"github.com/torosent/databridge/internal/config"
	"github.com/torosent/databridge/internal/forward"
	"github.com/torosent/databridge/internal/logging"
	"github.com/torosent/databridge/internal/metrics"
)

// ErrAlreadyRunning is returned by Start on a running publisher or receiver.
var ErrAlreadyRunning = errors.New("already running")

const (
	idleSleep     = 10 * time.Microsecond
	progressEvery = 1000
)

// sink is where a worker puts its messages.
type sink interface {
	Put(ctx context.Context, payload []byte) error
	Close() error
}

type busSink struct {
	session bus.Session
	pub     bus.Publisher
}

func (s *busSink) Put(ctx context.Context, payload []byte) error {
	return s.pub.Put(ctx, payload)
}

func (s *busSink) Close() error {
	return errors.Join(s.pub.Close(), s.session.Close())
}

type udpSink struct {
	fwd *forward.UDPForwarder
}

func (s *udpSink) Put(ctx context.Context, payload []byte) error {
	return s.fwd.Forward(ctx, payload)
}

func (s *udpSink) Close() error { return s.fwd.Close() }

// Publisher generates load at a fixed aggregate rate.
type Publisher struct {
	cfg    config.BenchmarkConfig
	opener bus.Opener
	stats  *metrics.Statistics
	log    *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPublisher creates a publisher. opener may be nil when cfg.UDPTarget is
// set. Every sent message is recorded in stats.
func NewPublisher(cfg config.BenchmarkConfig, opener bus.Opener, stats *metrics.Statistics, log *slog.Logger) *Publisher {
	if stats == nil {
		stats = metrics.NewStatistics()
	}
	return &Publisher{
		cfg:    cfg,
		opener: opener,
		stats:  stats,
		log:    logging.Component(log, "bench.publisher"),
	}
}

// Stats returns the statistics the publisher records into.
func (p *Publisher) Stats() *metrics.Statistics {
	return p.stats
}

// Start opens one sink per worker and launches the workers. Nothing is
// left running when a sink cannot be opened.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	if err := p.cfg.Validate(); err != nil {
		return err
	}
	if p.cfg.UDPTarget == "" && p.opener == nil {
		return errors.New("no bus configured")
	}

	sinks := make([]sink, 0, p.cfg.Publishers)
	for i := 0; i < p.cfg.Publishers; i++ {
		s, err := p.openSink(ctx)
		if err != nil {
			for _, opened := range sinks {
				_ = opened.Close()
			}
			return fmt.Errorf("publisher %d: %w", i, err)
		}
		sinks = append(sinks, s)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.running = true
	p.stats.Reset()

	perWorker := p.cfg.Rate / p.cfg.Publishers
	delay := time.Duration(1_000_000/perWorker) * time.Microsecond
	p.log.Info("benchmark started",
		slog.String("topic", p.cfg.Topic),
		slog.Int("publishers", p.cfg.Publishers),
		slog.Int("rate_per_publisher", perWorker),
		slog.Duration("interval", delay),
		slog.Int("message_size", p.cfg.MessageSize),
		slog.Bool("latency", p.cfg.MeasureLatency))

	var wg sync.WaitGroup
	for i, s := range sinks {
		wg.Add(1)
		go func(id int, s sink) {
			defer wg.Done()
			defer s.Close()
			p.run(runCtx, id, s, delay)
		}(i, s)
	}
	go func() {
		wg.Wait()
		cancel()
		p.stats.MarkEnd()
		p.mu.Lock()
		if p.done == done {
			p.running = false
		}
		p.mu.Unlock()
		close(done)
	}()
	return nil
}

func (p *Publisher) openSink(ctx context.Context) (sink, error) {
	if p.cfg.UDPTarget != "" {
		fwd, err := forward.NewUDP(p.cfg.UDPTarget)
		if err != nil {
			return nil, err
		}
		return &udpSink{fwd: fwd}, nil
	}
	session, err := p.opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open bus session: %w", err)
	}
	pub, err := session.Publisher(p.cfg.Topic)
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("declare publisher: %w", err)
	}
	return &busSink{session: session, pub: pub}, nil
}

// run sends on a catch-up schedule: a late worker sends back to back until
// it is on schedule again.
func (p *Publisher) run(ctx context.Context, id int, s sink, delay time.Duration) {
	log := p.log.With(slog.Int("publisher", id))
	failLog := rate.Sometimes{First: 3, Interval: 5 * time.Second}
	pattern := NewPayload(p.cfg.MessageSize)

	start := time.Now()
	next := start
	var sent, failed uint64
	log.Debug("publisher started")

	for ctx.Err() == nil {
		now := time.Now()
		if now.Sub(start) >= p.cfg.Duration {
			break
		}
		if now.Before(next) {
			time.Sleep(idleSleep)
			continue
		}

		// Transports may hold on to the slice after Put returns.
		msg := make([]byte, len(pattern))
		copy(msg, pattern)
		if p.cfg.MeasureLatency {
			Stamp(msg, clock.NowMicros())
		}

		if err := s.Put(ctx, msg); err != nil {
			if ctx.Err() != nil {
				break
			}
			failed++
			p.stats.RecordDrop()
			failLog.Do(func() {
				log.Warn("publish failed", slog.Uint64("failed", failed), slog.Any("error", err))
			})
		} else {
			sent++
			p.stats.RecordMessage(len(msg), 0)
			if p.cfg.Verbose && sent%progressEvery == 0 {
				log.Info("progress", slog.Uint64("sent", sent))
			}
		}
		next = next.Add(delay)
	}

	log.Info("publisher finished", slog.Uint64("sent", sent), slog.Uint64("failed", failed))
}

// Wait blocks until every worker has finished.
func (p *Publisher) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stop cancels the workers and waits for them. The statistics window is
// closed when the last worker exits. Stop is safe to call repeatedly.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}
