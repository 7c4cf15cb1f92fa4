// Package bus is the narrow pub/sub surface the bridge and the benchmark
// publisher talk to. A Session is opened once per process (or per
// publisher worker) and hands out subscriptions and publishers for
// individual topics.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/torosent/databridge/internal/config"
	"github.com/torosent/databridge/internal/logging"
)

// ErrClosed is returned when a closed session is used.
var ErrClosed = errors.New("bus session closed")

// Sample is one message received from the bus.
type Sample struct {
	Topic   string
	Payload []byte
}

// Handler receives samples. It is called from a transport goroutine and
// must not retain the payload after returning.
type Handler func(ctx context.Context, s Sample)

// Subscription is a live subscriber on one topic. Close blocks until the
// handler is no longer running.
type Subscription interface {
	Topic() string
	Close() error
}

// Publisher puts payloads on one topic.
type Publisher interface {
	Put(ctx context.Context, payload []byte) error
	Close() error
}

// Session is an open connection to the bus.
type Session interface {
	// Subscribe registers handler for topic. onDrop, if non-nil, is called
	// once when the transport ends the subscription without Close.
	Subscribe(ctx context.Context, topic string, handler Handler, onDrop func()) (Subscription, error)
	Publisher(topic string) (Publisher, error)
	Close() error
}

// Opener opens sessions on a configured bus.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// NewOpener returns the Opener for cfg.Transport.
func NewOpener(cfg config.BusConfig, log *slog.Logger) (Opener, error) {
	log = logging.Component(log, "bus")
	switch cfg.Transport {
	case config.TransportChannel:
		return NewChannelOpener(log), nil
	case config.TransportNATS:
		return &natsOpener{cfg: cfg, log: log}, nil
	case config.TransportMQTT:
		return &mqttOpener{cfg: cfg, log: log}, nil
	default:
		return nil, fmt.Errorf("unsupported bus transport %q", cfg.Transport)
	}
}

// logOpen records the session role. Transports here connect as clients
// regardless of mode; the role is kept for operators reading the logs.
func logOpen(log *slog.Logger, cfg config.BusConfig, endpoint string) {
	mode := cfg.Mode
	if mode == "" {
		mode = config.BusModeClient
	}
	log.Info("bus session opened",
		slog.String("transport", string(cfg.Transport)),
		slog.String("mode", string(mode)),
		slog.String("endpoint", endpoint))
}
