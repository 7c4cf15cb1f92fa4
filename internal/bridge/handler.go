package bridge

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/databridge/internal/bus"
	"github.com/torosent/databridge/internal/config"
	"github.com/torosent/databridge/internal/forward"
)

// streamHandler owns the resources of one running stream.
type streamHandler struct {
	cfg       config.StreamConfig
	forwarder forward.Forwarder
	sub       bus.Subscription
	shadowed  bool

	forwarded atomic.Uint64
	bytes     atomic.Uint64
	failed    atomic.Uint64

	// failLog keeps a dead destination from flooding the log.
	failLog rate.Sometimes
}

func newStreamHandler(cfg config.StreamConfig, fwd forward.Forwarder) *streamHandler {
	return &streamHandler{
		cfg:       cfg,
		forwarder: fwd,
		failLog:   rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

func (h *streamHandler) destination() string {
	if h.cfg.Protocol == config.ProtocolGRPC {
		return h.cfg.GRPC.Service + "/" + h.cfg.GRPC.Method
	}
	return h.cfg.Address()
}

func (h *streamHandler) record(n int, err error) {
	if err != nil {
		h.failed.Add(1)
		return
	}
	h.forwarded.Add(1)
	h.bytes.Add(uint64(n))
}

func (h *streamHandler) logFailure(log *slog.Logger, err error) {
	h.failLog.Do(func() {
		log.Warn("forward failed",
			slog.String("topic", h.cfg.Topic),
			slog.String("destination", h.destination()),
			slog.Uint64("failures", h.failed.Load()),
			slog.Any("error", err))
	})
}

// close releases the subscription before the forwarder so no delivery can
// reach a closed socket.
func (h *streamHandler) close() error {
	var errs []error
	if h.sub != nil {
		errs = append(errs, h.sub.Close())
	}
	if h.forwarder != nil {
		errs = append(errs, h.forwarder.Close())
	}
	return errors.Join(errs...)
}
