package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/torosent/databridge/internal/clock"
	"github.com/torosent/databridge/internal/logging"
	"github.com/torosent/databridge/internal/metrics"
)

// maxDatagram is the largest UDP payload the receiver reads in one go.
const maxDatagram = 65536

// Receiver counts datagrams arriving on a local UDP port.
type Receiver struct {
	port  int
	stats *metrics.Statistics
	log   *slog.Logger

	mu      sync.Mutex
	running bool
	conn    net.PacketConn
	done    chan struct{}
}

// NewReceiver creates a receiver for port. Port 0 picks a free port on
// Start.
func NewReceiver(port int, stats *metrics.Statistics, log *slog.Logger) *Receiver {
	if stats == nil {
		stats = metrics.NewStatistics()
	}
	return &Receiver{
		port:  port,
		stats: stats,
		log:   logging.Component(log, "bench.receiver"),
	}
}

// Stats returns the statistics the receiver records into.
func (r *Receiver) Stats() *metrics.Statistics {
	return r.stats
}

// Start binds the port and begins counting. The statistics window opens
// when the socket is ready.
func (r *Receiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}

	lc := net.ListenConfig{Control: reuseAddr}
	addr := net.JoinHostPort("", strconv.Itoa(r.port))
	conn, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return fmt.Errorf("bind udp %s: %w", addr, err)
	}

	r.conn = conn
	r.done = make(chan struct{})
	r.running = true
	r.stats.Reset()
	r.log.Info("receiver listening", slog.String("addr", conn.LocalAddr().String()))

	go r.readLoop(conn, r.done)
	return nil
}

func (r *Receiver) readLoop(conn net.PacketConn, done chan struct{}) {
	defer close(done)
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Warn("read failed", slog.Any("error", err))
			continue
		}
		now := clock.NowMicros()

		var latency float64
		if sent, ok := ReadStamp(buf[:n]); ok {
			latency = clock.LatencyMs(sent, now)
		}
		r.stats.RecordMessage(n, latency)
	}
}

// Addr returns the bound address, or nil when the receiver is stopped.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Stop closes the socket, waits for the read loop and closes the
// statistics window. Stop is safe to call repeatedly.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	conn, done := r.conn, r.done
	r.conn = nil
	r.mu.Unlock()

	err := conn.Close()
	<-done
	r.stats.MarkEnd()
	r.log.Info("receiver stopped", slog.Uint64("messages", r.stats.TotalMessages()))
	return err
}
