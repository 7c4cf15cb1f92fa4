// Package bustest starts in-process brokers for tests that exercise the
// networked bus transports.
package bustest

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	natstest "github.com/nats-io/nats-server/v2/test"
)

// RunNATS starts a NATS server on a random port and returns its client URL.
// The server is shut down when the test ends.
func RunNATS(t testing.TB) string {
	t.Helper()
	srv := natstest.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

// RunMQTT starts an MQTT broker on a loopback port and returns its
// tcp:// URL once it accepts connections.
func RunMQTT(t testing.TB) string {
	t.Helper()
	addr := freeAddr(t)

	server := mqttserver.New(&mqttserver.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("mqtt allow hook: %v", err)
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})); err != nil {
		t.Fatalf("mqtt listener: %v", err)
	}
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(func() { _ = server.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("mqtt broker on %s not reachable: %v", addr, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "tcp://" + addr
}

func freeAddr(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("pick port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}
