package forward

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/torosent/databridge/internal/config"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readDatagram(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, 65536)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read datagram: %v", err)
	}
	return buf[:n]
}

func udpStream(port int) config.StreamConfig {
	return config.StreamConfig{Topic: "t", Protocol: config.ProtocolUDP, Host: "127.0.0.1", Port: port}
}

func TestUDPForwardDeliversExactBytes(t *testing.T) {
	dst := listenUDP(t)
	fwd, err := New(udpStream(dst.LocalAddr().(*net.UDPAddr).Port), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer fwd.Close()

	payloads := [][]byte{
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 1024),
		{0, 0, 0, 0, 0, 0, 0, 0, 1},
	}
	for _, p := range payloads {
		if err := fwd.Forward(context.Background(), p); err != nil {
			t.Fatalf("Forward() error = %v", err)
		}
		if got := readDatagram(t, dst); !bytes.Equal(got, p) {
			t.Errorf("expected %d bytes %x..., got %d bytes", len(p), p[:1], len(got))
		}
	}
}

func TestUDPForwardAfterClose(t *testing.T) {
	dst := listenUDP(t)
	fwd, err := NewUDP(dst.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewUDP() error = %v", err)
	}
	if fwd.Destination().Port != dst.LocalAddr().(*net.UDPAddr).Port {
		t.Errorf("unexpected destination %v", fwd.Destination())
	}
	if err := fwd.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := fwd.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := fwd.Forward(context.Background(), []byte("x")); err == nil {
		t.Error("expected error forwarding on a closed socket")
	}
}

func TestUDPForwardOversizedDatagramFails(t *testing.T) {
	dst := listenUDP(t)
	fwd, err := NewUDP(dst.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewUDP() error = %v", err)
	}
	defer fwd.Close()
	if err := fwd.Forward(context.Background(), make([]byte, 70000)); err == nil {
		t.Error("expected error for payload above the datagram limit")
	}
}

func TestNewUDPResolveFailure(t *testing.T) {
	if _, err := NewUDP("not-a-host-port"); err == nil {
		t.Error("expected resolve error")
	}
}

func TestGRPCForwarderWithoutInvoker(t *testing.T) {
	stream := config.StreamConfig{
		Topic:    "robot/cmd",
		Protocol: config.ProtocolGRPC,
		Host:     "127.0.0.1",
		Port:     50051,
		GRPC:     config.GRPCConfig{Service: "robot.Control", Method: "Push"},
	}
	fwd, err := New(stream, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer fwd.Close()

	if err := fwd.Forward(context.Background(), []byte("cmd")); !errors.Is(err, ErrGRPCNotImplemented) {
		t.Errorf("expected ErrGRPCNotImplemented, got %v", err)
	}
}

type fakeInvoker struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
	closed   bool
}

func (f *fakeInvoker) Invoke(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return f.err
}

func (f *fakeInvoker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestGRPCForwarderWithInvoker(t *testing.T) {
	inv := &fakeInvoker{}
	stream := config.StreamConfig{Topic: "a", Protocol: config.ProtocolGRPC, Port: 1, GRPC: config.GRPCConfig{Service: "s", Method: "m"}}
	fwd, err := New(stream, Options{Invoker: inv})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := fwd.Forward(context.Background(), []byte("payload")); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	inv.err = errors.New("boom")
	if err := fwd.Forward(context.Background(), []byte("again")); err == nil || !strings.Contains(err.Error(), "s/m") {
		t.Errorf("expected wrapped invoke error, got %v", err)
	}
	if err := fwd.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(inv.payloads) != 2 || !inv.closed {
		t.Errorf("unexpected invoker state %+v", inv)
	}
}

func TestGRPCForwarderInvokesService(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	received := make(chan []byte, 1)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ interface{}, stream grpc.ServerStream) error {
		var in wrapperspb.BytesValue
		if err := stream.RecvMsg(&in); err != nil {
			return err
		}
		received <- in.GetValue()
		return stream.SendMsg(&emptypb.Empty{})
	}))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	port := lis.Addr().(*net.TCPAddr).Port
	stream := config.StreamConfig{
		Topic:    "robot/cmd",
		Protocol: config.ProtocolGRPC,
		Host:     "127.0.0.1",
		Port:     port,
		GRPC:     config.GRPCConfig{Service: "robot.Control", Method: "Push", Invoke: true, Timeout: 5 * time.Second},
	}
	fwd, err := New(stream, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer fwd.Close()

	if err := fwd.Forward(context.Background(), []byte("go")); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	select {
	case got := <-received:
		if string(got) != "go" {
			t.Errorf("expected payload go, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the call")
	}
}

func TestNewUnsupportedProtocol(t *testing.T) {
	_, err := New(config.StreamConfig{Topic: "a", Protocol: "tcp", Host: "h", Port: 1}, Options{})
	if !errors.Is(err, ErrUnsupportedProtocol) {
		t.Errorf("expected ErrUnsupportedProtocol, got %v", err)
	}
}
