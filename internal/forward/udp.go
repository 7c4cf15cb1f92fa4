package forward

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
)

// UDPForwarder sends each payload as a single datagram from its own IPv4
// socket. Datagrams are never retried or split.
type UDPForwarder struct {
	conn   *net.UDPConn
	dest   *net.UDPAddr
	closed atomic.Bool
}

// NewUDP opens a socket and resolves address once up front.
func NewUDP(address string) (*UDPForwarder, error) {
	dest, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", err)
	}
	return &UDPForwarder{conn: conn, dest: dest}, nil
}

// Forward writes payload in one datagram.
func (f *UDPForwarder) Forward(_ context.Context, payload []byte) error {
	n, err := f.conn.WriteToUDP(payload, f.dest)
	if err != nil {
		return fmt.Errorf("send to %s: %w", f.dest, err)
	}
	if n != len(payload) {
		return fmt.Errorf("send to %s: %w (%d of %d bytes)", f.dest, ErrShortWrite, n, len(payload))
	}
	return nil
}

// Destination returns the resolved destination address.
func (f *UDPForwarder) Destination() *net.UDPAddr {
	return f.dest
}

// Close releases the socket. Further calls are no-ops.
func (f *UDPForwarder) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	return f.conn.Close()
}
