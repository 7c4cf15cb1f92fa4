// Package grpcclient pushes raw payloads to a unary gRPC method. Each call
// wraps the payload in a google.protobuf.BytesValue and expects
// google.protobuf.Empty back, so no service-specific descriptors are needed.
package grpcclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/torosent/databridge/internal/tracing"
)

const defaultTimeout = 30 * time.Second

// ErrClosed is returned by Invoke after Close.
var ErrClosed = errors.New("grpc client closed")

// Config describes the method a Client calls.
type Config struct {
	Target   string
	Service  string
	Method   string
	Metadata map[string]string
	// Timeout bounds each call. Defaults to 30s.
	Timeout time.Duration
	TLS     bool
	// SkipVerify disables server certificate checks when TLS is set.
	SkipVerify bool
}

// Stats are the running call counters of a Client. LastCode is only
// meaningful once Calls is non-zero.
type Stats struct {
	Calls     uint64
	BytesSent uint64
	Errors    uint64
	LastCode  codes.Code
}

// Client invokes one service method over a single connection.
type Client struct {
	fullMethod string
	md         metadata.MD
	timeout    time.Duration

	mu   sync.RWMutex
	conn *grpc.ClientConn

	calls     atomic.Uint64
	bytesSent atomic.Uint64
	errors    atomic.Uint64
	lastCode  atomic.Uint32
}

// Dial creates a client for cfg. The connection is established lazily, so
// an unreachable target surfaces on the first Invoke.
func Dial(cfg Config) (*Client, error) {
	if cfg.Service == "" || cfg.Method == "" {
		return nil, errors.New("service and method are required")
	}
	conn, err := grpc.NewClient(cfg.Target,
		grpc.WithTransportCredentials(transportCredentials(cfg)),
		grpc.WithUnaryInterceptor(propagateTrace),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", cfg.Target, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		fullMethod: "/" + cfg.Service + "/" + cfg.Method,
		md:         metadata.New(cfg.Metadata),
		timeout:    timeout,
		conn:       conn,
	}, nil
}

func transportCredentials(cfg Config) credentials.TransportCredentials {
	switch {
	case !cfg.TLS:
		return insecure.NewCredentials()
	case cfg.SkipVerify:
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})
	default:
		return credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
}

// propagateTrace adds the caller's trace context to the outgoing metadata.
func propagateTrace(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	tracing.InjectGRPCMetadata(ctx, md)
	return invoker(metadata.NewOutgoingContext(ctx, md), method, req, reply, cc, opts...)
}

// FullMethod returns the /service/method path the client calls.
func (c *Client) FullMethod() string {
	return c.fullMethod
}

// Invoke sends payload as one unary call.
func (c *Client) Invoke(ctx context.Context, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return ErrClosed
	}

	if len(c.md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, c.md)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.conn.Invoke(ctx, c.fullMethod, wrapperspb.Bytes(payload), &emptypb.Empty{})

	c.calls.Add(1)
	c.bytesSent.Add(uint64(len(payload)))
	c.lastCode.Store(uint32(status.Code(err)))
	if err != nil {
		c.errors.Add(1)
		return fmt.Errorf("invoke %s: %w", c.fullMethod, err)
	}
	return nil
}

// Stats returns the current counters.
func (c *Client) Stats() Stats {
	return Stats{
		Calls:     c.calls.Load(),
		BytesSent: c.bytesSent.Load(),
		Errors:    c.errors.Load(),
		LastCode:  codes.Code(c.lastCode.Load()),
	}
}

// Close releases the connection. Later calls are no-ops.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
