// Package forward delivers bridged payloads to a local destination. The
// protocol of a stream picks the Forwarder implementation.
package forward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/torosent/databridge/internal/config"
	"github.com/torosent/databridge/internal/grpcclient"
	"github.com/torosent/databridge/internal/logging"
)

var (
	// ErrShortWrite means the socket accepted fewer bytes than the payload.
	ErrShortWrite = errors.New("short write")
	// ErrGRPCNotImplemented is returned by gRPC forwarders without an invoker.
	ErrGRPCNotImplemented = errors.New("grpc forwarding not implemented")
	// ErrUnsupportedProtocol is returned by New for unknown protocols.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

// Forwarder sends one payload to its destination. Implementations are safe
// for concurrent use.
type Forwarder interface {
	Forward(ctx context.Context, payload []byte) error
	Close() error
}

// Invoker performs a unary call with the raw payload.
type Invoker interface {
	Invoke(ctx context.Context, payload []byte) error
	Close() error
}

// Options tune New.
type Options struct {
	Logger *slog.Logger
	// Invoker backs gRPC forwarders. When nil a gRPC forwarder only logs
	// and fails.
	Invoker Invoker
}

// New builds the Forwarder for stream.
func New(stream config.StreamConfig, opts Options) (Forwarder, error) {
	log := logging.Component(opts.Logger, "forward").With(slog.String("topic", stream.Topic))
	switch stream.Protocol {
	case config.ProtocolUDP:
		return NewUDP(stream.Address())
	case config.ProtocolGRPC:
		invoker := opts.Invoker
		if invoker == nil && stream.GRPC.Invoke {
			client, err := dialInvoker(stream)
			if err != nil {
				return nil, err
			}
			invoker = client
		}
		return &GRPCForwarder{
			service: stream.GRPC.Service,
			method:  stream.GRPC.Method,
			invoker: invoker,
			log:     log,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, stream.Protocol)
	}
}

func dialInvoker(stream config.StreamConfig) (*grpcclient.Client, error) {
	client, err := grpcclient.Dial(grpcclient.Config{
		Target:     stream.Address(),
		Service:    stream.GRPC.Service,
		Method:     stream.GRPC.Method,
		Metadata:   stream.GRPC.Metadata,
		Timeout:    stream.GRPC.Timeout,
		TLS:        stream.GRPC.TLS,
		SkipVerify: stream.GRPC.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("grpc client for %s: %w", stream.Topic, err)
	}
	return client, nil
}
