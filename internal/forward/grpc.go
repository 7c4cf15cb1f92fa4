package forward

import (
	"context"
	"fmt"
	"log/slog"
)

// GRPCForwarder hands payloads to an Invoker. Without one it reports
// ErrGRPCNotImplemented and makes no network call.
type GRPCForwarder struct {
	service string
	method  string
	invoker Invoker
	log     *slog.Logger
}

func (f *GRPCForwarder) Forward(ctx context.Context, payload []byte) error {
	if f.invoker == nil {
		f.log.Debug("grpc forward requested",
			slog.String("service", f.service),
			slog.String("method", f.method),
			slog.Int("bytes", len(payload)))
		return ErrGRPCNotImplemented
	}
	if err := f.invoker.Invoke(ctx, payload); err != nil {
		return fmt.Errorf("invoke %s/%s: %w", f.service, f.method, err)
	}
	return nil
}

func (f *GRPCForwarder) Close() error {
	if f.invoker == nil {
		return nil
	}
	return f.invoker.Close()
}
