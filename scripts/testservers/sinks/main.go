// Command sinks runs stand-in local destinations for manual bridge testing:
// a gRPC server that accepts BytesValue pushes on any method, or a UDP port
// that logs every datagram.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/torosent/databridge/internal/tracing"
)

type sinkMode string

const (
	modeGRPC sinkMode = "grpc"
	modeUDP  sinkMode = "udp"
)

func main() {
	mode := flag.String("mode", "", "Sink mode: grpc, udp")
	port := flag.Int("port", 0, "Listening port")
	every := flag.Duration("report", 5*time.Second, "Interval between count lines")
	flag.Parse()

	if *port <= 0 {
		log.Fatalf("port must be > 0")
	}

	switch sinkMode(*mode) {
	case modeGRPC:
		log.Fatal(runGRPCSink(*port, *every))
	case modeUDP:
		log.Fatal(runUDPSink(*port, *every))
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

type counter struct {
	messages atomic.Uint64
	bytes    atomic.Uint64
}

func (c *counter) add(n int) {
	c.messages.Add(1)
	c.bytes.Add(uint64(n))
}

func (c *counter) report(every time.Duration) {
	for range time.Tick(every) {
		log.Printf("received %d messages, %d bytes", c.messages.Load(), c.bytes.Load())
	}
}

func runGRPCSink(port int, every time.Duration) error {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	var count counter
	go count.report(every)

	server := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, ok := grpc.MethodFromServerStream(stream)
		if !ok {
			return status.Error(codes.Internal, "no method on stream")
		}
		var in wrapperspb.BytesValue
		if err := stream.RecvMsg(&in); err != nil {
			return status.Errorf(codes.InvalidArgument, "expected google.protobuf.BytesValue: %v", err)
		}
		count.add(len(in.GetValue()))
		if md, ok := metadata.FromIncomingContext(stream.Context()); ok {
			remote := trace.SpanContextFromContext(tracing.ExtractGRPCMetadata(stream.Context(), md))
			if remote.IsValid() {
				log.Printf("%s: %d bytes (trace %s)", method, len(in.GetValue()), remote.TraceID())
			}
		}
		return stream.SendMsg(&emptypb.Empty{})
	}))

	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("gRPC sink listening on %s", addr)
	return server.Serve(lis)
}

func runUDPSink(port int, every time.Duration) error {
	var count counter
	go count.report(every)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("UDP sink listening on %s", conn.LocalAddr())

	buf := make([]byte, 65536)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		count.add(n)
	}
}
