package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/nats-io/nats.go"

	"github.com/torosent/databridge/internal/config"
	"github.com/torosent/databridge/internal/logging"
)

// ChannelOpener is an in-process bus. Every session opened from the same
// ChannelOpener shares one Go channel pub/sub, so a publisher session
// reaches a subscriber session without any broker.
type ChannelOpener struct {
	log    *slog.Logger
	pubSub *gochannel.GoChannel
}

// NewChannelOpener creates an in-process bus.
func NewChannelOpener(log *slog.Logger) *ChannelOpener {
	if log == nil {
		log = logging.Discard()
	}
	return &ChannelOpener{
		log: log,
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 1024,
		}, logging.Watermill(log)),
	}
}

// Open returns a session on the shared channel bus. Closing the session
// leaves the bus running for other sessions.
func (o *ChannelOpener) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logOpen(o.log, config.BusConfig{Transport: config.TransportChannel}, "in-process")
	return newWatermillSession(o.pubSub, o.pubSub, nil, o.log), nil
}

// Close shuts the shared bus down.
func (o *ChannelOpener) Close() error {
	return o.pubSub.Close()
}

type natsOpener struct {
	cfg config.BusConfig
	log *slog.Logger
}

func (o *natsOpener) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	url := o.cfg.Connect
	if url == "" {
		url = nats.DefaultURL
	}
	wlog := logging.Watermill(o.log)
	marshaler := &wmnats.NATSMarshaler{}
	jetStream := wmnats.JetStreamConfig{Disabled: true}
	natsOpts := []nats.Option{nats.Name("databridge-" + watermill.NewULID())}

	publisher, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   marshaler,
		JetStream:   jetStream,
	}, wlog)
	if err != nil {
		return nil, fmt.Errorf("nats publisher %s: %w", url, err)
	}
	subscriber, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Unmarshaler: marshaler,
		JetStream:   jetStream,
	}, wlog)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("nats subscriber %s: %w", url, err)
	}

	logOpen(o.log, o.cfg, url)
	return newWatermillSession(publisher, subscriber, func() error {
		return errors.Join(subscriber.Close(), publisher.Close())
	}, o.log), nil
}

// watermillSession adapts a Watermill publisher/subscriber pair.
type watermillSession struct {
	pub     message.Publisher
	sub     message.Subscriber
	closeFn func() error
	log     *slog.Logger

	mu     sync.Mutex
	subs   map[*watermillSubscription]struct{}
	closed bool
}

func newWatermillSession(pub message.Publisher, sub message.Subscriber, closeFn func() error, log *slog.Logger) *watermillSession {
	return &watermillSession{
		pub:     pub,
		sub:     sub,
		closeFn: closeFn,
		log:     log,
		subs:    make(map[*watermillSubscription]struct{}),
	}
}

func (s *watermillSession) Subscribe(ctx context.Context, topic string, handler Handler, onDrop func()) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	messages, err := s.sub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	ws := &watermillSubscription{
		topic:   topic,
		cancel:  cancel,
		done:    make(chan struct{}),
		session: s,
	}
	s.subs[ws] = struct{}{}
	go ws.run(subCtx, messages, handler, onDrop)
	return ws, nil
}

func (s *watermillSession) Publisher(topic string) (Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &watermillPublisher{topic: topic, pub: s.pub}, nil
}

// Close ends every subscription still open and then the transport.
func (s *watermillSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*watermillSubscription, 0, len(s.subs))
	for ws := range s.subs {
		subs = append(subs, ws)
	}
	s.mu.Unlock()

	for _, ws := range subs {
		_ = ws.Close()
	}
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}

func (s *watermillSession) forget(ws *watermillSubscription) {
	s.mu.Lock()
	delete(s.subs, ws)
	s.mu.Unlock()
}

type watermillSubscription struct {
	topic   string
	cancel  context.CancelFunc
	done    chan struct{}
	session *watermillSession
	once    sync.Once
}

func (ws *watermillSubscription) run(ctx context.Context, messages <-chan *message.Message, handler Handler, onDrop func()) {
	defer close(ws.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() == nil && onDrop != nil {
					onDrop()
				}
				return
			}
			handler(ctx, Sample{Topic: ws.topic, Payload: msg.Payload})
			msg.Ack()
		}
	}
}

func (ws *watermillSubscription) Topic() string { return ws.topic }

func (ws *watermillSubscription) Close() error {
	ws.once.Do(func() {
		ws.cancel()
		<-ws.done
		ws.session.forget(ws)
	})
	return nil
}

type watermillPublisher struct {
	topic string
	pub   message.Publisher
}

func (p *watermillPublisher) Put(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.SetContext(ctx)
	return p.pub.Publish(p.topic, msg)
}

// Close is a no-op; the session owns the underlying publisher.
func (p *watermillPublisher) Close() error { return nil }
