package bus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/oklog/ulid/v2"

	"github.com/torosent/databridge/internal/config"
)

const (
	defaultMQTTBroker = "tcp://127.0.0.1:1883"
	mqttTimeout       = 10 * time.Second
	mqttQoS           = byte(0)
)

type mqttOpener struct {
	cfg config.BusConfig
	log *slog.Logger
}

func (o *mqttOpener) Open(ctx context.Context) (Session, error) {
	broker := o.cfg.Connect
	if broker == "" {
		broker = defaultMQTTBroker
	}
	s := &mqttSession{
		log:    o.log,
		routes: make(map[string]*mqttRoute),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("databridge-" + ulid.Make().String()).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(mqttTimeout).
		SetWriteTimeout(mqttTimeout).
		SetMaxReconnectInterval(mqttTimeout).
		SetCleanSession(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			o.log.Warn("mqtt connection lost", slog.String("broker", broker), slog.Any("error", err))
		}).
		SetOnConnectHandler(s.onConnect)

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if err := waitToken(ctx, token); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}

	logOpen(o.log, o.cfg, broker)
	return s, nil
}

type mqttSession struct {
	client mqtt.Client
	log    *slog.Logger

	// topicMu serialises broker subscribe and unsubscribe calls so a route
	// is created and torn down exactly once per topic.
	topicMu sync.Mutex

	mu        sync.Mutex
	routes    map[string]*mqttRoute
	connected bool
	closed    bool
}

// onConnect restores subscriptions after an automatic reconnect; a clean
// session drops them on the broker side.
func (s *mqttSession) onConnect(c mqtt.Client) {
	s.mu.Lock()
	first := !s.connected
	s.connected = true
	routes := make([]*mqttRoute, 0, len(s.routes))
	for _, route := range s.routes {
		routes = append(routes, route)
	}
	s.mu.Unlock()
	if first {
		return
	}
	for _, route := range routes {
		token := c.Subscribe(route.topic, mqttQoS, route.deliver)
		if !token.WaitTimeout(mqttTimeout) || token.Error() != nil {
			s.log.Warn("mqtt resubscribe failed", slog.String("topic", route.topic), slog.Any("error", token.Error()))
			for _, sub := range route.snapshot() {
				if sub.onDrop != nil {
					sub.onDrop()
				}
			}
		}
	}
}

func (s *mqttSession) route(topic string) *mqttRoute {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routes[topic]
}

func (s *mqttSession) Subscribe(ctx context.Context, topic string, handler Handler, onDrop func()) (Subscription, error) {
	s.topicMu.Lock()
	defer s.topicMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	route := s.routes[topic]
	s.mu.Unlock()

	sub := &mqttSubscription{
		topic:   topic,
		handler: handler,
		onDrop:  onDrop,
		ctx:     context.WithoutCancel(ctx),
		session: s,
	}
	if route != nil {
		route.add(sub)
		return sub, nil
	}

	// paho keeps one callback per filter, so every local subscriber on the
	// topic shares a single broker subscription.
	route = &mqttRoute{topic: topic, subs: []*mqttSubscription{sub}}
	if err := waitToken(ctx, s.client.Subscribe(topic, mqttQoS, route.deliver)); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s.mu.Lock()
	s.routes[topic] = route
	s.mu.Unlock()
	return sub, nil
}

// release detaches sub from its route and drops the broker subscription
// once no local subscriber is left on the topic.
func (s *mqttSession) release(sub *mqttSubscription) error {
	s.topicMu.Lock()
	defer s.topicMu.Unlock()

	route := s.route(sub.topic)
	if route == nil || route.remove(sub) > 0 {
		return nil
	}
	s.mu.Lock()
	delete(s.routes, sub.topic)
	s.mu.Unlock()

	token := s.client.Unsubscribe(sub.topic)
	if !token.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("unsubscribe %s: timeout", sub.topic)
	}
	return token.Error()
}

func (s *mqttSession) Publisher(topic string) (Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &mqttPublisher{topic: topic, client: s.client}, nil
}

func (s *mqttSession) Close() error {
	s.topicMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.topicMu.Unlock()
		return nil
	}
	s.closed = true
	var subs []*mqttSubscription
	for _, route := range s.routes {
		subs = append(subs, route.snapshot()...)
	}
	s.mu.Unlock()
	s.topicMu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	s.client.Disconnect(250)
	return nil
}

// mqttRoute is the single broker subscription behind every local
// subscriber of one topic. subs is replaced, never mutated in place.
type mqttRoute struct {
	topic string

	mu   sync.RWMutex
	subs []*mqttSubscription
}

func (r *mqttRoute) snapshot() []*mqttSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs
}

func (r *mqttRoute) add(sub *mqttSubscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(slices.Clip(r.subs), sub)
}

// remove returns the number of subscribers left on the route.
func (r *mqttRoute) remove(sub *mqttSubscription) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = slices.DeleteFunc(slices.Clone(r.subs), func(s *mqttSubscription) bool { return s == sub })
	return len(r.subs)
}

func (r *mqttRoute) deliver(_ mqtt.Client, msg mqtt.Message) {
	for _, sub := range r.snapshot() {
		sub.deliver(msg.Payload())
	}
}

type mqttSubscription struct {
	topic   string
	handler Handler
	onDrop  func()
	ctx     context.Context
	session *mqttSession

	// mu is held for reading while the handler runs so Close can wait for
	// in-flight deliveries.
	mu     sync.RWMutex
	closed bool
}

func (m *mqttSubscription) deliver(payload []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.handler(m.ctx, Sample{Topic: m.topic, Payload: payload})
}

func (m *mqttSubscription) Topic() string { return m.topic }

func (m *mqttSubscription) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.session.release(m)
}

type mqttPublisher struct {
	topic  string
	client mqtt.Client
}

func (p *mqttPublisher) Put(ctx context.Context, payload []byte) error {
	return waitToken(ctx, p.client.Publish(p.topic, mqttQoS, false, payload))
}

func (p *mqttPublisher) Close() error { return nil }

func waitToken(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(mqttTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt operation timed out after %s", mqttTimeout)
	}
}
