// Package bus manages the NATS JetStream connection, streams, and
// subscriptions used by the SimBuilder messaging core.
//
// A Client owns exactly one logical connection. Concurrent publishes from
// multiple callers are permitted; concurrent Connect/Disconnect calls on the
// same instance are not race-free and must be serialized by the owner.
package bus

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/simbuilder/servicebus/errors"
	"github.com/simbuilder/servicebus/message"
	"github.com/simbuilder/servicebus/pkg/retry"
	"github.com/simbuilder/servicebus/topic"
)

// Handler processes a decoded message. Returning an error triggers a
// negative acknowledgment and backend redelivery.
type Handler func(ctx context.Context, env *message.Envelope) error

// ErrorHandler receives handler and decode failures from a subscription.
type ErrorHandler func(err error)

// subscription tracks one active consumer attachment.
type subscription struct {
	id      string
	name    string
	consume jetstream.ConsumeContext
}

// Client manages the bus connection and all streams/subscriptions derived
// from it.
type Client struct {
	cfg      Config
	registry *topic.Registry
	logger   Logger
	metrics  *busMetrics

	status      atomic.Value // Status
	events      chan Transition
	eventBuffer int

	mu      sync.RWMutex
	conn    *nats.Conn
	js      jetstream.JetStream
	subs    map[string]*subscription
	streams map[string]struct{}

	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a bus client bound to an explicit topic registry.
// The registry validates publish subjects and supplies stream configuration
// for subscriptions.
func NewClient(cfg Config, registry *topic.Registry, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "topic registry is required")
	}

	c := &Client{
		cfg:         cfg,
		registry:    registry,
		logger:      &defaultLogger{},
		eventBuffer: 32,
		subs:        make(map[string]*subscription),
		streams:     make(map[string]struct{}),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.events = make(chan Transition, c.eventBuffer)

	c.logger.Debugf("created bus client %s for %v", cfg.ClientID, cfg.Servers)

	return c, nil
}

// ClientID returns the configured client identifier.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// Connect establishes the connection. It is idempotent: connecting an
// already-connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrClientClosed, "Client", "Connect", "connect after close")
	}
	if c.IsConnected() {
		return nil
	}

	c.transition(StatusConnecting, "connect requested")

	opts := []nats.Option{
		nats.Name(c.cfg.ClientID),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.PingInterval(c.cfg.PingInterval),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(strings.Join(c.cfg.Servers, ","), opts...)
		if err != nil {
			connectDone <- err
			return
		}

		var jsOpts []jetstream.JetStreamOpt
		if c.cfg.MaxOutstanding > 0 {
			jsOpts = append(jsOpts, jetstream.WithPublishAsyncMaxPending(c.cfg.MaxOutstanding))
		}
		js, err := jetstream.New(conn, jsOpts...)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()

		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.transition(StatusDisconnected, "connect failed")
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.transition(StatusDisconnected, "connect cancelled")
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "establish connection")
	}

	c.transition(StatusConnected, "connected")
	c.logger.Printf("connected to bus as %s", c.cfg.ClientID)
	return nil
}

// Disconnect stops all subscriptions best-effort, drains the connection, and
// closes the client. It is idempotent; the client cannot be reused afterwards.
func (c *Client) Disconnect(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	// Stop all consumers concurrently. A failure stopping one does not
	// prevent attempting the rest.
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = make(map[string]*subscription)
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	var g errgroup.Group
	for _, s := range subs {
		s := s
		g.Go(func() error {
			s.consume.Stop()
			c.logger.Debugf("stopped subscription %s", s.id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Errorf("subscription cleanup: %v", err)
	}
	c.metrics.setSubscriptions(0)

	var drainErr error
	if conn != nil {
		drainDone := make(chan error, 1)
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				drainErr = errors.Wrap(err, "Client", "Disconnect", "drain connection")
				c.logger.Errorf("drain error: %v", err)
			}
		case <-ctx.Done():
			drainErr = errors.Wrap(ctx.Err(), "Client", "Disconnect", "drain cancelled")
			c.logger.Errorf("context cancelled during drain, force closing")
		}

		conn.Close()
	}

	c.transition(StatusClosed, "disconnect")
	return drainErr
}

// EnsureStream updates the stream backing a topic, creating it when it does
// not exist.
func (c *Client) EnsureStream(ctx context.Context, def topic.Definition) (*jetstream.StreamInfo, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}

	streamCfg := jetstream.StreamConfig{
		Name:        streamName(def.Name),
		Description: def.Description,
		Subjects:    []string{consumeSubject(def.SubjectPattern)},
		Retention:   retentionPolicy(def.Retention),
		MaxAge:      def.MaxAge,
		MaxMsgs:     def.MaxMsgs,
		Replicas:    def.Replicas,
	}

	stream, err := js.UpdateStream(ctx, streamCfg)
	if err != nil {
		if !stderrors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, errors.WrapTransient(err, "Client", "EnsureStream",
				fmt.Sprintf("update stream %s", streamCfg.Name))
		}
		stream, err = js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, errors.WrapTransient(err, "Client", "EnsureStream",
				fmt.Sprintf("create stream %s", streamCfg.Name))
		}
	}

	c.mu.Lock()
	c.streams[streamCfg.Name] = struct{}{}
	n := len(c.streams)
	c.mu.Unlock()
	c.metrics.setStreams(n)

	return stream.CachedInfo(), nil
}

// Publish serializes the envelope, validates its subject against the topic
// registry, and publishes with acknowledgment. The call blocks until the
// backend acks, the context expires, or the configured publish timeout
// elapses. Publish failures are not retried here; retry policy belongs to
// the caller (see PublishWithRetry).
func (c *Client) Publish(ctx context.Context, subject string, env *message.Envelope) (string, error) {
	if env == nil {
		return "", errors.WrapInvalid(errors.ErrInvalidMessage, "Client", "Publish", "envelope is nil")
	}

	def, ok := c.registry.MatchSubject(subject)
	if !ok {
		return "", errors.WrapInvalid(errors.ErrInvalidSubject, "Client", "Publish",
			fmt.Sprintf("route subject %q", subject))
	}
	if !def.Allows(env.Type()) {
		return "", errors.WrapInvalid(errors.ErrInvalidMessage, "Client", "Publish",
			fmt.Sprintf("message type %q not allowed on topic %q", env.Type(), def.Name))
	}

	js, err := c.jetStream()
	if err != nil {
		c.metrics.recordPublishError(def.Name)
		return "", err
	}

	data, err := env.MarshalJSON()
	if err != nil {
		c.metrics.recordPublishError(def.Name)
		return "", errors.WrapInvalid(err, "Client", "Publish", "serialize envelope")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PublishTimeout)
		defer cancel()
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Nats-Msg-Id", env.ID())

	start := time.Now()
	if _, err := js.PublishMsg(ctx, msg); err != nil {
		c.metrics.recordPublishError(def.Name)
		return "", errors.WrapTransient(err, "Client", "Publish",
			fmt.Sprintf("publish to %q", subject))
	}
	c.metrics.recordPublish(def.Name, time.Since(start))

	return env.ID(), nil
}

// PublishWithRetry publishes with exponential backoff on transient failures.
// Validation failures are not retried.
func PublishWithRetry(
	ctx context.Context, c *Client, subject string, env *message.Envelope, cfg retry.Config,
) (string, error) {
	return retry.DoWithResult(ctx, cfg, func() (string, error) {
		id, err := c.Publish(ctx, subject, env)
		if err != nil && errors.IsInvalid(err) {
			return "", retry.NonRetryable(err)
		}
		return id, err
	})
}

// Subscribe attaches a consumer for the named topic and starts delivering
// decoded envelopes to handler. The returned subscription id is distinct
// from the consumer name so multiple subscriptions to the same logical
// consumer can be told apart.
func (c *Client) Subscribe(
	ctx context.Context, cfg SubscriptionConfig, handler Handler, errHandler ErrorHandler,
) (string, error) {
	if handler == nil {
		return "", errors.WrapInvalid(errors.ErrInvalidConfig, "Client", "Subscribe", "handler is required")
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	def, err := c.registry.Get(cfg.Topic)
	if err != nil {
		return "", err
	}

	js, err := c.jetStream()
	if err != nil {
		return "", err
	}

	filter := cfg.Subject
	if filter == "" {
		filter = consumeSubject(def.SubjectPattern)
	}

	consumerName := cfg.Name
	if cfg.QueueGroup != "" {
		// Subscriptions sharing a queue group share one consumer and
		// load-balance its messages.
		consumerName = cfg.QueueGroup
	}

	consumerCfg := jetstream.ConsumerConfig{
		FilterSubject: filter,
		AckWait:       cfg.ackWait(),
		MaxDeliver:    cfg.maxDeliver(),
		MaxAckPending: cfg.MaxPending,
	}
	if cfg.Durable {
		consumerCfg.Durable = consumerName
	} else {
		consumerCfg.Name = consumerName
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName(def.Name), consumerCfg)
	if err != nil {
		return "", errors.WrapTransient(err, "Client", "Subscribe",
			fmt.Sprintf("create consumer %s", consumerName))
	}

	subID := fmt.Sprintf("%s-%s", cfg.Name, uuid.New().String()[:8])
	wrapper := c.wrapHandler(ctx, subID, cfg, handler, errHandler)

	consumeCtx, err := consumer.Consume(wrapper)
	if err != nil {
		return "", errors.WrapTransient(err, "Client", "Subscribe",
			fmt.Sprintf("start consuming %s", consumerName))
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		consumeCtx.Stop()
		return "", errors.WrapFatal(errors.ErrClientClosed, "Client", "Subscribe", "register subscription")
	}
	c.subs[subID] = &subscription{id: subID, name: consumerName, consume: consumeCtx}
	n := len(c.subs)
	c.mu.Unlock()
	c.metrics.setSubscriptions(n)

	c.logger.Printf("subscribed %s to topic %s (filter %s)", subID, cfg.Topic, filter)
	return subID, nil
}

// wrapHandler adapts a Handler to the backend's raw message callback:
// decode, invoke, then ack or nak based on the outcome. Failures are
// contained per message so the subscription loop survives bad input.
func (c *Client) wrapHandler(
	ctx context.Context, subID string, cfg SubscriptionConfig, handler Handler, errHandler ErrorHandler,
) func(jetstream.Msg) {
	report := func(err error) {
		if errHandler != nil {
			errHandler(err)
		} else {
			c.logger.Errorf("subscription %s: %v", subID, err)
		}
	}

	return func(msg jetstream.Msg) {
		c.metrics.recordReceived(subID)

		env, err := message.Decode(msg.Data())
		if err != nil {
			decodeErr := errors.WrapInvalid(err, "Client", "Subscribe",
				fmt.Sprintf("decode message on %q", msg.Subject()))
			c.logger.Errorf("subscription %s: %v", subID, decodeErr)
			report(decodeErr)
			if nakErr := msg.Nak(); nakErr != nil {
				c.logger.Errorf("subscription %s: nak: %v", subID, nakErr)
			}
			c.metrics.recordNak(subID)
			return
		}

		if cfg.AutoAck {
			if ackErr := msg.Ack(); ackErr != nil {
				c.logger.Errorf("subscription %s: auto-ack: %v", subID, ackErr)
			}
			c.metrics.recordAck(subID)
		}

		if err := handler(ctx, env); err != nil {
			report(err)
			if !cfg.AutoAck {
				if nakErr := msg.Nak(); nakErr != nil {
					c.logger.Errorf("subscription %s: nak: %v", subID, nakErr)
				}
				c.metrics.recordNak(subID)
			}
			return
		}

		if !cfg.AutoAck {
			if ackErr := msg.Ack(); ackErr != nil {
				c.logger.Errorf("subscription %s: ack: %v", subID, ackErr)
			}
			c.metrics.recordAck(subID)
		}
	}
}

// Unsubscribe stops a subscription and forgets its handle. Unknown ids are
// a no-op with a warning, not an error.
func (c *Client) Unsubscribe(subscriptionID string) {
	c.mu.Lock()
	sub, ok := c.subs[subscriptionID]
	if ok {
		delete(c.subs, subscriptionID)
	}
	n := len(c.subs)
	c.mu.Unlock()

	if !ok {
		c.logger.Printf("unsubscribe: unknown subscription %q", subscriptionID)
		return
	}

	sub.consume.Stop()
	c.metrics.setSubscriptions(n)
	c.logger.Debugf("unsubscribed %s", subscriptionID)
}

// Health reports the client's connection health.
type Health struct {
	Connected     bool     `json:"connected"`
	Status        string   `json:"status"`
	ClientID      string   `json:"client_id"`
	Servers       []string `json:"servers"`
	RTT           string   `json:"rtt,omitempty"`
	ServerVersion string   `json:"server_version,omitempty"`
	Subscriptions int      `json:"subscriptions"`
	Streams       int      `json:"streams"`
	Error         string   `json:"error,omitempty"`
}

// HealthCheck reports connection state. When connected it additionally
// probes round-trip time; a probe failure is reported in the Error field
// rather than returned.
func (c *Client) HealthCheck() Health {
	h := Health{
		Connected: c.IsConnected(),
		Status:    c.Status().String(),
		ClientID:  c.cfg.ClientID,
		Servers:   c.cfg.Servers,
	}

	c.mu.RLock()
	conn := c.conn
	h.Subscriptions = len(c.subs)
	h.Streams = len(c.streams)
	c.mu.RUnlock()

	if !h.Connected || conn == nil {
		return h
	}

	h.ServerVersion = conn.ConnectedServerVersion()
	if rtt, err := conn.RTT(); err != nil {
		h.Error = err.Error()
	} else {
		h.RTT = rtt.String()
	}

	return h
}

// jetStream returns the JetStream context or a not-connected error.
func (c *Client) jetStream() (jetstream.JetStream, error) {
	if c.closed.Load() {
		return nil, errors.WrapFatal(errors.ErrClientClosed, "Client", "jetStream", "use after close")
	}

	c.mu.RLock()
	js := c.js
	conn := c.conn
	c.mu.RUnlock()

	if js == nil || conn == nil || !conn.IsConnected() {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "Client", "jetStream", "get JetStream context")
	}
	return js, nil
}

// Connection event handlers. These run on the backend's callback goroutines
// and must only enqueue transitions and log.
func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	reason := "disconnected"
	if err != nil {
		reason = fmt.Sprintf("disconnected: %v", err)
	}
	c.transition(StatusReconnecting, reason)
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.transition(StatusConnected, fmt.Sprintf("reconnected to %s", conn.ConnectedUrl()))
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.transition(StatusDisconnected, "connection closed")
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Errorf("bus error: %v", err)
}

// streamName derives the backing stream name for a topic.
func streamName(topicName string) string {
	return strings.ToUpper(topicName)
}

// consumeSubject converts a topic pattern into a stream/consumer subject.
// Trailing "*" patterns cover the remainder of the hierarchy, which in NATS
// subject syntax is spelled ">".
func consumeSubject(pattern string) string {
	if strings.HasSuffix(pattern, ".*") {
		return strings.TrimSuffix(pattern, ".*") + ".>"
	}
	return pattern
}

// retentionPolicy maps a topic retention tag to the backend policy.
func retentionPolicy(r topic.RetentionPolicy) jetstream.RetentionPolicy {
	if r == topic.RetentionWorkQueue {
		return jetstream.WorkQueuePolicy
	}
	return jetstream.LimitsPolicy
}
