package bus

import (
	"fmt"
	"time"

	"github.com/simbuilder/servicebus/errors"
)

// Config holds connection configuration for the bus client.
type Config struct {
	// Servers is the ordered list of NATS server URLs.
	Servers []string `yaml:"servers"`

	// ClusterID names the JetStream domain/cluster this client belongs to.
	ClusterID string `yaml:"cluster_id"`

	// ClientID uniquely identifies this process instance on the bus.
	ClientID string `yaml:"client_id"`

	// MaxReconnects is the reconnect attempt budget (-1 for unlimited).
	MaxReconnects int `yaml:"max_reconnects"`

	// ReconnectWait is the backoff between reconnect attempts.
	ReconnectWait time.Duration `yaml:"reconnect_wait"`

	// PingInterval is the keepalive interval.
	PingInterval time.Duration `yaml:"ping_interval"`

	// MaxOutstanding caps in-flight published messages awaiting ack.
	MaxOutstanding int `yaml:"max_outstanding"`

	// PublishTimeout bounds Publish calls when the caller's context carries
	// no deadline.
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// DefaultConfig returns a config with development-friendly defaults.
func DefaultConfig() Config {
	return Config{
		Servers:        []string{"nats://localhost:4222"},
		ClusterID:      "simbuilder",
		ClientID:       "servicebus-client",
		MaxReconnects:  10,
		ReconnectWait:  2 * time.Second,
		PingInterval:   30 * time.Second,
		MaxOutstanding: 256,
		PublishTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "at least one server URL is required")
	}
	for i, s := range c.Servers {
		if s == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("server URL %d is empty", i))
		}
	}
	if c.ClientID == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "client id is required")
	}
	if c.ReconnectWait < 0 || c.PingInterval < 0 || c.PublishTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "durations cannot be negative")
	}
	return nil
}

// SubscriptionConfig describes a consumer attached through Subscribe.
type SubscriptionConfig struct {
	// Name identifies the subscription and, for durable subscriptions,
	// the consumer name.
	Name string `yaml:"name"`

	// Topic names the registered topic the subscription consumes from.
	Topic string `yaml:"topic"`

	// Subject optionally narrows the consumed subjects below the topic's
	// pattern.
	Subject string `yaml:"subject"`

	// QueueGroup enables load-balanced delivery: subscriptions sharing a
	// queue group share one consumer.
	QueueGroup string `yaml:"queue_group"`

	// Durable makes the consumer survive client restarts.
	Durable bool `yaml:"durable"`

	// AutoAck acknowledges messages on receipt, before the handler runs.
	AutoAck bool `yaml:"auto_ack"`

	// MaxPending caps unacknowledged messages outstanding to the consumer.
	MaxPending int `yaml:"max_pending"`

	// AckWait is how long the backend waits for an ack before redelivery.
	AckWait time.Duration `yaml:"ack_wait"`

	// MaxDeliver is the redelivery ceiling per message. Zero selects the
	// default of 3 attempts.
	MaxDeliver int `yaml:"max_deliver"`
}

// DefaultMaxDeliver is the redelivery ceiling applied when a subscription
// does not set one.
const DefaultMaxDeliver = 3

// Validate checks required subscription fields.
func (sc *SubscriptionConfig) Validate() error {
	if sc.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SubscriptionConfig", "Validate", "name is required")
	}
	if sc.Topic == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SubscriptionConfig", "Validate", "topic is required")
	}
	if sc.MaxDeliver < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SubscriptionConfig", "Validate", "max deliver cannot be negative")
	}
	if sc.AckWait < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SubscriptionConfig", "Validate", "ack wait cannot be negative")
	}
	return nil
}

// maxDeliver returns the effective redelivery ceiling.
func (sc *SubscriptionConfig) maxDeliver() int {
	if sc.MaxDeliver > 0 {
		return sc.MaxDeliver
	}
	return DefaultMaxDeliver
}

// ackWait returns the effective ack-wait timeout.
func (sc *SubscriptionConfig) ackWait() time.Duration {
	if sc.AckWait > 0 {
		return sc.AckWait
	}
	return 30 * time.Second
}
