package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simbuilder/servicebus/message"
)

// fakeMsg implements jetstream.Msg, recording acknowledgment calls.
type fakeMsg struct {
	data    []byte
	subject string

	acked      bool
	naked      bool
	terminated bool
}

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) { return &jetstream.MsgMetadata{}, nil }
func (m *fakeMsg) Data() []byte                              { return m.data }
func (m *fakeMsg) Headers() nats.Header                      { return nats.Header{} }
func (m *fakeMsg) Subject() string                           { return m.subject }
func (m *fakeMsg) Reply() string                             { return "" }
func (m *fakeMsg) Ack() error                                { m.acked = true; return nil }
func (m *fakeMsg) DoubleAck(context.Context) error           { m.acked = true; return nil }
func (m *fakeMsg) Nak() error                                { m.naked = true; return nil }
func (m *fakeMsg) NakWithDelay(time.Duration) error          { m.naked = true; return nil }
func (m *fakeMsg) InProgress() error                         { return nil }
func (m *fakeMsg) Term() error                               { m.terminated = true; return nil }
func (m *fakeMsg) TermWithReason(string) error               { m.terminated = true; return nil }

func envelopeBytes(t *testing.T) []byte {
	t.Helper()
	env, err := message.NewEnvelope(message.TypeProgressUpdate, "test",
		map[string]any{"operation": "op"}, message.WithSessionID("s1"))
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func TestWrapHandler_SuccessAcks(t *testing.T) {
	c := newTestClient(t)

	var handled *message.Envelope
	handler := func(_ context.Context, env *message.Envelope) error {
		handled = env
		return nil
	}

	fn := c.wrapHandler(context.Background(), "sub-1", SubscriptionConfig{Name: "sub", Topic: "discovery"}, handler, nil)

	msg := &fakeMsg{data: envelopeBytes(t), subject: "tenant.discovery.s1.progress"}
	fn(msg)

	require.NotNil(t, handled)
	assert.Equal(t, "s1", handled.SessionID())
	assert.True(t, msg.acked)
	assert.False(t, msg.naked)
}

func TestWrapHandler_HandlerErrorNaks(t *testing.T) {
	c := newTestClient(t)

	handlerErr := errors.New("processing failed")
	var reported []error
	errHandler := func(err error) { reported = append(reported, err) }
	handler := func(context.Context, *message.Envelope) error { return handlerErr }

	fn := c.wrapHandler(context.Background(), "sub-1", SubscriptionConfig{Name: "sub", Topic: "discovery"}, handler, errHandler)

	msg := &fakeMsg{data: envelopeBytes(t), subject: "tenant.discovery.s1.progress"}
	fn(msg)

	assert.False(t, msg.acked)
	assert.True(t, msg.naked)
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], handlerErr)

	// The loop survives a failed message: the next one is handled normally.
	handler2 := func(context.Context, *message.Envelope) error { return nil }
	fn2 := c.wrapHandler(context.Background(), "sub-1", SubscriptionConfig{Name: "sub", Topic: "discovery"}, handler2, errHandler)
	msg2 := &fakeMsg{data: envelopeBytes(t), subject: "tenant.discovery.s1.progress"}
	assert.NotPanics(t, func() { fn2(msg2) })
	assert.True(t, msg2.acked)
}

func TestWrapHandler_DecodeFailureNaks(t *testing.T) {
	c := newTestClient(t)

	handlerCalled := false
	handler := func(context.Context, *message.Envelope) error {
		handlerCalled = true
		return nil
	}
	var reported []error
	errHandler := func(err error) { reported = append(reported, err) }

	fn := c.wrapHandler(context.Background(), "sub-1", SubscriptionConfig{Name: "sub", Topic: "discovery"}, handler, errHandler)

	msg := &fakeMsg{data: []byte("{not valid"), subject: "tenant.discovery.s1.progress"}
	fn(msg)

	assert.False(t, handlerCalled)
	assert.False(t, msg.acked)
	assert.True(t, msg.naked)
	assert.Len(t, reported, 1)
}

func TestWrapHandler_AutoAckBeforeHandler(t *testing.T) {
	c := newTestClient(t)

	msg := &fakeMsg{data: envelopeBytes(t), subject: "tenant.discovery.s1.progress"}

	var ackedWhenHandled bool
	handler := func(context.Context, *message.Envelope) error {
		ackedWhenHandled = msg.acked
		return nil
	}

	cfg := SubscriptionConfig{Name: "sub", Topic: "discovery", AutoAck: true}
	fn := c.wrapHandler(context.Background(), "sub-1", cfg, handler, nil)
	fn(msg)

	assert.True(t, ackedWhenHandled, "auto-ack must happen before the handler runs")
}

func TestWrapHandler_AutoAckSwallowsHandlerNak(t *testing.T) {
	c := newTestClient(t)

	var reported []error
	errHandler := func(err error) { reported = append(reported, err) }
	handler := func(context.Context, *message.Envelope) error { return errors.New("too late") }

	cfg := SubscriptionConfig{Name: "sub", Topic: "discovery", AutoAck: true}
	fn := c.wrapHandler(context.Background(), "sub-1", cfg, handler, errHandler)

	msg := &fakeMsg{data: envelopeBytes(t), subject: "tenant.discovery.s1.progress"}
	fn(msg)

	// Already acked; the error is reported but no nak is issued.
	assert.True(t, msg.acked)
	assert.False(t, msg.naked)
	assert.Len(t, reported, 1)
}

func TestWrapHandler_NilErrorHandlerLogs(t *testing.T) {
	c := newTestClient(t)
	handler := func(context.Context, *message.Envelope) error { return errors.New("boom") }

	fn := c.wrapHandler(context.Background(), "sub-1", SubscriptionConfig{Name: "sub", Topic: "discovery"}, handler, nil)

	msg := &fakeMsg{data: envelopeBytes(t), subject: "tenant.discovery.s1.progress"}
	assert.NotPanics(t, func() { fn(msg) })
	assert.True(t, msg.naked)
}

func TestSubscriptionConfig_Defaults(t *testing.T) {
	cfg := SubscriptionConfig{Name: "s", Topic: "discovery"}
	assert.Equal(t, DefaultMaxDeliver, cfg.maxDeliver())
	assert.Equal(t, 30*time.Second, cfg.ackWait())

	cfg.MaxDeliver = 7
	cfg.AckWait = time.Minute
	assert.Equal(t, 7, cfg.maxDeliver())
	assert.Equal(t, time.Minute, cfg.ackWait())
}

func TestSubscriptionConfig_Validate(t *testing.T) {
	valid := SubscriptionConfig{Name: "s", Topic: "discovery"}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name string
		cfg  SubscriptionConfig
	}{
		{"missing name", SubscriptionConfig{Topic: "discovery"}},
		{"missing topic", SubscriptionConfig{Name: "s"}},
		{"negative max deliver", SubscriptionConfig{Name: "s", Topic: "d", MaxDeliver: -1}},
		{"negative ack wait", SubscriptionConfig{Name: "s", Topic: "d", AckWait: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}
