package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	buserrors "github.com/simbuilder/servicebus/errors"
)

func TestNewEnvelope_Defaults(t *testing.T) {
	env, err := NewEnvelope(TypeSystemStatus, "api-gateway", map[string]any{"status": "ok"})
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID())
	assert.Equal(t, TypeSystemStatus, env.Type())
	assert.Equal(t, "api-gateway", env.Source())
	assert.Equal(t, PriorityNormal, env.Priority())
	assert.Empty(t, env.SessionID())
	assert.WithinDuration(t, time.Now().UTC(), env.CreatedAt(), time.Second)
	assert.Equal(t, "ok", env.Payload()["status"])
}

func TestNewEnvelope_Options(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	env, err := NewEnvelope(TypeDiscoveryStart, "discovery-agent", map[string]any{},
		WithSessionID("session-42"),
		WithPriority(PriorityHigh),
		WithTime(ts),
		WithID("explicit-id"))
	require.NoError(t, err)

	assert.Equal(t, "explicit-id", env.ID())
	assert.Equal(t, "session-42", env.SessionID())
	assert.Equal(t, PriorityHigh, env.Priority())
	assert.Equal(t, ts, env.CreatedAt())
}

func TestNewEnvelope_Validation(t *testing.T) {
	tests := []struct {
		name    string
		msgType Type
		source  string
		payload map[string]any
		opts    []Option
	}{
		{"unknown type", Type("bogus"), "src", map[string]any{}, nil},
		{"nil payload", TypeSystemStatus, "src", nil, nil},
		{"empty source", TypeSystemStatus, "", map[string]any{}, nil},
		{"unknown priority", TypeSystemStatus, "src", map[string]any{}, []Option{WithPriority("urgent")}},
		{"empty id", TypeSystemStatus, "src", map[string]any{}, []Option{WithID("")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEnvelope(tt.msgType, tt.source, tt.payload, tt.opts...)
			require.Error(t, err)
			assert.True(t, buserrors.IsInvalid(err), "expected invalid classification, got: %v", err)
		})
	}
}

func TestEnvelope_JSONRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	env, err := NewEnvelope(TypeProgressUpdate, "progress-notifier",
		map[string]any{"operation": "tenant_discovery", "percentage": 50.0},
		WithSessionID("session-42"),
		WithPriority(PriorityCritical),
		WithTime(ts),
		WithID("msg-1"))
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, env.ID(), decoded.ID())
	assert.Equal(t, env.Type(), decoded.Type())
	assert.Equal(t, env.SessionID(), decoded.SessionID())
	assert.Equal(t, env.Priority(), decoded.Priority())
	assert.Equal(t, env.Source(), decoded.Source())
	assert.True(t, env.CreatedAt().Equal(decoded.CreatedAt()))
	assert.Equal(t, env.Payload(), decoded.Payload())
}

func TestEnvelope_WireFieldNames(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	env, err := NewEnvelope(TypeDiscoveryComplete, "discovery-agent",
		map[string]any{"resources": float64(120)},
		WithSessionID("session-42"),
		WithTime(ts),
		WithID("msg-2"))
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "msg-2", raw["id"])
	assert.Equal(t, "discovery_complete", raw["type"])
	assert.Equal(t, "session-42", raw["session_id"])
	assert.Equal(t, "2026-03-14T09:26:53Z", raw["created_at"])
	assert.Equal(t, "normal", raw["priority"])
	assert.Equal(t, "discovery-agent", raw["source"])
	assert.Contains(t, raw, "payload")
}

func TestEnvelope_SessionIDOmittedWhenEmpty(t *testing.T) {
	env, err := NewEnvelope(TypeSystemStatus, "src", map[string]any{})
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "session_id")
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{not json`},
		{"unknown type", `{"id":"1","type":"bogus","created_at":"2026-03-14T09:26:53Z","priority":"normal","source":"src","payload":{}}`},
		{"missing payload", `{"id":"1","type":"system_status","created_at":"2026-03-14T09:26:53Z","priority":"normal","source":"src"}`},
		{"missing source", `{"id":"1","type":"system_status","created_at":"2026-03-14T09:26:53Z","priority":"normal","payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, buserrors.IsInvalid(err))
		})
	}
}

func TestType_IsValid(t *testing.T) {
	for _, typ := range []Type{TypeProgressUpdate, TypeDiscoveryStart, TypeDiscoveryComplete, TypeDiscoveryError, TypeSystemStatus} {
		assert.True(t, typ.IsValid(), "type %q should be valid", typ)
	}
	assert.False(t, Type("").IsValid())
	assert.False(t, Type("unknown").IsValid())
}

func TestPriority_IsValid(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical} {
		assert.True(t, p.IsValid(), "priority %q should be valid", p)
	}
	assert.False(t, Priority("urgent").IsValid())
}
