package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/simbuilder/servicebus/message"
	"github.com/simbuilder/servicebus/pkg/retry"
	"github.com/simbuilder/servicebus/topic"
)

// startNATSContainer starts a NATS container with JetStream enabled and
// returns it together with the client URL.
func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
		Cmd:          []string{"-js", "-m", "8222"},
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)

	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	natsURL := fmt.Sprintf("nats://%s:%s", host, port.Port())

	// Wait for NATS to be fully ready
	time.Sleep(200 * time.Millisecond)

	return natsContainer, natsURL
}

func integrationClient(t *testing.T, natsURL string) (*Client, *topic.Registry) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Servers = []string{natsURL}
	cfg.ClientID = fmt.Sprintf("it-%s", t.Name())

	registry := topic.NewRegistry()
	client, err := NewClient(cfg, registry)
	require.NoError(t, err)
	return client, registry
}

func TestIntegration_ConnectAndHealth(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, _ := integrationClient(t, natsURL)

	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect(ctx)

	assert.True(t, client.IsConnected())
	assert.Equal(t, StatusConnected, client.Status())

	h := client.HealthCheck()
	assert.True(t, h.Connected)
	assert.NotEmpty(t, h.RTT)
	assert.NotEmpty(t, h.ServerVersion)
	assert.Empty(t, h.Error)

	// Connect is idempotent
	require.NoError(t, client.Connect(ctx))
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, registry := integrationClient(t, natsURL)
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect(ctx)

	discovery, err := registry.Get("discovery")
	require.NoError(t, err)
	_, err = client.EnsureStream(ctx, *discovery)
	require.NoError(t, err)

	received := make(chan *message.Envelope, 1)
	subID, err := client.Subscribe(ctx, SubscriptionConfig{
		Name:  "it-consumer",
		Topic: "discovery",
	}, func(_ context.Context, env *message.Envelope) error {
		select {
		case received <- env:
		default:
		}
		return nil
	}, nil)
	require.NoError(t, err)
	defer client.Unsubscribe(subID)

	env, err := message.NewEnvelope(message.TypeProgressUpdate, "it-publisher",
		map[string]any{"operation": "tenant_discovery", "percentage": 25.0},
		message.WithSessionID("session-it"))
	require.NoError(t, err)

	subject := topic.DiscoverySubject("session-it", "progress")
	id, err := client.Publish(ctx, subject, env)
	require.NoError(t, err)
	assert.Equal(t, env.ID(), id)

	select {
	case got := <-received:
		assert.Equal(t, env.ID(), got.ID())
		assert.Equal(t, message.TypeProgressUpdate, got.Type())
		assert.Equal(t, "session-it", got.SessionID())

		p, err := message.ParseProgress(got)
		require.NoError(t, err)
		assert.Equal(t, "tenant_discovery", p.Operation)
		require.NotNil(t, p.Percentage)
		assert.Equal(t, 25.0, *p.Percentage)
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_EnsureStreamIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, registry := integrationClient(t, natsURL)
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect(ctx)

	system, err := registry.Get("system_events")
	require.NoError(t, err)

	info, err := client.EnsureStream(ctx, *system)
	require.NoError(t, err)
	assert.Equal(t, "SYSTEM_EVENTS", info.Config.Name)
	assert.Equal(t, []string{"system.>"}, info.Config.Subjects)

	// Second call updates in place rather than failing
	system.MaxMsgs = 20_000
	info, err = client.EnsureStream(ctx, *system)
	require.NoError(t, err)
	assert.Equal(t, int64(20_000), info.Config.MaxMsgs)
}

func TestIntegration_PublishWithRetry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, registry := integrationClient(t, natsURL)
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect(ctx)

	discovery, err := registry.Get("discovery")
	require.NoError(t, err)
	_, err = client.EnsureStream(ctx, *discovery)
	require.NoError(t, err)

	env, err := message.NewEnvelope(message.TypeDiscoveryStart, "it-publisher",
		map[string]any{"tenant": "contoso"}, message.WithSessionID("session-it"))
	require.NoError(t, err)

	id, err := PublishWithRetry(ctx, client,
		topic.DiscoverySubject("session-it", "start"), env, retry.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, env.ID(), id)

	// Invalid subjects fail without retrying
	id, err = PublishWithRetry(ctx, client, "bogus.subject", env, retry.DefaultConfig())
	require.Error(t, err)
	assert.Empty(t, id)
}

func TestIntegration_QueueGroupLoadBalancing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, registry := integrationClient(t, natsURL)
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect(ctx)

	simulation, err := registry.Get("simulation_events")
	require.NoError(t, err)
	_, err = client.EnsureStream(ctx, *simulation)
	require.NoError(t, err)

	received := make(chan string, 10)
	handler := func(worker string) Handler {
		return func(_ context.Context, _ *message.Envelope) error {
			received <- worker
			return nil
		}
	}

	// Two subscriptions sharing a queue group split the messages.
	sub1, err := client.Subscribe(ctx, SubscriptionConfig{
		Name: "worker-1", Topic: "simulation_events", QueueGroup: "sim-workers",
	}, handler("worker-1"), nil)
	require.NoError(t, err)
	defer client.Unsubscribe(sub1)

	sub2, err := client.Subscribe(ctx, SubscriptionConfig{
		Name: "worker-2", Topic: "simulation_events", QueueGroup: "sim-workers",
	}, handler("worker-2"), nil)
	require.NoError(t, err)
	defer client.Unsubscribe(sub2)

	for i := 0; i < 6; i++ {
		env, err := message.NewEnvelope(message.TypeProgressUpdate, "it-publisher",
			map[string]any{"operation": "simulate", "percentage": float64(i * 10)})
		require.NoError(t, err)
		_, err = client.Publish(ctx, topic.SimulationSubject("sim-1", "progress"), env)
		require.NoError(t, err)
	}

	deliveries := 0
	deadline := time.After(5 * time.Second)
	for deliveries < 6 {
		select {
		case <-received:
			deliveries++
		case <-deadline:
			t.Fatalf("only %d of 6 messages delivered", deliveries)
		}
	}
}

func TestIntegration_DisconnectClosesCleanly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, registry := integrationClient(t, natsURL)
	require.NoError(t, client.Connect(ctx))

	discovery, err := registry.Get("discovery")
	require.NoError(t, err)
	_, err = client.EnsureStream(ctx, *discovery)
	require.NoError(t, err)

	_, err = client.Subscribe(ctx, SubscriptionConfig{
		Name: "cleanup-sub", Topic: "discovery",
	}, func(context.Context, *message.Envelope) error { return nil }, nil)
	require.NoError(t, err)

	require.NoError(t, client.Disconnect(ctx))
	assert.Equal(t, StatusClosed, client.Status())
	assert.False(t, client.IsConnected())
}
