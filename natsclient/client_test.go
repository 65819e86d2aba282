package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithClientName("cachescope-agent"))
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())

	_, err = client.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	client, err := NewClient("nats://invalid:4222", WithCircuitBreakerThreshold(3))
	require.NoError(t, err)

	client.recordFailure()
	client.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(3), client.Failures())
	assert.Equal(t, 2*time.Second, client.Backoff())

	assert.ErrorIs(t, client.Connect(context.Background()), ErrCircuitOpen)

	client.resetCircuit()
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestClient_ConnectCancelled(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1", WithMaxReconnects(0), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, client.Connect(ctx))
	assert.Equal(t, int32(1), client.Failures())
	assert.NoError(t, client.Close(context.Background()))
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.Error(t, client.WaitForConnection(ctx))
}

func TestConnectionOptions(t *testing.T) {
	var reported []bool
	client, err := NewClient("nats://localhost:4222",
		WithToken("s3cret"),
		WithReconnectWait(250*time.Millisecond),
		WithHealthChangeCallback(func(healthy bool) { reported = append(reported, healthy) }),
	)
	require.NoError(t, err)

	opts := nats.GetDefaultOptions()
	for _, o := range client.connectionOptions() {
		require.NoError(t, o(&opts))
	}
	assert.Equal(t, "s3cret", opts.Token)
	assert.Equal(t, 250*time.Millisecond, opts.ReconnectWait)

	opts.DisconnectedErrCB(nil, nil)
	assert.Equal(t, StatusReconnecting, client.Status())
	opts.ReconnectedCB(nil)
	assert.Equal(t, StatusConnected, client.Status())
	assert.Equal(t, []bool{false, true}, reported)
}
