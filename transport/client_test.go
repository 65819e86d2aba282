package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/identity"
	"github.com/c360/cachescope/metric"
)

// echoServer reflects every frame back with the "echo" event and the same
// payload, and records the handshake query.
type echoServer struct {
	*httptest.Server

	mu      sync.Mutex
	queries []url.Values
	conns   []*Conn
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	s := &echoServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		codec, err := CodecByName(r.URL.Query().Get(ParamCodec))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(ws, codec, nil)
		s.mu.Lock()
		s.queries = append(s.queries, r.URL.Query())
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			f, err := conn.Read()
			if err != nil {
				return
			}
			var payload any
			if len(f.Payload) > 0 {
				if err := f.Decode(&payload); err != nil {
					return
				}
			}
			if err := conn.Send(context.Background(), "echo", payload); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *echoServer) query(i int) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[i]
}

func (s *echoServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

func testIdentity() identity.Identity {
	return identity.Identity{
		DeviceName:      "Pixel 8",
		DeviceID:        "android-1",
		Platform:        "android",
		ExtraDeviceInfo: map[string]string{"model": "shiba"},
		EnvVariables:    map[string]string{"API_URL": "https://api.example.com"},
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("http://localhost:42831", testIdentity())
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("ws://localhost:42831", identity.Identity{DeviceName: "x"})
	assert.True(t, errors.IsInvalid(err))

	c, err := NewClient("ws://localhost:42831", testIdentity())
	require.NoError(t, err)
	assert.False(t, c.Connected())
}

func TestClient_EmitWithoutConnection(t *testing.T) {
	c, err := NewClient("ws://localhost:42831", testIdentity())
	require.NoError(t, err)

	err = c.Emit(context.Background(), EventQuerySync, map[string]any{})
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.NoError(t, c.Close())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done must be closed while disconnected")
	}
}

func TestClient_ConnectFailsOnce(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), testIdentity(),
		WithHandshakeTimeout(200*time.Millisecond))
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, c.Connected())
}

func TestClient_HandshakeCarriesIdentity(t *testing.T) {
	srv := newEchoServer(t)
	c, err := NewClient(srv.wsURL(), testIdentity(), WithCodec(CBOR{}))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.queries) == 1
	}, time.Second, 5*time.Millisecond)

	q := srv.query(0)
	assert.Equal(t, CodecCBOR, q.Get(ParamCodec))
	got, err := identity.FromValues(q)
	require.NoError(t, err)
	assert.True(t, got.Equal(testIdentity()))
}

func TestClient_RoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSON{}, CBOR{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			srv := newEchoServer(t)
			registry := metric.NewMetricsRegistry()
			c, err := NewClient(srv.wsURL(), testIdentity(), WithCodec(codec), WithMetrics(registry))
			require.NoError(t, err)

			received := make(chan map[string]any, 4)
			c.On("echo", func(_ context.Context, f Frame) {
				var payload map[string]any
				if assert.NoError(t, f.Decode(&payload)) {
					received <- payload
				}
			})

			require.NoError(t, c.Connect(context.Background()))
			defer c.Close()
			assert.True(t, c.Connected())

			err = c.Emit(context.Background(), EventDeviceInfo, map[string]any{"deviceName": "Pixel 8"})
			require.NoError(t, err)

			select {
			case payload := <-received:
				assert.Equal(t, "Pixel 8", payload["deviceName"])
			case <-time.After(2 * time.Second):
				t.Fatal("no echo received")
			}

			assert.ErrorIs(t, c.Connect(context.Background()), errors.ErrAlreadyConnected)
		})
	}
}

func TestClient_HandlersRunInArrivalOrder(t *testing.T) {
	srv := newEchoServer(t)
	c, err := NewClient(srv.wsURL(), testIdentity())
	require.NoError(t, err)

	var mu sync.Mutex
	var order []float64
	c.On("echo", func(_ context.Context, f Frame) {
		var payload map[string]float64
		require.NoError(t, f.Decode(&payload))
		mu.Lock()
		order = append(order, payload["n"])
		mu.Unlock()
	})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Emit(context.Background(), EventQueryAction, map[string]int{"n": i}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 20
	}, 2*time.Second, 5*time.Millisecond)
	for i, n := range order {
		assert.Equal(t, float64(i), n)
	}
}

func TestClient_StateChanges(t *testing.T) {
	srv := newEchoServer(t)
	c, err := NewClient(srv.wsURL(), testIdentity())
	require.NoError(t, err)

	states := make(chan bool, 4)
	remove := c.OnStateChange(func(connected bool) { states <- connected })

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, <-states)

	done := c.Done()
	srv.dropAll()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss not detected")
	}
	assert.False(t, <-states)
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Emit(context.Background(), EventQuerySync, nil), errors.ErrNotConnected)

	remove()
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())
	assert.Empty(t, states)
}
