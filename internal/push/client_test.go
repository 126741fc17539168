package push

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// refusingServer rejects every handshake and counts the attempts.
func refusingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv, &attempts
}

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateReconnecting, true},
		{StateConnected, StateReconnecting, true},
		{StateReconnecting, StateConnecting, true},
		{StateReconnecting, StateDisconnected, true},
		{StateDisconnected, StateConnected, false},
		{StateConnected, StateConnecting, false},
		{StateReconnecting, StateConnected, false},
	}
	for _, tc := range cases {
		err := tc.from.validateTransitionTo(tc.to)
		if tc.ok {
			assert.NoError(t, err, "%v -> %v", tc.from, tc.to)
		} else {
			assert.Error(t, err, "%v -> %v", tc.from, tc.to)
		}
	}
}

func TestReconnectStopsAfterMaxAttempts(t *testing.T) {
	srv, attempts := refusingServer(t)
	c := New(Config{URL: wsURL(srv), ReconnectDelay: 10 * time.Millisecond, MaxReconnectAttempts: 3}, nil)

	c.Connect()
	require.Eventually(t, func() bool {
		return attempts.Load() == 3 && c.State() == StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load(), "no automatic attempt after the bound")
	assert.Equal(t, StateDisconnected, c.State())

	c.Connect()
	require.Eventually(t, func() bool {
		return attempts.Load() == 6 && c.State() == StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDisconnectCancelsReconnectDelay(t *testing.T) {
	srv, _ := refusingServer(t)
	c := New(Config{URL: wsURL(srv), ReconnectDelay: time.Hour, MaxReconnectAttempts: 5}, nil)

	c.Connect()
	require.Eventually(t, func() bool { return c.State() == StateReconnecting }, 2*time.Second, 5*time.Millisecond)

	finished := make(chan struct{})
	go func() {
		c.Disconnect()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect did not interrupt the reconnect delay")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestAttemptCounterResetsOnConnect(t *testing.T) {
	var accepted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted.Add(1)
		_ = conn.Close()
	}))
	defer srv.Close()

	c := New(Config{URL: wsURL(srv), ReconnectDelay: 5 * time.Millisecond, MaxReconnectAttempts: 1}, nil)
	c.Connect()
	require.Eventually(t, func() bool { return accepted.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())
}

func TestDispatchDropsMalformedMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{"id":"x"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"project:update","data":{"id":"1"},"timestamp":"2024-01-01T00:00:00Z"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"project:delete","data":{"id":"2"},"timestamp":"2024-01-01T00:00:01Z"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	c := New(Config{URL: wsURL(srv), ReconnectDelay: time.Hour}, zap.New(core))

	var mu sync.Mutex
	var got []string
	record := HandlerFunc(func(e Envelope) {
		var payload struct {
			ID string `json:"id"`
		}
		assert.NoError(t, e.Decode(&payload))
		mu.Lock()
		got = append(got, e.Type+":"+payload.ID)
		mu.Unlock()
	})
	c.Subscribe("project:update", record)
	c.Subscribe("project:delete", record)

	c.Connect()
	defer c.Disconnect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"project:update:1", "project:delete:2"}, got)
	mu.Unlock()
	assert.Equal(t, 2, logs.FilterMessage("push: malformed message dropped").Len())
}

func TestSendRequiresConnection(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	received := make(chan Envelope, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var envelope Envelope
		if json.Unmarshal(data, &envelope) == nil {
			received <- envelope
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c := New(Config{URL: wsURL(srv)}, zap.New(core))
	envelope, err := NewEnvelope("presence:ping", map[string]string{"user": "u1"})
	require.NoError(t, err)

	c.Send(envelope)
	assert.Equal(t, 1, logs.FilterMessage("push: send skipped, channel not connected").Len())

	c.Connect()
	defer c.Disconnect()
	require.Eventually(t, c.IsConnected, 2*time.Second, 5*time.Millisecond)

	c.Send(envelope)
	select {
	case got := <-received:
		assert.Equal(t, "presence:ping", got.Type)
		assert.JSONEq(t, `{"user":"u1"}`, string(got.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive envelope")
	}
}

type countingHandler struct {
	calls int
}

func (h *countingHandler) HandleEvent(Envelope) {
	h.calls++
}

func TestSubscribeSetSemantics(t *testing.T) {
	c := New(Config{}, nil)
	handler := &countingHandler{}

	first := c.Subscribe("project:create", handler)
	second := c.Subscribe("project:create", handler)
	fnCalls := 0
	third := c.Subscribe("project:create", HandlerFunc(func(Envelope) { fnCalls++ }))

	c.dispatch(Envelope{Type: "project:create"})
	assert.Equal(t, 1, handler.calls, "identical handler registered once")
	assert.Equal(t, 1, fnCalls)

	first()
	second()
	c.dispatch(Envelope{Type: "project:create"})
	assert.Equal(t, 1, handler.calls)
	assert.Equal(t, 2, fnCalls)

	third()
	third()
	c.subsMu.RLock()
	_, present := c.handlers["project:create"]
	c.subsMu.RUnlock()
	assert.False(t, present, "empty event type is pruned")
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	c := New(Config{}, nil)
	after := &countingHandler{}
	c.Subscribe("comment:update", HandlerFunc(func(Envelope) { panic("boom") }))
	c.Subscribe("comment:update", after)

	assert.NotPanics(t, func() { c.dispatch(Envelope{Type: "comment:update"}) })
	assert.Equal(t, 1, after.calls)
}

func TestStateListeners(t *testing.T) {
	srv, _ := refusingServer(t)
	c := New(Config{URL: wsURL(srv), ReconnectDelay: time.Millisecond, MaxReconnectAttempts: 1}, nil)

	var mu sync.Mutex
	var seen []State
	remove := c.OnStateChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer remove()

	c.Connect()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateDisconnected}, seen)
	mu.Unlock()
}
