package feed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discord-voice-bridge/internal/voice"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	want := voice.Event{Type: "transcript", ChannelID: "vc1", SpeakerID: "alice", Text: "hello", At: time.Now()}
	hub.Publish(want)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got voice.Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "transcript", got.Type)
	assert.Equal(t, "vc1", got.ChannelID)
	assert.Equal(t, "alice", got.SpeakerID)
	assert.Equal(t, "hello", got.Text)
}

func TestHubFansOut(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c1 := dial(t, srv)
	c2 := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Publish(voice.Event{Type: "reply", Text: "hi"})

	for _, conn := range []*websocket.Conn{c1, c2} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(payload), `"reply"`)
	}
}

func TestHubPublishWithoutClients(t *testing.T) {
	hub := NewHub()
	// must not block or panic
	hub.Publish(voice.Event{Type: "transcript", Text: "nobody listening"})
}

func TestHubRemovesDisconnectedClient(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubEvictsSlowClient(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// a client that never reads backs up past its buffer and is evicted;
	// payloads are large enough to saturate the socket buffers too
	filler := strings.Repeat("x", 64*1024)
	require.Eventually(t, func() bool {
		hub.Publish(voice.Event{Type: "transcript", Text: filler})
		return hub.ClientCount() == 0
	}, 5*time.Second, time.Millisecond)
}
