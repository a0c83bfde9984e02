package ws

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-bridge/internal/logging"
)

type recordingHandler struct {
	mu       sync.Mutex
	commands []string
	last     *Client
}

func (h *recordingHandler) HandleCommand(c *Client, event string, data json.RawMessage) {
	h.mu.Lock()
	h.commands = append(h.commands, event)
	h.last = c
	h.mu.Unlock()
	c.SendStatus("ok: "+event, "info")
}

func (h *recordingHandler) received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

func (h *recordingHandler) client() *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func newTestHub(t *testing.T) (*Hub, *recordingHandler, *websocket.Conn) {
	t.Helper()
	hub := NewHub(logging.New(io.Discard, "silent"))
	handler := &recordingHandler{}
	hub.SetHandler(handler)
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return hub, handler, conn
}

func TestCommandDispatch(t *testing.T) {
	_, handler, conn := newTestHub(t)

	require.NoError(t, conn.WriteJSON(Frame{Event: CmdGetChats}))

	require.Eventually(t, func() bool {
		got := handler.received()
		return len(got) == 1 && got[0] == CmdGetChats
	}, time.Second, 5*time.Millisecond)

	// The handler's status reply comes back on the same connection.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, EventStatusUpdate, f.Event)
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	hub, _, conn1 := newTestHub(t)

	// Second connection on the same hub.
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn2, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn2.Close() })

	// Registration goes through the hub loop; give it a beat.
	time.Sleep(20 * time.Millisecond)

	hub.Broadcast(EventWhatsAppReady, map[string]string{"id": "5511000000000@c.us"})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		assert.Equal(t, EventWhatsAppReady, f.Event)
	}
}

func TestUnicastAfterDisconnect(t *testing.T) {
	hub, handler, conn := newTestHub(t)

	require.NoError(t, conn.WriteJSON(Frame{Event: CmdConnectWhatsApp}))
	require.Eventually(t, func() bool {
		return handler.client() != nil
	}, time.Second, 5*time.Millisecond)
	client := handler.client()

	// Operator closes the browser tab; the hub unregisters the connection.
	conn.Close()
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 0
	}, time.Second, 5*time.Millisecond)

	// A QR code or status update arriving afterwards must fail cleanly,
	// never take the process down.
	assert.NotPanics(t, func() {
		err := client.SendEvent(EventQRCode, "late-qr")
		assert.ErrorIs(t, err, errConnClosed)
		client.SendStatus("late status", "info")
	})
}

func TestSendEventBufferFull(t *testing.T) {
	c := &Client{send: make(chan []byte)} // unbuffered: always full

	err := c.SendEvent(EventStatusUpdate, StatusUpdate{Message: "x", Type: "info"})
	assert.ErrorIs(t, err, errSendBufferFull)
}

func TestMalformedFrameGetsErrorStatus(t *testing.T) {
	_, handler, conn := newTestHub(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, EventStatusUpdate, f.Event)

	var status StatusUpdate
	require.NoError(t, json.Unmarshal(f.Data, &status))
	assert.Equal(t, "error", status.Type)
	assert.Empty(t, handler.received())
}
