package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ananyateklu/second-brain-sub005/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// collector gathers inbound messages and decode errors behind a mutex.
type collector struct {
	mu       sync.Mutex
	messages []protocol.Message
	decode   []*protocol.ProtocolError
	closed   chan error
}

func newCollector() *collector {
	return &collector{closed: make(chan error, 1)}
}

func (c *collector) onMessage(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func (c *collector) onDecode(err *protocol.ProtocolError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decode = append(c.decode, err)
}

func (c *collector) onClosed(err error) {
	c.closed <- err
}

func (c *collector) snapshot() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.messages...)
}

func (c *collector) decodeErrors() []*protocol.ProtocolError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.ProtocolError(nil), c.decode...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNewChannelValidation(t *testing.T) {
	if _, err := NewChannel("", nil, Config{}, testLogger(), func(protocol.Message) {}, nil, nil); err == nil {
		t.Error("Expected error for empty URL")
	}
	if _, err := NewChannel("ws://example", nil, Config{}, testLogger(), nil, nil, nil); err == nil {
		t.Error("Expected error for nil message handler")
	}
}

func TestChannelReceivesInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for i := 1; i <= 3; i++ {
			payload, _ := json.Marshal(map[string]any{
				"type":    "transcript",
				"text":    strings.Repeat("a", i),
				"isFinal": i == 3,
			})
			if err := conn.Write(r.Context(), websocket.MessageText, payload); err != nil {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	col := newCollector()
	ch, err := NewChannel(wsURL(srv), nil, Config{}, testLogger(), col.onMessage, col.onDecode, col.onClosed)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	waitFor(t, time.Second, func() bool { return len(col.snapshot()) == 3 })

	for i, msg := range col.snapshot() {
		tr, ok := msg.(*protocol.TranscriptMessage)
		if !ok {
			t.Fatalf("Message %d: expected transcript, got %T", i, msg)
		}
		if len(tr.Text) != i+1 {
			t.Errorf("Message %d out of order: text %q", i, tr.Text)
		}
	}

	stats := ch.GetStats()
	if stats.MessagesReceived != 3 {
		t.Errorf("Expected 3 messages received, got %d", stats.MessagesReceived)
	}
}

func TestChannelSend(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		received <- data
	}))
	defer srv.Close()

	col := newCollector()
	ch, err := NewChannel(wsURL(srv), nil, Config{}, testLogger(), col.onMessage, nil, col.onClosed)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	frame := protocol.NewAudioFrameMessage([]byte{0x01, 0x02}, false)
	if err := ch.Send(context.Background(), frame); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case data := <-received:
		var envelope map[string]any
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.Fatalf("Server received malformed JSON: %v", err)
		}
		if envelope["type"] != "audio" {
			t.Errorf("Expected type audio, got %v", envelope["type"])
		}
		if envelope["audio"] != "AQI=" {
			t.Errorf("Expected base64 payload AQI=, got %v", envelope["audio"])
		}
	case <-time.After(time.Second):
		t.Fatal("Server never received the frame")
	}

	if stats := ch.GetStats(); stats.MessagesSent != 1 {
		t.Errorf("Expected 1 message sent, got %d", stats.MessagesSent)
	}
}

func TestChannelRecoverableDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"mystery"}`))
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`not-json`))
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"pong"}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	col := newCollector()
	ch, err := NewChannel(wsURL(srv), nil, Config{}, testLogger(), col.onMessage, col.onDecode, col.onClosed)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	// The loop must survive both bad frames and still deliver the pong.
	waitFor(t, time.Second, func() bool { return len(col.snapshot()) == 1 })

	if _, ok := col.snapshot()[0].(*protocol.PongMessage); !ok {
		t.Errorf("Expected pong after bad frames, got %T", col.snapshot()[0])
	}

	decodeErrs := col.decodeErrors()
	if len(decodeErrs) != 2 {
		t.Fatalf("Expected 2 decode errors, got %d", len(decodeErrs))
	}
	for _, perr := range decodeErrs {
		if !perr.Recoverable {
			t.Errorf("Expected recoverable decode error, got %+v", perr)
		}
	}
}

func TestChannelLocalClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Hold the connection open until the client closes.
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	col := newCollector()
	ch, err := NewChannel(wsURL(srv), nil, Config{}, testLogger(), col.onMessage, nil, col.onClosed)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	select {
	case err := <-col.closed:
		if err != nil {
			t.Errorf("Expected nil error for local close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("onClosed never fired")
	}

	if ch.IsConnected() {
		t.Error("Expected channel disconnected after Close")
	}
}

func TestChannelUnexpectedDisconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Abrupt close without a close frame.
		conn.CloseNow()
	}))
	defer srv.Close()

	col := newCollector()
	ch, err := NewChannel(wsURL(srv), nil, Config{}, testLogger(), col.onMessage, nil, col.onClosed)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	select {
	case err := <-col.closed:
		if err == nil {
			t.Error("Expected non-nil error for unexpected disconnect")
		}
	case <-time.After(time.Second):
		t.Fatal("onClosed never fired")
	}
}

func TestChannelSendBeforeConnect(t *testing.T) {
	ch, err := NewChannel("ws://127.0.0.1:1", nil, Config{}, testLogger(), func(protocol.Message) {}, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}

	if err := ch.Send(context.Background(), &protocol.ControlMessage{Action: protocol.ActionStop}); err == nil {
		t.Error("Expected error sending before Connect")
	}
}
