package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ananyateklu/second-brain-sub005/internal/protocol"
)

// Config holds transport tuning knobs.
type Config struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

// MessageHandler receives every decoded inbound message, in arrival order.
type MessageHandler func(protocol.Message)

// ClosedHandler fires once when the channel stops reading. err is nil when
// the close was requested locally, non-nil on an unexpected disconnect.
type ClosedHandler func(err error)

// Channel is a full-duplex ordered message channel to the agent backend over
// a single websocket connection. One reader goroutine decodes inbound frames
// and hands them to the message handler one at a time, so downstream code
// never sees messages out of order. Sends are safe for concurrent callers.
type Channel struct {
	url    string
	header http.Header
	config Config
	logger *slog.Logger

	onMessage MessageHandler
	onDecode  func(*protocol.ProtocolError)
	onClosed  ClosedHandler

	// Connection state
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	closed    bool

	// Statistics
	messagesSent     uint64
	messagesReceived uint64
	decodeErrors     uint64

	mu sync.Mutex
}

// ChannelStats represents transport statistics for monitoring.
type ChannelStats struct {
	Connected        bool   `json:"connected"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	DecodeErrors     uint64 `json:"decode_errors"`
}

// NewChannel creates a channel for the given endpoint. onDecode receives
// recoverable wire errors (unknown type, malformed payload); the read loop
// keeps going after them.
func NewChannel(url string, header http.Header, config Config, logger *slog.Logger,
	onMessage MessageHandler, onDecode func(*protocol.ProtocolError), onClosed ClosedHandler) (*Channel, error) {
	if url == "" {
		return nil, fmt.Errorf("channel URL cannot be empty")
	}

	if onMessage == nil {
		return nil, fmt.Errorf("message handler cannot be nil")
	}

	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}

	return &Channel{
		url:       url,
		header:    header,
		config:    config,
		logger:    logger,
		onMessage: onMessage,
		onDecode:  onDecode,
		onClosed:  onClosed,
	}, nil
}

// Connect dials the endpoint and starts the read loop.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("channel is closed")
	}
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("channel already connected")
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPHeader: c.header,
	})
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	if c.config.ReadLimit > 0 {
		conn.SetReadLimit(c.config.ReadLimit)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	readCtx := c.ctx
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("Channel connected", slog.String("url", c.url))
	}

	go c.readLoop(readCtx, conn)

	return nil
}

// Send encodes and writes an outbound message. Safe for concurrent use.
func (c *Channel) Send(ctx context.Context, msg protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("channel not connected")
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.MessageType(), err)
	}

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s message: %w", msg.MessageType(), err)
	}

	c.mu.Lock()
	c.messagesSent++
	c.mu.Unlock()

	return nil
}

// Close shuts the channel down from our side. The read loop reports a clean
// close rather than a disconnect. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}

	return nil
}

// IsConnected reports whether the channel has an active connection.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// GetStats returns current channel statistics.
func (c *Channel) GetStats() ChannelStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ChannelStats{
		Connected:        c.connected && !c.closed,
		MessagesSent:     c.messagesSent,
		MessagesReceived: c.messagesReceived,
		DecodeErrors:     c.decodeErrors,
	}
}

// readLoop reads frames until the connection drops or Close is called.
// Messages are decoded and delivered synchronously to preserve order.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.finish(err)
			return
		}

		msg, decodeErr := protocol.Decode(data)
		if decodeErr != nil {
			c.mu.Lock()
			c.decodeErrors++
			c.mu.Unlock()

			var perr *protocol.ProtocolError
			if errors.As(decodeErr, &perr) && c.onDecode != nil {
				c.onDecode(perr)
			} else if c.logger != nil {
				c.logger.Warn("Dropping undecodable message", slog.String("error", decodeErr.Error()))
			}
			continue
		}

		c.mu.Lock()
		c.messagesReceived++
		c.mu.Unlock()

		c.onMessage(msg)
	}
}

// finish marks the channel dead and reports how it died.
func (c *Channel) finish(readErr error) {
	c.mu.Lock()
	wasRequested := c.closed
	c.connected = false
	c.mu.Unlock()

	if wasRequested || websocket.CloseStatus(readErr) == websocket.StatusNormalClosure {
		readErr = nil
	}

	if c.logger != nil {
		if readErr != nil {
			c.logger.Warn("Channel disconnected", slog.String("error", readErr.Error()))
		} else {
			c.logger.Info("Channel closed")
		}
	}

	if c.onClosed != nil {
		c.onClosed(readErr)
	}
}
