package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Status is the connection state of the client. StatusOpen means the socket is
// up but the session-configuration handshake has not been acknowledged yet;
// only StatusConfigured accepts application frames.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusOpen
	StatusConfigured
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusConfigured:
		return "configured"
	}
	return "unknown"
}

// Client owns one persistent duplex connection to the remote endpoint. It
// serializes outbound frames, decodes inbound frames into typed events, and
// performs the two-phase session-configuration handshake: "socket open" is not
// "ready", callers are unblocked only once the remote acknowledges the
// configuration.
type Client struct {
	handler Handler

	configMu sync.RWMutex
	config   SessionConfig

	// connMu guards the connection handle and serializes every write; the
	// transport is written from at most one send path at a time.
	connMu sync.Mutex
	conn   *websocket.Conn
	hs     *handshake

	status atomic.Int32
}

type handshake struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newHandshake() *handshake {
	return &handshake{done: make(chan struct{})}
}

func (h *handshake) resolve(err error) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

func NewClient(handler Handler) *Client {
	return &Client{handler: handler}
}

// SetSessionConfig stores the configuration sent during the next handshake.
func (c *Client) SetSessionConfig(config SessionConfig) {
	c.configMu.Lock()
	c.config = config
	c.configMu.Unlock()
}

func (c *Client) sessionConfig() SessionConfig {
	c.configMu.RLock()
	defer c.configMu.RUnlock()
	return c.config
}

func (c *Client) Status() Status { return Status(c.status.Load()) }

func (c *Client) IsConnected() bool { return c.Status() == StatusConfigured }

// Connect opens the transport and performs the session-configuration
// handshake. It suspends until the remote acknowledges the configuration, the
// connection dies, or ctx expires. Connecting an already configured client
// succeeds immediately without re-handshaking.
func (c *Client) Connect(ctx context.Context, connectURL string, headers http.Header) error {
	if c.Status() == StatusConfigured {
		return nil
	}

	ctx, span := tracer.Start(ctx, "connect realtime session")
	defer span.End()

	c.status.Store(int32(StatusConnecting))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, connectURL, headers)
	if err != nil {
		c.status.Store(int32(StatusDisconnected))
		recordedErr := fmt.Errorf("failed to open socket connection: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return recordedErr
	}

	hs := newHandshake()
	c.connMu.Lock()
	c.conn = conn
	c.hs = hs
	c.status.Store(int32(StatusOpen))
	c.connMu.Unlock()

	go c.readLoop(conn, hs)

	if !c.writeJSON(sessionUpdateFrame{Type: "session.update", Session: c.sessionConfig()}, StatusOpen) {
		c.Close(websocket.CloseInternalServerErr, "handshake failed")
		recordedErr := fmt.Errorf("failed to send session configuration")
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return recordedErr
	}

	select {
	case <-hs.done:
		if hs.err != nil {
			span.RecordError(hs.err)
			span.SetStatus(codes.Error, hs.err.Error())
			return hs.err
		}
		span.AddEvent("session configured", trace.WithAttributes(attribute.String("url", connectURL)))
		return nil
	case <-ctx.Done():
		c.Close(websocket.CloseNormalClosure, "handshake cancelled")
		return fmt.Errorf("handshake cancelled: %w", ctx.Err())
	}
}

// Send marshals v and writes it if the session is open and configured. It
// never blocks on readiness: callers must check the return value rather than
// assume delivery.
func (c *Client) Send(v any) bool {
	return c.writeJSON(v, StatusConfigured)
}

func (c *Client) writeJSON(v any, minimum Status) bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil || Status(c.status.Load()) < minimum {
		logger.Warn("cannot send, transport not ready", "status", c.Status().String())
		return false
	}

	if err := c.conn.WriteJSON(v); err != nil {
		logger.Error("failed to write frame", "error", err)
		return false
	}
	return true
}

// SendUserText injects a user text message as a new conversation item.
func (c *Client) SendUserText(text string) bool {
	return c.Send(newUserTextFrame(text))
}

// SendUserImage injects a user image (as a data URL) as a new conversation
// item.
func (c *Client) SendUserImage(dataURL string) bool {
	return c.Send(newUserImageFrame(dataURL))
}

// SendToolResult injects a tool result as a new conversation item. It must be
// followed by RequestResponse to resume generation.
func (c *Client) SendToolResult(callID, result string) bool {
	return c.Send(newToolResultFrame(callID, result))
}

// RequestResponse asks the remote to begin generating. The caller is
// responsible for having already moved the turn state to thinking.
func (c *Client) RequestResponse() bool {
	return c.Send(newResponseCreateFrame())
}

// CancelResponse cancels the in-flight generation, if any.
func (c *Client) CancelResponse() bool {
	return c.Send(responseCancelFrame{Type: "response.cancel"})
}

// TruncateItem truncates an assistant item's audio at audioEndMs so the
// server-side history matches what was actually heard.
func (c *Client) TruncateItem(itemID string, audioEndMs int) bool {
	return c.Send(itemTruncateFrame{
		Type:       "conversation.item.truncate",
		ItemID:     itemID,
		AudioEndMs: audioEndMs,
	})
}

// AppendAudio streams one captured PCM frame into the server-side input
// buffer.
func (c *Client) AppendAudio(pcm []byte) bool {
	return c.Send(newAudioAppendFrame(pcm))
}

// UpdateSession pushes a new session configuration mid-session.
func (c *Client) UpdateSession(config SessionConfig) bool {
	c.SetSessionConfig(config)
	return c.Send(sessionUpdateFrame{Type: "session.update", Session: config})
}

// Close tears the connection down. Safe to call at any time; closing an
// already closed client is a no-op.
func (c *Client) Close(code int, reason string) {
	c.connMu.Lock()
	conn := c.conn
	hs := c.hs
	c.conn = nil
	c.hs = nil
	c.status.Store(int32(StatusDisconnected))
	c.connMu.Unlock()

	if conn == nil {
		return
	}

	hs.resolve(fmt.Errorf("connection closed before session was updated"))
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, closeWriteDeadline()); err != nil {
		logger.Debug("failed to write close frame", "error", err)
	}
	_ = conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn, hs *handshake) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			deliberate := c.conn != conn
			if !deliberate {
				c.conn = nil
				c.hs = nil
				c.status.Store(int32(StatusDisconnected))
			}
			c.connMu.Unlock()

			hs.resolve(fmt.Errorf("connection closed before session was updated: %w", err))
			_ = conn.Close()

			closed := Closed{}
			if closeErr, ok := err.(*websocket.CloseError); ok {
				closed.Code = closeErr.Code
				closed.Reason = closeErr.Text
			}
			if !deliberate && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				closed.Err = err
			}
			c.dispatch(closed)
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		event, err := DecodeEvent(msg)
		if err != nil {
			logger.Error("failed to decode frame", "error", err)
			continue
		}

		if _, ok := event.(SessionUpdated); ok {
			if c.status.CompareAndSwap(int32(StatusOpen), int32(StatusConfigured)) {
				logger.Info("session configured")
			}
			hs.resolve(nil)
		}
		if errEvent, ok := event.(ErrorEvent); ok {
			hs.resolve(fmt.Errorf("server returned an error during setup: %s", errEvent.Error.Message))
		}

		c.dispatch(event)
	}
}

func closeWriteDeadline() time.Time {
	return time.Now().Add(time.Second)
}

func (c *Client) dispatch(event Event) {
	if c.handler != nil {
		c.handler.HandleEvent(event)
	}
}
