// Package server manages individual WebSocket clients, handling read/write
// pumps and lifecycle control for each connection admitted to a room.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrooms/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
	disconnectWait = 5 * time.Second
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Client is a WebSocket connection admitted to a room. It implements
// room.Conn: the room queues frames with Send and ends the connection with
// Close, and the client's pumps move frames between the socket and the room.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan [][]byte
	room           *room.Room
	origin         string
	maxMessageSize int64
	logger         zerolog.Logger

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
	// attachment is the serialized room.Attachment kept with the socket.
	attachment []byte
}

// NewClient creates a new Client for conn joined to rm. The client's send
// channel is buffered to absorb bursts while the write pump catches up.
func NewClient(conn *websocket.Conn, rm *room.Room, origin string, maxMessageSize int64, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	if conn != nil && maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}

	roomName := ""
	if rm != nil {
		roomName = rm.Name()
	}

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan [][]byte, sendBufferSize),
		room:           rm,
		origin:         origin,
		maxMessageSize: maxMessageSize,
		logger: logger.With().
			Str("conn", id).
			Str("room", roomName).
			Str("origin", origin).
			Logger(),
	}
}

// ID returns the connection id used in logs.
func (c *Client) ID() string {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing batches.
// Each batch takes one buffer slot.
func (c *Client) GetSendChan() <-chan [][]byte {
	return c.send
}

// Send queues a frame for the write pump without blocking.
func (c *Client) Send(payload []byte) error {
	return c.SendBatch([][]byte{payload})
}

// SendBatch queues frames for the write pump as one unit without blocking.
// The whole batch occupies a single buffer slot and is written back to back.
func (c *Client) SendBatch(payloads [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	if len(payloads) == 0 {
		return nil
	}
	select {
	case c.send <- payloads:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close ends the connection with code and reason. Frames already queued are
// written first; the write pump then sends the close frame. Closing twice is
// a no-op.
func (c *Client) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode, c.closeReason = sendableCloseCode(code), reason
	close(c.send)
	return nil
}

// Attachment decodes the record stored with the socket.
func (c *Client) Attachment() room.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()

	var att room.Attachment
	if len(c.attachment) > 0 {
		if err := json.Unmarshal(c.attachment, &att); err != nil {
			c.logger.Warn().Err(err).Msg("unreadable connection attachment")
		}
	}
	return att
}

// SetAttachment replaces the record stored with the socket.
func (c *Client) SetAttachment(att room.Attachment) {
	data, err := json.Marshal(att)
	if err != nil {
		c.logger.Error().Err(err).Msg("encoding connection attachment")
		return
	}

	c.mu.Lock()
	c.attachment = data
	c.mu.Unlock()
}

func (c *Client) closeStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug().Err(err).Msg("setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Debug().Err(err).Msg("setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read error and returns the close code and reason
// to hand to the room.
func (c *Client) handleReadError(err error) (int, string) {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn().Int64("limit", c.maxMessageSize).Msg("message exceeded maximum size")
		return websocket.CloseMessageTooBig, "message too big"
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if websocket.IsUnexpectedCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
			websocket.CloseAbnormalClosure) {
			c.logger.Warn().Err(err).Msg("unexpected close")
		} else {
			c.logger.Debug().Int("code", closeErr.Code).Msg("client disconnected")
		}
		return closeErr.Code, closeErr.Text
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("connection closed")
		return 0, ""
	}

	c.logger.Warn().Err(err).Msg("websocket read error")
	return 0, ""
}

func (c *Client) readPump(ctx context.Context) {
	var code int
	var reason string

	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), disconnectWait)
		defer cancel()
		if err := c.room.Disconnect(dctx, c, code, reason); err != nil {
			c.logger.Debug().Err(err).Msg("room disconnect")
		}
		// No-op when the room already closed us.
		_ = c.Close(websocket.CloseGoingAway, room.ReasonShutdown)
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			code, reason = c.handleReadError(err)
			return
		}

		if err := c.room.Receive(ctx, c, rawMessage); err != nil {
			c.logger.Debug().Err(err).Msg("room stopped accepting messages")
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case batch, ok := <-c.send:
		return c.handleMessage(batch, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("closing connection")
		}
	}
}

// handleMessage writes one outgoing batch and returns false if the connection should be closed
func (c *Client) handleMessage(batch [][]byte, ok bool) bool {
	if !ok {
		if !c.setWriteDeadline() {
			return false
		}
		return c.writeCloseMessage()
	}

	for _, message := range batch {
		if !c.setWriteDeadline() || !c.writeTextMessage(message) {
			return false
		}
	}
	return true
}

func (c *Client) setWriteDeadline() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("setting write deadline")
		return false
	}
	return true
}

// writeCloseMessage sends the close frame recorded by Close.
func (c *Client) writeCloseMessage() bool {
	code, reason := c.closeStatus()
	payload := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteMessage(websocket.CloseMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("writing close message")
		}
	}
	return false
}

// writeTextMessage writes one frame. Each frame carries exactly one JSON object.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("writing message")
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("writing ping")
		return false
	}
	return true
}
