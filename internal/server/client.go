// Package server manages individual relay connections, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relay/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Router is the registry as seen by a connection handle.
type Router interface {
	Connect(id uuid.UUID, target DeliveryTarget)
	Disconnect(id uuid.UUID)
	Message(id uuid.UUID, payload []byte)
}

// ClientOptions carries the per-connection limits and collaborators.
type ClientOptions struct {
	MaxMessageSize  int64
	SendBuffer      int
	RateLimitBurst  int
	RateLimitRefill time.Duration
	Logger          *slog.Logger
	Metrics         *Metrics
}

// Client adapts one WebSocket connection to the registry's event protocol.
// It owns the write side of the connection: every outbound frame, routed or
// echoed, goes through its send queue and is written by writePump alone.
type Client struct {
	id     uuid.UUID
	conn   *websocket.Conn
	router Router
	addr   string

	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once

	rateLimiter *rateLimiter
	logger      *slog.Logger
	metrics     *Metrics
}

// NewClient creates a Client with a fresh identity for conn. Nothing is sent
// to the router until Serve is called.
func NewClient(conn *websocket.Conn, router Router, addr string, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if conn != nil && opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}

	id := uuid.New()
	return &Client{
		id:          id,
		conn:        conn,
		router:      router,
		addr:        addr,
		send:        make(chan Frame, opts.SendBuffer),
		done:        make(chan struct{}),
		rateLimiter: newRateLimiter(opts.RateLimitBurst, opts.RateLimitRefill),
		logger:      logging.WithConn(opts.Logger, id),
		metrics:     opts.Metrics,
	}
}

// ID returns the connection identity.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// Done is closed once the client has terminated.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Deliver queues f for writing without blocking.
func (c *Client) Deliver(f Frame) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- f:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Serve registers the client, runs its pumps and blocks until the connection
// terminates. Cancelling ctx terminates the connection.
func (c *Client) Serve(ctx context.Context) {
	c.router.Connect(c.id, c)
	c.logger.Info("Client connected", "addr", c.addr)

	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	c.readPump()
}

// Close terminates the client. It is safe to call more than once and from
// any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.router.Disconnect(c.id)
		if c.conn == nil {
			return
		}

		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("Error writing close message", "error", err)
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("Error closing connection", "error", err)
		}
		c.logger.Info("Client terminated", "addr", c.addr)
	})
}

// setupReadConnection configures read deadlines and pong handler for the connection.
// Pings from the peer are answered by gorilla's default ping handler.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) readPump() {
	defer c.Close()

	c.setupReadConnection()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		c.handleFrame(messageType, payload)
	}
}

// handleFrame dispatches one inbound data frame.
func (c *Client) handleFrame(messageType int, payload []byte) {
	switch messageType {
	case websocket.TextMessage:
		if !c.checkRateLimit() {
			return
		}
		c.router.Message(c.id, payload)

	case websocket.BinaryMessage:
		// Binary frames go back to the sender only and are never broadcast.
		if !c.checkRateLimit() {
			return
		}
		if err := c.Deliver(Frame{Kind: FrameBinary, Payload: payload}); err != nil {
			c.logger.Debug("Dropped binary echo", "error", err)
			return
		}
		c.metrics.BinaryEchoes.Inc()
	}
}

// checkRateLimit returns true if the frame should be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter.allow() {
		return true
	}
	c.metrics.RateLimited.Inc()
	c.logger.Warn("Rate limit exceeded; discarding frame", "addr", c.addr)
	return false
}

// logReadError logs why the read loop ended at a level matching its cause.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("Frame exceeded maximum size", "addr", c.addr)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Debug("Client closed connection", "addr", c.addr, "reason", err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		c.logger.Debug("Connection closed", "addr", c.addr, "reason", err)
	default:
		c.logger.Warn("Read error", "addr", c.addr, "error", err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if !c.writeFrame(frame) {
				c.Close()
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				c.Close()
				return
			}
		}
	}
}

// writeFrame writes one frame and returns false if the connection should be closed.
// Frames of unknown kind are dropped.
func (c *Client) writeFrame(frame Frame) bool {
	var messageType int
	switch frame.Kind {
	case FrameText:
		messageType = websocket.TextMessage
	case FrameBinary:
		messageType = websocket.BinaryMessage
	default:
		return true
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(messageType, frame.Payload); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing frame", "kind", frame.Kind, "error", err)
		}
		return false
	}
	return true
}

// writePing sends a ping to keep the connection alive.
func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("Error writing ping", "error", err)
		return false
	}
	return true
}
