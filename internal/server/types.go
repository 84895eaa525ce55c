// Package server defines the frame and delivery types shared by the
// registry and the connection handles, plus small utility helpers.
package server

import (
	"errors"
	"strings"
)

// FrameKind identifies how a payload is written to the transport.
type FrameKind int

const (
	// FrameText is written as a WebSocket text frame.
	FrameText FrameKind = iota + 1
	// FrameBinary is written as a WebSocket binary frame.
	FrameBinary
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame is one outbound payload addressed to a single connection.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// DeliveryTarget pushes a frame to one connection's write side. Deliver must
// not block; implementations queue the frame or report why they could not.
type DeliveryTarget interface {
	Deliver(f Frame) error
}

var (
	// ErrClientClosed is returned by Deliver once the connection has terminated.
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull is returned by Deliver when the outbound queue is full.
	ErrSendBufferFull = errors.New("client send buffer full")
	// ErrRegistryStopped is returned by registry queries after Run has returned.
	ErrRegistryStopped = errors.New("registry stopped")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
