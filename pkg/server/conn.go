package server

import (
	"fmt"

	"github.com/miravalier/tabletop/pkg/protocol"
)

// FrameKind classifies a frame read from a transport
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
	FrameOther
)

// Transport is one message-framed duplex channel. Implementations must allow
// Write* to be called from several goroutines and Close to be called more than once.
type Transport interface {
	ReadFrame() (FrameKind, []byte, error)
	WriteText(data []byte) error
	WriteBinary(data []byte) error
	Close() error
	RemoteAddr() string
}

// Conn is a live client connection
type Conn struct {
	ID        uint64
	transport Transport
}

// NewConn wraps a transport
func NewConn(id uint64, t Transport) *Conn {
	return &Conn{ID: id, transport: t}
}

// Send encodes and writes a text message
func (c *Conn) Send(msg protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode %q: %w", msg.Type(), err)
	}
	return c.transport.WriteText(data)
}

// SendText writes an already encoded text message
func (c *Conn) SendText(data []byte) error {
	return c.transport.WriteText(data)
}

// SendBinary writes a binary frame
func (c *Conn) SendBinary(data []byte) error {
	return c.transport.WriteBinary(data)
}

func (c *Conn) Close() error {
	return c.transport.Close()
}

func (c *Conn) RemoteAddr() string {
	return c.transport.RemoteAddr()
}
