package server

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/miravalier/tabletop/pkg/protocol"
)

// Request is one decoded request from an authenticated connection
type Request struct {
	Conn    *Conn
	Account *Account
	Message protocol.Message
}

// HandlerFunc handles one request. A nil reply sends nothing.
type HandlerFunc func(ctx context.Context, req *Request) protocol.Message

// Dispatcher routes requests by type tag. It is populated during startup and
// read-only afterwards.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	unknown  HandlerFunc
}

// NewDispatcher creates a dispatcher with the default unknown-request handler
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		unknown:  unknownRequest,
	}
}

// Handle registers h for msgType, replacing any earlier handler
func (d *Dispatcher) Handle(msgType string, h HandlerFunc) {
	d.handlers[msgType] = h
}

// Has reports whether msgType has a handler
func (d *Dispatcher) Has(msgType string) bool {
	_, ok := d.handlers[msgType]
	return ok
}

// Dispatch runs the handler for the request. It never fails: a panicking
// handler produces an error reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (reply protocol.Message) {
	h, ok := d.handlers[req.Message.Type()]
	if !ok {
		h = d.unknown
	}

	defer func() {
		if r := recover(); r != nil {
			errorLog.Printf("Conn %d: handler %q panicked: %v\n%s", req.Conn.ID, req.Message.Type(), r, debug.Stack())
			reply = protocol.Errorf("internal error")
		}
	}()

	return h(ctx, req)
}

func unknownRequest(_ context.Context, req *Request) protocol.Message {
	data, err := json.Marshal(req.Message)
	if err != nil {
		data = []byte(`{}`)
	}
	return protocol.Message{
		protocol.FieldType:    protocol.TypeError,
		protocol.FieldReason:  "unknown request",
		protocol.FieldRequest: string(data),
	}
}
