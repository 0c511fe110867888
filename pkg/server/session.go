package server

import (
	"context"
	"errors"
	"io"

	"github.com/miravalier/tabletop/pkg/protocol"
)

// Session runs the control loop of one connection. It starts unauthenticated,
// becomes authenticated after a successful auth request and ends when the
// transport closes.
type Session struct {
	server  *Server
	conn    *Conn
	account *Account
}

// NewSession creates the session for a freshly accepted connection
func NewSession(s *Server, conn *Conn) *Session {
	return &Session{server: s, conn: conn}
}

// Account returns the authenticated account, or nil
func (s *Session) Account() *Account {
	return s.account
}

// Run reads and handles frames in arrival order until the connection closes
// or ctx is cancelled. A clean close returns nil; a protocol violation returns
// the violation and closes the connection without a reply.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock ReadFrame on shutdown
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()
	defer s.close()

	s.server.metrics.RecordConnectionOpened()

	for {
		kind, data, err := s.conn.transport.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		msg, err := decodeFrame(kind, data)
		if err != nil {
			debugLog.Printf("Conn %d: protocol violation: %v", s.conn.ID, err)
			return err
		}

		reply := s.handle(ctx, msg)
		if reply == nil {
			continue
		}
		if id, ok := msg.RequestID(); ok {
			reply.WithRequestID(id)
		}
		if err := s.send(reply); err != nil {
			return err
		}
	}
}

// decodeFrame turns a transport frame into a request message. Undecodable
// text becomes an "invalid" request; malformed binary frames are fatal.
func decodeFrame(kind FrameKind, data []byte) (protocol.Message, error) {
	switch kind {
	case FrameText:
		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			return protocol.NewMessage(protocol.TypeInvalid), nil
		}
		return msg, nil
	case FrameBinary:
		frame, err := protocol.DecodeChunkFrame(data)
		if err != nil {
			return nil, err
		}
		return frame.ToMessage(), nil
	default:
		return nil, protocol.ErrUnknownFrame
	}
}

func (s *Session) handle(ctx context.Context, msg protocol.Message) protocol.Message {
	msgType := msg.Type()
	s.server.metrics.RecordRequest(msgType)
	debugLog.Printf("Conn %d ← RECV: %q", s.conn.ID, msgType)

	switch {
	case msgType == protocol.TypeAuth:
		return s.authenticate(ctx, msg)
	case msgType == protocol.TypeInvalid:
		return protocol.Errorf("invalid message")
	case s.account == nil:
		return protocol.Errorf("not authenticated")
	default:
		return s.server.dispatcher.Dispatch(ctx, &Request{
			Conn:    s.conn,
			Account: s.account,
			Message: msg,
		})
	}
}

func (s *Session) authenticate(ctx context.Context, msg protocol.Message) protocol.Message {
	if s.account != nil {
		return protocol.Errorf("already authenticated")
	}

	token, _ := msg.String(protocol.FieldAuthToken)
	if token == "" {
		s.server.metrics.RecordAuthFailure()
		return protocol.AuthFailure("missing auth token")
	}

	id, err := s.server.verifier.Verify(ctx, token)
	if err != nil {
		s.server.metrics.RecordAuthFailure()
		debugLog.Printf("Conn %d: token rejected: %v", s.conn.ID, err)
		return protocol.AuthFailure("invalid auth token, " + err.Error())
	}

	acct, err := s.server.accounts.Lookup(ctx, id.Subject)
	if err != nil {
		errorLog.Printf("Conn %d: account lookup for %q failed: %v", s.conn.ID, id.Subject, err)
		return protocol.AuthFailure("storage error")
	}

	s.account = acct
	s.server.registry.Add(s.conn)

	if _, ok := acct.DisplayName(); !ok {
		if id.Email != "" {
			if err := s.server.accounts.Rename(ctx, acct, id.Email); err != nil {
				errorLog.Printf("Conn %d: failed to store initial name for user %d: %v", s.conn.ID, acct.UserID, err)
			}
		}
		if err := s.send(protocol.NewMessage(protocol.TypePromptUsername)); err != nil {
			debugLog.Printf("Conn %d: failed to send username prompt: %v", s.conn.ID, err)
		}
	}

	debugLog.Printf("Conn %d authenticated as user %d", s.conn.ID, acct.UserID)
	return protocol.NewMessage(protocol.TypeAuthSuccess)
}

func (s *Session) send(msg protocol.Message) error {
	if err := s.conn.Send(msg); err != nil {
		return err
	}
	s.server.metrics.RecordReply(msg.Type())
	return nil
}

func (s *Session) close() {
	s.conn.Close()
	s.server.registry.Remove(s.conn.ID)
	if n := s.server.transfers.Sweep(s.conn.ID); n > 0 {
		debugLog.Printf("Conn %d: discarded %d unfinished transfers", s.conn.ID, n)
	}
	s.server.metrics.RecordConnectionClosed()
}
