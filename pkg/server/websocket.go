package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients are served from other origins
		return true
	},
}

// HandleWebSocket upgrades the HTTP connection and runs a session on it
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	if s.config.MaxFrameBytes > 0 {
		ws.SetReadLimit(s.config.MaxFrameBytes)
	}

	conn := NewConn(s.nextConnID.Add(1), NewWebSocketTransport(ws))
	debugLog.Printf("WebSocket connection from %s (conn %d)", conn.RemoteAddr(), conn.ID)

	s.sessions.Add(1)
	defer s.sessions.Done()

	sess := NewSession(s, conn)
	err = sess.Run(s.baseCtx)
	userID := int64(0)
	if acct := sess.Account(); acct != nil {
		userID = acct.UserID
	}
	if err != nil {
		debugLog.Printf("Conn %d (user %d) closed: %v", conn.ID, userID, err)
	} else {
		debugLog.Printf("Conn %d (user %d) closed", conn.ID, userID)
	}
}

// WebSocketTransport adapts a gorilla connection to Transport.
// gorilla supports one concurrent writer, so writes are serialized.
type WebSocketTransport struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  bool
	closeMu sync.Mutex
}

// NewWebSocketTransport wraps an upgraded connection
func NewWebSocketTransport(ws *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{ws: ws}
}

// ReadFrame reads the next data message. Control frames are handled by gorilla.
func (t *WebSocketTransport) ReadFrame() (FrameKind, []byte, error) {
	messageType, data, err := t.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
			errors.Is(err, net.ErrClosed) {
			return FrameOther, nil, io.EOF
		}
		return FrameOther, nil, err
	}

	switch messageType {
	case websocket.TextMessage:
		return FrameText, data, nil
	case websocket.BinaryMessage:
		return FrameBinary, data, nil
	default:
		return FrameOther, data, nil
	}
}

func (t *WebSocketTransport) write(messageType int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return net.ErrClosed
	}
	t.closeMu.Unlock()

	t.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.ws.WriteMessage(messageType, data)
}

func (t *WebSocketTransport) WriteText(data []byte) error {
	return t.write(websocket.TextMessage, data)
}

func (t *WebSocketTransport) WriteBinary(data []byte) error {
	return t.write(websocket.BinaryMessage, data)
}

// Close closes the underlying connection once
func (t *WebSocketTransport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true
	return t.ws.Close()
}

func (t *WebSocketTransport) RemoteAddr() string {
	return t.ws.RemoteAddr().String()
}
