package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Strum355/log"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

const (
	wsReadBufferSize    = 1024
	wsWriteBufferSize   = 1024
	clientSendQueueSize = 32
	writeWait           = 10 * time.Second
)

var (
	// ErrSessionClosed reports a send attempted after the connection died.
	ErrSessionClosed = errors.New("session closed")
	// ErrSendBufferFull reports a participant too slow to keep up; the
	// message is dropped for that participant only.
	ErrSendBufferFull = errors.New("send buffer full")
)

// ClientSession is one participant connection as the room manager sees it.
// Implementations must make Send safe to call from the room goroutine and
// never block it.
type ClientSession interface {
	ID() string
	Send(payload interface{}) error
	Bind(userID, roomID string)
	Unbind()
	Close()
}

// wsSession wraps an established websocket connection with separate read
// and write pump goroutines, the write side fed by a bounded queue.
type wsSession struct {
	id   string
	conn *websocket.Conn

	sendQueue chan interface{}
	closing   chan struct{}
	closeOnce sync.Once

	server *Server

	mu     sync.Mutex
	userID string
	roomID string
}

var wsUpgrader = &websocket.Upgrader{
	ReadBufferSize:  wsReadBufferSize,
	WriteBufferSize: wsWriteBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true // identity is asserted in the protocol, not at upgrade
	},
}

func newWSSession(s *Server, conn *websocket.Conn) *wsSession {
	return &wsSession{
		id:        xid.New().String(),
		conn:      conn,
		sendQueue: make(chan interface{}, clientSendQueueSize),
		closing:   make(chan struct{}),
		server:    s,
	}
}

func (c *wsSession) ID() string { return c.id }

// Send queues payload for the write pump. It never blocks: a dead session
// or a full queue is an error for the caller to log and move past.
func (c *wsSession) Send(payload interface{}) error {
	select {
	case <-c.closing:
		return ErrSessionClosed
	default:
	}
	select {
	case c.sendQueue <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Bind records which user and room this connection serves, so a transport
// close can be turned into a leave for the right identity.
func (c *wsSession) Bind(userID, roomID string) {
	c.mu.Lock()
	c.userID = userID
	c.roomID = roomID
	c.mu.Unlock()
}

func (c *wsSession) Unbind() {
	c.mu.Lock()
	c.userID = ""
	c.roomID = ""
	c.mu.Unlock()
}

func (c *wsSession) binding() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.roomID
}

func (c *wsSession) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
}

// readPump reads and decodes client documents, routing each through the
// registry. On any transport error it synthesises a leave for the bound
// identity; the room-side handler is idempotent against an explicit one.
func (c *wsSession) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
		if userID, roomID := c.binding(); roomID != "" {
			c.server.Route(&Inbound{
				Type:   TypeLeaveRoom,
				ID:     userID,
				RoomID: roomID,
				sender: c,
			})
		}
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.WithError(err).WithFields(log.Fields{"session": c.id}).Error("unexpected close")
			}
			return
		}
		m, err := DecodeInbound(data)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"session": c.id}).Info("invalid message")
			continue
		}
		m.sender = c
		c.server.Route(m)
	}
}

func (c *wsSession) writePump() {
	defer c.conn.Close()
	for {
		select {
		case payload := <-c.sendQueue:
			data, err := json.Marshal(payload)
			if err != nil {
				log.WithError(err).WithFields(log.Fields{"session": c.id}).Error("marshal failed")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.closing:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func handleWSClient(s *Server, w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("websocket upgrade failed")
		return
	}
	c := newWSSession(s, conn)
	go c.writePump()
	go c.readPump()
	log.WithFields(log.Fields{"session": c.id, "remote": conn.RemoteAddr().String()}).
		Info("client connected")
}

// WSHandler returns the websocket endpoint handler for the server.
func WSHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handleWSClient(s, w, r)
	}
}
