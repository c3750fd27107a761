// Package stomptest provides an in-process STOMP-over-websocket broker for
// exercising the realtime managers against real connections.
package stomptest

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/djmurphy6/pond/internal/stomp"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte

	subsMu sync.Mutex
	subs   map[string]string // destination -> subscription id
}

func (c *client) subscription(destination string) (string, bool) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	id, ok := c.subs[destination]
	return id, ok
}

// Broker is a minimal STOMP broker: CONNECT with bearer auth, topic fanout,
// and per-user queue routing by authenticated identity. SEND frames are
// handed to the OnSend hook so tests can model backend behavior.
type Broker struct {
	// Authenticate maps a bearer token to a user id. Required.
	Authenticate func(token string) (string, error)
	// OnSend observes every SEND frame. Optional.
	OnSend func(userID, destination string, body []byte)

	mu      sync.RWMutex
	clients map[*client]struct{}
	nextMsg int
}

func NewBroker(authenticate func(token string) (string, error)) *Broker {
	return &Broker{
		Authenticate: authenticate,
		clients:      make(map[*client]struct{}),
	}
}

func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("stomptest: upgrade failed", "error", err)
		return
	}

	cl := &client{
		conn: ws,
		send: make(chan []byte, 256),
		subs: make(map[string]string),
	}

	if !b.handshake(cl) {
		ws.Close()
		return
	}

	b.mu.Lock()
	b.clients[cl] = struct{}{}
	b.mu.Unlock()

	go b.writePump(cl)
	b.readPump(cl)
}

func (b *Broker) handshake(cl *client) bool {
	frame, err := readFrame(cl.conn)
	if err != nil || frame == nil || frame.Command != stomp.CmdConnect {
		return false
	}

	token := frame.Header("Authorization")
	if len(token) > 7 && token[:7] == "Bearer " {
		token = token[7:]
	}

	userID, err := b.Authenticate(token)
	if err != nil {
		writeFrame(cl.conn, stomp.NewFrame(stomp.CmdError, map[string]string{
			"message": "authentication failed",
		}, nil))
		return false
	}
	cl.userID = userID

	return writeFrame(cl.conn, stomp.NewFrame(stomp.CmdConnected, map[string]string{
		"version": "1.2",
	}, nil)) == nil
}

func (b *Broker) readPump(cl *client) {
	defer func() {
		b.mu.Lock()
		delete(b.clients, cl)
		b.mu.Unlock()
		close(cl.send)
		cl.conn.Close()
	}()

	for {
		frame, err := readFrame(cl.conn)
		if err != nil {
			return
		}
		if frame == nil {
			continue
		}

		switch frame.Command {
		case stomp.CmdSubscribe:
			dest := frame.Header("destination")
			id := frame.Header("id")
			if dest == "" || id == "" {
				continue
			}
			cl.subsMu.Lock()
			cl.subs[dest] = id
			cl.subsMu.Unlock()

		case stomp.CmdUnsubscribe:
			id := frame.Header("id")
			cl.subsMu.Lock()
			for dest, subID := range cl.subs {
				if subID == id {
					delete(cl.subs, dest)
				}
			}
			cl.subsMu.Unlock()

		case stomp.CmdSend:
			if b.OnSend != nil {
				b.OnSend(cl.userID, frame.Header("destination"), frame.Body)
			}

		case stomp.CmdDisconnect:
			return
		}
	}
}

func (b *Broker) writePump(cl *client) {
	for message := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	cl.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// Publish fans a MESSAGE frame out to every subscriber of a destination, in
// call order.
func (b *Broker) Publish(destination string, body []byte) {
	// Fanout happens under the lock so a concurrent disconnect cannot close
	// a send channel mid-publish.
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextMsg++
	msgID := fmt.Sprintf("msg-%d", b.nextMsg)
	for cl := range b.clients {
		subID, ok := cl.subscription(destination)
		if !ok {
			continue
		}
		frame := stomp.NewFrame(stomp.CmdMessage, map[string]string{
			"destination":  destination,
			"subscription": subID,
			"message-id":   msgID,
			"content-type": "application/json",
		}, body)
		cl.send <- stomp.Marshal(frame)
	}
}

// PublishToUser routes a MESSAGE frame to one authenticated user's
// subscribers of a destination, the way the backend resolves /user/queue
// destinations by principal rather than by a client-chosen topic name.
func (b *Broker) PublishToUser(userID, destination string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextMsg++
	msgID := fmt.Sprintf("msg-%d", b.nextMsg)
	for cl := range b.clients {
		if cl.userID != userID {
			continue
		}
		subID, ok := cl.subscription(destination)
		if !ok {
			continue
		}
		frame := stomp.NewFrame(stomp.CmdMessage, map[string]string{
			"destination":  destination,
			"subscription": subID,
			"message-id":   msgID,
			"content-type": "application/json",
		}, body)
		cl.send <- stomp.Marshal(frame)
	}
}

// DisconnectAll drops every live connection, for reconnect tests.
func (b *Broker) DisconnectAll() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for cl := range b.clients {
		clients = append(clients, cl)
	}
	b.mu.Unlock()

	for _, cl := range clients {
		cl.conn.Close()
	}
}

// ClientCount reports the number of connected sessions.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// SubscriberCount reports how many sessions hold a live subscription for a
// destination. Tests use it to wait out the gap between a client writing
// SUBSCRIBE and the broker registering it.
func (b *Broker) SubscriberCount(destination string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for cl := range b.clients {
		if _, ok := cl.subscription(destination); ok {
			n++
		}
	}
	return n
}

func readFrame(ws *websocket.Conn) (*stomp.Frame, error) {
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return stomp.Unmarshal(data)
}

func writeFrame(ws *websocket.Conn, f *stomp.Frame) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, stomp.Marshal(f))
}
