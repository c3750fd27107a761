// Package realtime maintains the client's live STOMP subscriptions: one
// per-room chat feed and one per-user unread counter.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/djmurphy6/pond/internal/api"
	"github.com/djmurphy6/pond/internal/session"
	"github.com/djmurphy6/pond/internal/stomp"
)

const (
	// DefaultReconnectDelay is the fixed pause between reconnect attempts.
	DefaultReconnectDelay = 5 * time.Second

	chatSendDestination = "/app/chat/send"
	messageBuffer       = 64
)

type outboundMessage struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// ChatSocket owns one live connection bound to one chat room. Inbound
// messages surface on Messages in arrival order; delivery blocks when the
// consumer lags rather than dropping frames. A new ChatSocket is created
// when the selected room changes.
type ChatSocket struct {
	roomID string
	wsURL  string
	sess   *session.Session
	delay  time.Duration
	log    *slog.Logger

	msgs      chan api.Message
	connected atomic.Bool

	connMu sync.Mutex
	conn   *stomp.Conn

	done      chan struct{}
	closeOnce sync.Once
}

// NewChatSocket starts the connection loop for a room. The session supplies
// the access token at every (re)connect, so a token refreshed mid-session is
// picked up on the next dial.
func NewChatSocket(wsURL, roomID string, sess *session.Session, delay time.Duration) *ChatSocket {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	s := &ChatSocket{
		roomID: roomID,
		wsURL:  wsURL,
		sess:   sess,
		delay:  delay,
		log:    slog.Default(),
		msgs:   make(chan api.Message, messageBuffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Messages delivers inbound room messages in transport order. The channel
// closes when the socket is closed.
func (s *ChatSocket) Messages() <-chan api.Message {
	return s.msgs
}

// Connected reports whether a live subscription currently exists.
func (s *ChatSocket) Connected() bool {
	return s.connected.Load()
}

// SendMessage publishes to the room over the live connection. When the
// socket is down the message is dropped with a warning; delivery retry is
// the caller's decision, not this layer's.
func (s *ChatSocket) SendMessage(content string) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	if conn == nil || !s.connected.Load() || s.roomID == "" {
		s.log.Warn("Chat socket not connected, dropping message", "room_id", s.roomID)
		return
	}

	body, err := json.Marshal(outboundMessage{RoomID: s.roomID, Content: content})
	if err != nil {
		s.log.Warn("Failed to encode outbound message", "room_id", s.roomID, "error", err)
		return
	}
	if err := conn.Send(chatSendDestination, "application/json", body); err != nil {
		s.log.Warn("Failed to publish message", "room_id", s.roomID, "error", err)
	}
}

// Close tears down the connection and stops the reconnect loop. At most one
// live connection exists per ChatSocket at any point.
func (s *ChatSocket) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
}

func (s *ChatSocket) run() {
	defer close(s.msgs)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.connectAndRead(); err != nil {
			select {
			case <-s.done:
				return
			default:
				s.log.Warn("Chat socket disconnected", "room_id", s.roomID, "error", err)
			}
		}

		select {
		case <-s.done:
			return
		case <-time.After(s.delay):
		}
	}
}

func (s *ChatSocket) connectAndRead() error {
	token, _ := s.sess.Token()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	conn, err := stomp.Dial(ctx, s.wsURL, token)
	cancel()
	if err != nil {
		return err
	}

	// The subscription is re-established on every successful connect.
	if _, err := conn.Subscribe("/topic/room/" + s.roomID); err != nil {
		conn.Close()
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.connected.Store(true)
	s.log.Info("Chat socket connected", "room_id", s.roomID)

	defer func() {
		s.connected.Store(false)
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()
	}()

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg api.Message
		if err := json.Unmarshal(frame.Body, &msg); err != nil {
			// Malformed frames are dropped; the subscription survives.
			s.log.Warn("Failed to parse incoming message", "room_id", s.roomID, "error", err)
			continue
		}

		select {
		case s.msgs <- msg:
		case <-s.done:
			return nil
		}
	}
}
