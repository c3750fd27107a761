package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djmurphy6/pond/internal/api"
	"github.com/djmurphy6/pond/internal/session"
	"github.com/djmurphy6/pond/internal/stomp/stomptest"
	"github.com/djmurphy6/pond/internal/store"
)

const (
	testToken  = "access-token-1"
	testUserID = "user-1"
	testRoomID = "room-1"
)

func newBrokerServer(t *testing.T) (*stomptest.Broker, string) {
	t.Helper()
	broker := stomptest.NewBroker(func(token string) (string, error) {
		if token != testToken {
			return "", fmt.Errorf("unknown token %q", token)
		}
		return testUserID, nil
	})
	server := httptest.NewServer(broker)
	t.Cleanup(server.Close)
	return broker, "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	sess := session.New(store.NewMemory())
	if err := sess.SetToken(context.Background(), testToken); err != nil {
		t.Fatalf("failed to set token: %v", err)
	}
	return sess
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitForSubscription blocks until the broker has registered a subscriber,
// closing the gap between the client writing SUBSCRIBE and the broker
// processing it.
func waitForSubscription(t *testing.T, broker *stomptest.Broker, destination string) {
	t.Helper()
	waitFor(t, "subscription for "+destination, func() bool {
		return broker.SubscriberCount(destination) > 0
	})
}

func roomMessage(content string) []byte {
	body, _ := json.Marshal(api.Message{
		ID:       uuid.New(),
		RoomID:   testRoomID,
		SenderGU: uuid.New(),
		Content:  content,
	})
	return body
}

func TestChatSocketDeliversInOrder(t *testing.T) {
	broker, wsURL := newBrokerServer(t)
	sock := NewChatSocket(wsURL, testRoomID, newTestSession(t), 50*time.Millisecond)
	defer sock.Close()

	waitForSubscription(t, broker, "/topic/room/"+testRoomID)

	const n = 20
	for i := 0; i < n; i++ {
		broker.Publish("/topic/room/"+testRoomID, roomMessage(fmt.Sprintf("msg-%d", i)))
	}

	for i := 0; i < n; i++ {
		select {
		case msg := <-sock.Messages():
			if want := fmt.Sprintf("msg-%d", i); msg.Content != want {
				t.Fatalf("message %d arrived out of order: got %q, want %q", i, msg.Content, want)
			}
			if msg.RoomID != testRoomID {
				t.Fatalf("message %d has room %q", i, msg.RoomID)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestChatSocketIgnoresOtherRooms(t *testing.T) {
	broker, wsURL := newBrokerServer(t)
	sock := NewChatSocket(wsURL, testRoomID, newTestSession(t), 50*time.Millisecond)
	defer sock.Close()

	waitForSubscription(t, broker, "/topic/room/"+testRoomID)

	broker.Publish("/topic/room/other-room", roomMessage("not for us"))
	broker.Publish("/topic/room/"+testRoomID, roomMessage("for us"))

	select {
	case msg := <-sock.Messages():
		if msg.Content != "for us" {
			t.Fatalf("received message from another room: %q", msg.Content)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for room message")
	}
}

func TestChatSocketSendReachesBroker(t *testing.T) {
	broker, wsURL := newBrokerServer(t)

	type sent struct {
		userID, destination string
		body                []byte
	}
	got := make(chan sent, 1)
	broker.OnSend = func(userID, destination string, body []byte) {
		got <- sent{userID, destination, body}
	}

	sock := NewChatSocket(wsURL, testRoomID, newTestSession(t), 50*time.Millisecond)
	defer sock.Close()

	waitFor(t, "subscription", sock.Connected)
	sock.SendMessage("hello there")

	select {
	case s := <-got:
		if s.userID != testUserID {
			t.Fatalf("send attributed to %q", s.userID)
		}
		if s.destination != "/app/chat/send" {
			t.Fatalf("send went to %q", s.destination)
		}
		var out struct {
			RoomID  string `json:"roomId"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(s.body, &out); err != nil {
			t.Fatalf("bad outbound payload: %v", err)
		}
		if out.RoomID != testRoomID || out.Content != "hello there" {
			t.Fatalf("unexpected outbound payload: %+v", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for SEND frame")
	}
}

func TestChatSocketSendWhileDisconnectedIsNoOp(t *testing.T) {
	// No server behind this URL; the socket stays disconnected.
	sock := NewChatSocket("ws://127.0.0.1:1/ws", testRoomID, newTestSession(t), time.Hour)
	defer sock.Close()

	if sock.Connected() {
		t.Fatalf("socket claims to be connected with no server")
	}
	// Must not panic or block.
	sock.SendMessage("dropped")
}

func TestChatSocketReconnectsAndResubscribes(t *testing.T) {
	broker, wsURL := newBrokerServer(t)
	sock := NewChatSocket(wsURL, testRoomID, newTestSession(t), 20*time.Millisecond)
	defer sock.Close()

	waitForSubscription(t, broker, "/topic/room/"+testRoomID)
	broker.DisconnectAll()
	waitFor(t, "disconnect observed", func() bool { return broker.ClientCount() == 0 })

	// The fresh connection carries a fresh subscription.
	waitForSubscription(t, broker, "/topic/room/"+testRoomID)
	broker.Publish("/topic/room/"+testRoomID, roomMessage("after reconnect"))
	select {
	case msg := <-sock.Messages():
		if msg.Content != "after reconnect" {
			t.Fatalf("unexpected message after reconnect: %q", msg.Content)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no delivery after reconnect")
	}
}

func TestChatSocketDropsMalformedPayloads(t *testing.T) {
	broker, wsURL := newBrokerServer(t)
	sock := NewChatSocket(wsURL, testRoomID, newTestSession(t), 50*time.Millisecond)
	defer sock.Close()

	waitForSubscription(t, broker, "/topic/room/"+testRoomID)

	broker.Publish("/topic/room/"+testRoomID, []byte("{not json"))
	broker.Publish("/topic/room/"+testRoomID, roomMessage("still alive"))

	select {
	case msg := <-sock.Messages():
		if msg.Content != "still alive" {
			t.Fatalf("malformed payload surfaced as %q", msg.Content)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("socket stopped delivering after malformed payload")
	}
}

func TestChatSocketCloseClosesMessages(t *testing.T) {
	_, wsURL := newBrokerServer(t)
	sock := NewChatSocket(wsURL, testRoomID, newTestSession(t), 50*time.Millisecond)

	waitFor(t, "subscription", sock.Connected)
	sock.Close()

	select {
	case _, ok := <-sock.Messages():
		if ok {
			t.Fatalf("received message after close")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("messages channel not closed")
	}

	// Close is idempotent.
	sock.Close()
}
