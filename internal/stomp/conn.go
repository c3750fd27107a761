package stomp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	connectTimeout = 10 * time.Second
	writeWait      = 10 * time.Second
)

// Conn is one authenticated STOMP session over a websocket. The access
// token travels once, in the CONNECT frame, not per message.
//
// Reads must come from a single goroutine; frames surface in transport
// order. Writes are serialized internally.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	nextSub int
}

// Dial opens the websocket, performs the STOMP handshake, and waits for the
// server's CONNECTED frame.
func Dial(ctx context.Context, wsURL, accessToken string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("stomp: dial %s: %w", wsURL, err)
	}

	c := &Conn{ws: ws}

	headers := map[string]string{
		"accept-version": "1.2",
		"heart-beat":     "0,0",
	}
	if accessToken != "" {
		headers["Authorization"] = "Bearer " + accessToken
	}
	if err := c.writeFrame(NewFrame(CmdConnect, headers, nil)); err != nil {
		ws.Close()
		return nil, err
	}

	ws.SetReadDeadline(time.Now().Add(connectTimeout))
	frame, err := c.readFrame()
	ws.SetReadDeadline(time.Time{})
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("stomp: handshake: %w", err)
	}
	if frame.Command != CmdConnected {
		msg := frame.Header("message")
		ws.Close()
		return nil, fmt.Errorf("stomp: handshake rejected: %s %s", frame.Command, msg)
	}

	return c, nil
}

// Subscribe registers for a destination and returns the subscription id.
func (c *Conn) Subscribe(destination string) (string, error) {
	c.writeMu.Lock()
	c.nextSub++
	id := fmt.Sprintf("sub-%d", c.nextSub)
	c.writeMu.Unlock()

	err := c.writeFrame(NewFrame(CmdSubscribe, map[string]string{
		"id":          id,
		"destination": destination,
	}, nil))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *Conn) Unsubscribe(id string) error {
	return c.writeFrame(NewFrame(CmdUnsubscribe, map[string]string{"id": id}, nil))
}

// Send publishes a body to an application destination.
func (c *Conn) Send(destination, contentType string, body []byte) error {
	return c.writeFrame(NewFrame(CmdSend, map[string]string{
		"destination":  destination,
		"content-type": contentType,
	}, body))
}

// ReadMessage blocks for the next MESSAGE frame, skipping heartbeats. An
// ERROR frame from the server is returned as an error.
func (c *Conn) ReadMessage() (*Frame, error) {
	for {
		frame, err := c.readFrame()
		if err != nil {
			return nil, err
		}
		if frame == nil {
			continue
		}
		switch frame.Command {
		case CmdMessage:
			return frame, nil
		case CmdError:
			return nil, fmt.Errorf("stomp: server error: %s", frame.Header("message"))
		default:
			// Unknown server frame; skip rather than kill the session.
			continue
		}
	}
}

func (c *Conn) readFrame() (*Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

func (c *Conn) writeFrame(f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, Marshal(f)); err != nil {
		return fmt.Errorf("stomp: write %s: %w", f.Command, err)
	}
	return nil
}

// Close sends DISCONNECT best-effort and tears down the websocket.
func (c *Conn) Close() error {
	_ = c.writeFrame(NewFrame(CmdDisconnect, nil, nil))
	return c.ws.Close()
}
