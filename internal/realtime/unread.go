package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/djmurphy6/pond/internal/api"
	"github.com/djmurphy6/pond/internal/stomp"
)

const unreadDestination = "/user/queue/unread-count"

// UnreadCounter tracks the authenticated user's unread message count: a
// one-shot HTTP fetch seeds the value, then server pushes replace it, last
// write wins. The server routes the queue by authenticated identity; the
// client never names a user id in the destination.
type UnreadCounter struct {
	client *api.Client
	wsURL  string
	delay  time.Duration
	log    *slog.Logger

	count     atomic.Int64
	updates   chan int64
	connected atomic.Bool

	connMu sync.Mutex
	conn   *stomp.Conn

	done      chan struct{}
	closeOnce sync.Once
}

// NewUnreadCounter seeds the counter over HTTP and starts the subscription
// loop. A failed seed logs and leaves the counter at zero; pushes and manual
// refreshes correct it.
func NewUnreadCounter(ctx context.Context, client *api.Client, wsURL string, delay time.Duration) *UnreadCounter {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	u := &UnreadCounter{
		client:  client,
		wsURL:   wsURL,
		delay:   delay,
		log:     slog.Default(),
		updates: make(chan int64, 16),
		done:    make(chan struct{}),
	}

	if err := u.Refresh(ctx); err != nil {
		u.log.Warn("Failed to seed unread count", "error", err)
	}

	go u.run()
	return u
}

// Count returns the latest observed unread count.
func (u *UnreadCounter) Count() int64 {
	return u.count.Load()
}

// Connected reports whether the push subscription is live.
func (u *UnreadCounter) Connected() bool {
	return u.connected.Load()
}

// Updates surfaces count changes for consumers that want push rather than
// polling. Intermediate values may be skipped; Count is always current.
func (u *UnreadCounter) Updates() <-chan int64 {
	return u.updates
}

// Refresh forces a one-shot HTTP fetch and overwrites the local value,
// regardless of any previously pushed count. Used after client-initiated
// actions like marking a room read, to avoid waiting on the push round-trip.
func (u *UnreadCounter) Refresh(ctx context.Context) error {
	out, err := u.client.GetUnreadCount(ctx)
	if err != nil {
		return err
	}
	u.setCount(out.UnreadCount)
	return nil
}

// Close stops the subscription loop; one connection per authenticated
// session, torn down on sign-out or unmount.
func (u *UnreadCounter) Close() {
	u.closeOnce.Do(func() {
		close(u.done)
		u.connMu.Lock()
		if u.conn != nil {
			u.conn.Close()
		}
		u.connMu.Unlock()
	})
}

func (u *UnreadCounter) setCount(n int64) {
	u.count.Store(n)
	// Lossy notify: a slow consumer sees the freshest value on next receive.
	select {
	case u.updates <- n:
	default:
		select {
		case <-u.updates:
		default:
		}
		select {
		case u.updates <- n:
		default:
		}
	}
}

func (u *UnreadCounter) run() {
	for {
		select {
		case <-u.done:
			return
		default:
		}

		if err := u.connectAndRead(); err != nil {
			select {
			case <-u.done:
				return
			default:
				u.log.Warn("Unread count socket disconnected", "error", err)
			}
		}

		select {
		case <-u.done:
			return
		case <-time.After(u.delay):
		}
	}
}

func (u *UnreadCounter) connectAndRead() error {
	token, _ := u.client.Session().Token()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	conn, err := stomp.Dial(ctx, u.wsURL, token)
	cancel()
	if err != nil {
		return err
	}

	if _, err := conn.Subscribe(unreadDestination); err != nil {
		conn.Close()
		return err
	}

	u.connMu.Lock()
	u.conn = conn
	u.connMu.Unlock()
	u.connected.Store(true)
	u.log.Info("Unread count socket connected")

	defer func() {
		u.connected.Store(false)
		u.connMu.Lock()
		u.conn = nil
		u.connMu.Unlock()
		conn.Close()
	}()

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-u.done:
				return nil
			default:
				return err
			}
		}

		var body api.UnreadCount
		if err := json.Unmarshal(frame.Body, &body); err != nil {
			u.log.Warn("Failed to parse unread count frame", "error", err)
			continue
		}
		u.setCount(body.UnreadCount)
	}
}
