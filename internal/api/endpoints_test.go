package api

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGetRoomMessagesCarriesPathAndQuery(t *testing.T) {
	backend := newTestBackend(t)

	roomID := "room-42"
	msgID := uuid.New()
	backend.mux.HandleFunc("GET /chat/rooms/{roomId}/messages", backend.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if got := r.PathValue("roomId"); got != roomID {
			t.Errorf("roomId = %q", got)
		}
		if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("size") != "25" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, []Message{{
			ID:        msgID,
			RoomID:    roomID,
			Content:   "hello",
			Timestamp: "2026-08-31T14:05:09.123456",
		}})
	}))

	client, sess, _ := newTestClient(t, backend)
	ctx := context.Background()
	if err := sess.SetToken(ctx, backend.mintAccessToken(time.Hour)); err != nil {
		t.Fatalf("failed to set token: %v", err)
	}

	msgs, err := client.GetRoomMessages(ctx, roomID, 2, 25)
	if err != nil {
		t.Fatalf("get messages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != msgID || msgs[0].Content != "hello" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	sent := SentAt(msgs[0].Timestamp)
	if sent.IsZero() {
		t.Fatalf("timestamp %q did not parse", msgs[0].Timestamp)
	}
	if sent.Year() != 2026 || sent.Month() != time.August {
		t.Fatalf("parsed timestamp %v", sent)
	}
}

func TestInitChatRoomQueryParams(t *testing.T) {
	backend := newTestBackend(t)

	listingGU := uuid.New()
	buyerGU := uuid.New()
	backend.mux.HandleFunc("POST /chat/rooms/init", backend.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("listingGU") != listingGU.String() {
			t.Errorf("listingGU = %q", r.URL.Query().Get("listingGU"))
		}
		if r.URL.Query().Get("buyerGU") != buyerGU.String() {
			t.Errorf("buyerGU = %q", r.URL.Query().Get("buyerGU"))
		}
		writeJSON(w, http.StatusOK, ChatRoomDetail{RoomID: "room-9", ListingGU: listingGU})
	}))

	client, sess, _ := newTestClient(t, backend)
	ctx := context.Background()
	if err := sess.SetToken(ctx, backend.mintAccessToken(time.Hour)); err != nil {
		t.Fatalf("failed to set token: %v", err)
	}

	room, err := client.InitChatRoom(ctx, listingGU, buyerGU)
	if err != nil {
		t.Fatalf("init chat room failed: %v", err)
	}
	if room.RoomID != "room-9" {
		t.Fatalf("unexpected room: %+v", room)
	}
}

func TestUploadAvatarMultipartSurvivesRetry(t *testing.T) {
	backend := newTestBackend(t)

	var attempts atomic.Int32
	backend.mux.HandleFunc("POST /uploads/avatar", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		// First attempt rejected so the pipeline refreshes and retries;
		// the multipart body must arrive intact the second time.
		if !backend.validToken(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file missing: %v", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad form"})
			return
		}
		defer file.Close()
		if header.Filename != "avatar.png" {
			t.Errorf("filename = %q", header.Filename)
		}
		buf := make([]byte, 16)
		n, _ := file.Read(buf)
		if string(buf[:n]) != "fake-png-bytes" {
			t.Errorf("file payload = %q", buf[:n])
		}
		writeJSON(w, http.StatusOK, User{Username: testUsername, AvatarURL: "/static/avatar.png"})
	})

	client, sess, _ := newTestClient(t, backend)
	ctx := context.Background()

	// Log in for the refresh cookie, then install an expired token so the
	// first upload attempt fails.
	if _, err := client.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := sess.SetToken(ctx, backend.mintAccessToken(-time.Minute)); err != nil {
		t.Fatalf("failed to install expired token: %v", err)
	}

	user, err := client.UploadAvatar(ctx, "avatar.png", strings.NewReader("fake-png-bytes"))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if user.AvatarURL == "" {
		t.Fatalf("unexpected user payload: %+v", user)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected one retry, saw %d attempts", got)
	}
}

func TestMarkRoomReadActionResult(t *testing.T) {
	backend := newTestBackend(t)
	client, sess, _ := newTestClient(t, backend)
	ctx := context.Background()

	if err := sess.SetToken(ctx, backend.mintAccessToken(time.Hour)); err != nil {
		t.Fatalf("failed to set token: %v", err)
	}
	if err := client.MarkRoomRead(ctx, "room-1"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
}

func TestGetUnreadCount(t *testing.T) {
	backend := newTestBackend(t)
	client, sess, _ := newTestClient(t, backend)
	ctx := context.Background()

	if err := sess.SetToken(ctx, backend.mintAccessToken(time.Hour)); err != nil {
		t.Fatalf("failed to set token: %v", err)
	}

	out, err := client.GetUnreadCount(ctx)
	if err != nil {
		t.Fatalf("get unread count failed: %v", err)
	}
	if out.UnreadCount != 4 {
		t.Fatalf("unread count = %d, want 4", out.UnreadCount)
	}
}
