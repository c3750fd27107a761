package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"github.com/djmurphy6/pond/internal/api"
	"github.com/djmurphy6/pond/internal/config"
	"github.com/djmurphy6/pond/internal/realtime"
	"github.com/djmurphy6/pond/internal/session"
	"github.com/djmurphy6/pond/internal/store"
)

const usage = `pondchat - terminal client for the Pond marketplace

Usage:
  pondchat register <email> <username> <password>
  pondchat verify <email> <code>
  pondchat login <email> <password>
  pondchat logout
  pondchat me
  pondchat rooms
  pondchat chat <room-id>
  pondchat unread
  pondchat listings
  pondchat report <listing-gu> <reason> <message>

Configuration via environment:
  POND_API_URL, POND_WS_URL, POND_SESSION_DB, POND_RECONNECT_DELAY
`

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	st, err := store.NewSQLite(cfg.SessionDBPath)
	if err != nil {
		log.Fatal("Failed to open session store: ", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := session.New(st)
	if err := sess.Load(ctx); err != nil {
		log.Fatal("Failed to restore session: ", err)
	}

	client, err := api.New(cfg.APIBaseURL, sess)
	if err != nil {
		log.Fatal("Failed to build API client: ", err)
	}

	if err := run(ctx, cfg, client, os.Args[1], os.Args[2:]); err != nil {
		if api.IsSessionExpired(err) {
			fmt.Fprintln(os.Stderr, "Session expired; run `pondchat login` again.")
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, client *api.Client, cmd string, args []string) error {
	switch cmd {
	case "register":
		if len(args) != 3 {
			return errors.New("usage: pondchat register <email> <username> <password>")
		}
		out, err := client.Register(ctx, api.RegisterRequest{Email: args[0], Username: args[1], Password: args[2]})
		if err != nil {
			return err
		}
		fmt.Printf("Account created for %s; check %s for a verification code.\n", out.Username, out.Email)
		return nil

	case "verify":
		if len(args) != 2 {
			return errors.New("usage: pondchat verify <email> <code>")
		}
		out, err := client.VerifyEmail(ctx, api.VerifyRequest{Email: args[0], VerificationCode: args[1]})
		if err != nil {
			return err
		}
		fmt.Println(out.Message)
		return nil

	case "login":
		if len(args) != 2 {
			return errors.New("usage: pondchat login <email> <password>")
		}
		out, err := client.Login(ctx, api.LoginRequest{Email: args[0], Password: args[1]})
		if err != nil {
			return err
		}
		fmt.Printf("Logged in; access token valid for %ds.\n", out.ExpiresIn/1000)
		return nil

	case "logout":
		if err := client.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil

	case "me":
		me, err := client.GetMe(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s <%s>\nscore: %.1f\nbio: %s\n", me.Username, me.Email, me.UserScore, me.Bio)
		return nil

	case "rooms":
		rooms, err := client.GetChatRooms(ctx)
		if err != nil {
			return err
		}
		if len(rooms) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}
		for _, r := range rooms {
			badge := ""
			if r.UnreadCount > 0 {
				badge = " [" + strconv.FormatInt(r.UnreadCount, 10) + " unread]"
			}
			fmt.Printf("%s  %s (%s)%s\n    %s\n", r.RoomID, r.ListingTitle, r.OtherUsername, badge, r.LastMessage)
		}
		return nil

	case "chat":
		if len(args) != 1 {
			return errors.New("usage: pondchat chat <room-id>")
		}
		return runChat(ctx, cfg, client, args[0])

	case "unread":
		return runUnread(ctx, cfg, client)

	case "listings":
		listings, err := client.GetListings(ctx)
		if err != nil {
			return err
		}
		for _, l := range listings {
			fmt.Printf("%s  %-30s $%.2f (%s)\n", l.ListingGU, l.Title, l.Price, l.Condition)
		}
		return nil

	case "report":
		if len(args) != 3 {
			return errors.New("usage: pondchat report <listing-gu> <reason> <message>")
		}
		if _, err := uuid.Parse(args[0]); err != nil {
			return fmt.Errorf("invalid listing id %q: %w", args[0], err)
		}
		out, err := client.CreateReport(ctx, api.CreateReportRequest{ListingGU: args[0], Reason: args[1], Message: args[2]})
		if err != nil {
			return err
		}
		fmt.Printf("Report %s filed (%s).\n", out.ReportGU, out.Status)
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runChat(ctx context.Context, cfg *config.Config, client *api.Client, roomID string) error {
	room, err := client.GetChatRoom(ctx, roomID)
	if err != nil {
		return err
	}

	history, err := client.GetRoomMessages(ctx, roomID, 0, 50)
	if err != nil {
		return err
	}
	for i := len(history) - 1; i >= 0; i-- {
		printMessage(history[i])
	}

	if err := client.MarkRoomRead(ctx, roomID); err != nil {
		slog.Warn("Failed to mark room read", "room_id", roomID, "error", err)
	}

	sock := realtime.NewChatSocket(cfg.WSURL, roomID, client.Session(), cfg.ReconnectDelay)
	defer sock.Close()

	fmt.Printf("-- chatting with %s about %q; Ctrl-D to leave --\n", room.OtherUsername, room.ListingTitle)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for msg := range sock.Messages() {
			printMessage(msg)
		}
	}()

	input := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input <- scanner.Text()
		}
		close(input)
	}()

	for {
		select {
		case <-quit:
			return nil
		case line, ok := <-input:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			sock.SendMessage(line)
		}
	}
}

func runUnread(ctx context.Context, cfg *config.Config, client *api.Client) error {
	counter := realtime.NewUnreadCounter(ctx, client, cfg.WSURL, cfg.ReconnectDelay)
	defer counter.Close()

	fmt.Printf("Unread messages: %d (watching for updates; Ctrl-C to stop)\n", counter.Count())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-quit:
			return nil
		case n := <-counter.Updates():
			fmt.Printf("Unread messages: %d\n", n)
		}
	}
}

func printMessage(m api.Message) {
	ts := m.Timestamp
	if t := api.SentAt(m.Timestamp); !t.IsZero() {
		ts = t.Format("15:04")
	}
	fmt.Printf("[%s] %s: %s\n", ts, shortGU(m.SenderGU), m.Content)
}

func shortGU(gu uuid.UUID) string {
	s := gu.String()
	if len(s) >= 8 {
		return s[:8]
	}
	return s
}
