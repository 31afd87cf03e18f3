// Headless chat client. Connects to the hub with a bearer token and exposes
// the session through line commands on stdin; useful for development and for
// driving the engine without a UI.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"teamchat/internal/client"
	"teamchat/internal/config"
	"teamchat/internal/models"
	"teamchat/internal/utils"
)

func main() {
	configPath := flag.String("config", "teamchat.yaml", "path to the config file")
	token := flag.String("token", "", "bearer access token override")
	user := flag.String("user", "", "own user ID (must match the token subject)")
	role := flag.String("role", "student", "own role, scopes the local cache")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *token != "" {
		cfg.Token = *token
	}
	if *user == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(1)
	}
	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "an access token is required (-token or config)")
		os.Exit(1)
	}
	log := utils.NewLogger(cfg.Env)

	self := models.User{ID: *user, Username: *user, Role: *role}

	var pendingMu sync.Mutex
	var pendingRing *models.Ring

	notify := client.Notifications{
		OnMessage: func(m models.Message) {
			fmt.Printf("[%s] %s: %s\n", m.RoomKey, m.Sender.Username, renderText(m))
		},
		OnIncomingRing: func(r models.Ring) {
			pendingMu.Lock()
			pendingRing = &r
			pendingMu.Unlock()
			kind := "video"
			if r.IsAudioOnly {
				kind = "audio"
			}
			fmt.Printf("incoming %s call from %s in %s — /accept or /decline\n", kind, r.From, r.RoomKey)
		},
		OnRingCancelled: func(end models.End) {
			pendingMu.Lock()
			if pendingRing != nil && pendingRing.RoomKey == end.RoomKey && pendingRing.From == end.From {
				pendingRing = nil
			}
			pendingMu.Unlock()
			fmt.Println("missed call from", end.From)
		},
		OnRemoteStream: func(peerID string) { fmt.Println("connected to", peerID) },
		OnPeerLeft:     func(peerID string) { fmt.Println(peerID, "left the call") },
		OnCallEnded:    func() { fmt.Println("call ended") },
		OnScreenShare: func(userID string, sharing bool) {
			if sharing {
				fmt.Println(userID, "is sharing their screen")
			} else {
				fmt.Println(userID, "stopped sharing")
			}
		},
	}

	engine, err := client.New(cfg, self, notify, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "engine:", err)
		os.Exit(1)
	}
	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer engine.Stop()

	takeRing := func() (models.Ring, bool) {
		pendingMu.Lock()
		defer pendingMu.Unlock()
		if pendingRing == nil {
			return models.Ring{}, false
		}
		r := *pendingRing
		pendingRing = nil
		return r, true
	}

	fmt.Println("connected as", self.ID, "— /rooms to list, /help for commands")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if active := engine.ActiveRoom(); active != "" {
				report(engine.SendText(ctx, active, line))
			} else {
				fmt.Println("open a room first: /open <key>")
			}
			continue
		}
		cmd, arg, _ := strings.Cut(line[1:], " ")
		switch cmd {
		case "rooms":
			for _, r := range engine.Rooms() {
				marker := " "
				if r.Key == engine.ActiveRoom() {
					marker = "*"
				}
				fmt.Printf("%s %-20s %-10s unread=%d\n", marker, r.Key, r.Type, r.UnreadCount)
			}
		case "open":
			if err := engine.OpenRoom(ctx, arg); err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, m := range engine.Messages(arg) {
				fmt.Printf("  %s: %s\n", m.Sender.Username, renderText(m))
			}
		case "close":
			engine.CloseRoom()
		case "older":
			n, err := engine.LoadOlder(ctx, engine.ActiveRoom())
			report(err)
			fmt.Println("loaded", n, "older messages")
		case "file":
			sendFile(ctx, engine, arg)
		case "delete":
			report(engine.DeleteMessage(ctx, arg, true))
		case "call":
			report(engine.StartCall(engine.ActiveRoom(), arg == "audio"))
		case "accept":
			if r, ok := takeRing(); ok {
				report(engine.AcceptCall(r))
			}
		case "decline":
			if r, ok := takeRing(); ok {
				report(engine.DeclineCall(r))
			}
		case "hangup":
			engine.Hangup()
		case "mic":
			on, err := engine.ToggleMic()
			report(err)
			fmt.Println("mic on:", on)
		case "cam":
			on, err := engine.ToggleCamera()
			report(err)
			fmt.Println("camera on:", on)
		case "share":
			on, err := engine.ToggleScreenShare()
			report(err)
			fmt.Println("sharing:", on)
		case "help":
			fmt.Println("/rooms /open <key> /close /older /file <path> /delete <id> /call [audio] /accept /decline /hangup /mic /cam /share /quit")
		case "quit":
			return
		default:
			fmt.Println("unknown command; /help")
		}
	}
}

func renderText(m models.Message) string {
	if m.IsDeleted {
		return "(deleted)"
	}
	if len(m.Attachments) > 0 {
		return fmt.Sprintf("%s (%s)", m.Text, m.Attachments[0].FileName)
	}
	return m.Text
}

func sendFile(ctx context.Context, engine *client.Engine, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer f.Close()
	msgType := models.MsgDocument
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		msgType = models.MsgImage
	}
	report(engine.SendFile(ctx, engine.ActiveRoom(), filepath.Base(path), f, msgType))
}

func report(err error) {
	if err != nil {
		fmt.Println("error:", err)
	}
}
