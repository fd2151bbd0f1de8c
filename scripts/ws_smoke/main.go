package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/afkbot/internal/auth"
	"github.com/vovakirdan/afkbot/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:25565/gateway", "gateway WebSocket address")
	user := flag.String("user", "tester", "username to announce with hello")
	secret := flag.String("secret", "", "HS256 secret for the hello token")
	text := flag.String("text", "/login hunter2", "chat line to send after spawn")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	token, err := auth.GenerateToken(&auth.JWTConfig{Secret: []byte(*secret), TTL: time.Minute}, *user, "offline")
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	hello, err := proto.NewInbound(proto.InboundTypeHello, proto.HelloData{
		User:     *user,
		Auth:     "offline",
		Token:    token,
		Protocol: proto.ProtocolVersion,
	})
	if err != nil {
		return fmt.Errorf("marshal hello: %w", err)
	}
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if outbound.Error != nil {
			return fmt.Errorf("gateway error %s: %s", outbound.Error.Code, outbound.Error.Msg)
		}

		switch outbound.Event {
		case proto.EventSpawn:
			fmt.Printf("Spawned as %s\n", *user)
			chat, err := proto.NewInbound(proto.InboundTypeChat, proto.ChatData{Text: *text})
			if err != nil {
				return fmt.Errorf("marshal chat: %w", err)
			}
			if err := wsjson.Write(ctx, conn, chat); err != nil {
				return fmt.Errorf("send chat: %w", err)
			}
		case proto.EventChat:
			var evt proto.EventChatData
			if err := json.Unmarshal(outbound.Data, &evt); err != nil {
				fmt.Printf("Raw data: %s\n", string(outbound.Data))
				return fmt.Errorf("unmarshal chat: %w", err)
			}
			fmt.Printf("Chat: %q\n", evt.Text)
			return nil
		case proto.EventKicked, proto.EventEnd:
			var evt proto.EventReasonData
			_ = json.Unmarshal(outbound.Data, &evt)
			return fmt.Errorf("session %s: %s", outbound.Event, evt.Reason)
		default:
			// world clock and other events
		}
	}
}
