package gatewaysim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/afkbot/internal/proto"
)

// errSessionOver ends the session loops after a kick, end or quit.
var errSessionOver = errors.New("session over")

type session struct {
	id   string
	user string
	srv  *Server
	conn *websocket.Conn
	out  chan proto.Outbound

	once  sync.Once
	final *proto.Outbound
	over  chan struct{}
}

// terminate sends a final kicked or end event and stops the session.
func (s *session) terminate(event, reason string) {
	s.once.Do(func() {
		ev, err := proto.NewEvent(event, proto.EventReasonData{Reason: reason})
		if err == nil {
			s.final = &ev
		}
		close(s.over)
	})
}

func (s *session) emit(ctx context.Context, event string, data any) error {
	ev, err := proto.NewEvent(event, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	select {
	case s.out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		var in proto.Inbound
		if err := wsjson.Read(ctx, s.conn, &in); err != nil {
			return err
		}

		switch in.Type {
		case proto.InboundTypeChat:
			var data proto.ChatData
			if err := json.Unmarshal(in.Data, &data); err != nil {
				s.protoError(ctx, "bad_request", "invalid chat payload")
				continue
			}
			s.srv.record(s.user, func(st *Stats) { st.Chats = append(st.Chats, data.Text) })
			if reply := s.srv.authReply(s.user, data.Text); reply != "" {
				if err := s.emit(ctx, proto.EventChat, proto.EventChatData{Text: reply}); err != nil {
					return err
				}
				continue
			}
			if err := s.emit(ctx, proto.EventChat, proto.EventChatData{Text: fmt.Sprintf("<%s> %s", s.user, data.Text)}); err != nil {
				return err
			}
		case proto.InboundTypeControl:
			var data proto.ControlData
			if err := json.Unmarshal(in.Data, &data); err != nil {
				s.protoError(ctx, "bad_request", "invalid control payload")
				continue
			}
			s.srv.record(s.user, func(st *Stats) { st.Controls++ })
		case proto.InboundTypeLook:
			s.srv.record(s.user, func(st *Stats) { st.Looks++ })
		case proto.InboundTypeActivateItem:
			s.srv.record(s.user, func(st *Stats) { st.Activates++ })
		case proto.InboundTypeQuit:
			return errSessionOver
		default:
			s.protoError(ctx, "unknown_type", "unknown message type")
		}
	}
}

func (s *session) protoError(ctx context.Context, code, msg string) {
	select {
	case s.out <- proto.NewError(code, msg):
	case <-ctx.Done():
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-s.out:
			if err := wsjson.Write(ctx, s.conn, ev); err != nil {
				return err
			}
		case <-s.over:
			if s.final != nil {
				wctx, cancel := context.WithTimeout(ctx, time.Second)
				err := wsjson.Write(wctx, s.conn, s.final)
				cancel()
				if err != nil {
					return err
				}
			}
			return errSessionOver
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// worldLoop spawns the player and then advances the world clock.
func (s *session) worldLoop(ctx context.Context) error {
	opts := s.srv.opts
	if opts.SpawnDelay > 0 {
		select {
		case <-time.After(opts.SpawnDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := s.emit(ctx, proto.EventSpawn, proto.EventSpawnData{User: s.user}); err != nil {
		return err
	}

	ticker := time.NewTicker(opts.TickInterval)
	defer ticker.Stop()
	var age int64
	for {
		select {
		case <-ticker.C:
			age += opts.TickStep
			if err := s.emit(ctx, proto.EventTime, proto.EventTimeData{Age: age}); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
