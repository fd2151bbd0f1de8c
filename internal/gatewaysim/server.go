// Package gatewaysim is a small in-process game gateway speaking the bot's WebSocket
// protocol. It fakes a server running a chat-command auth plugin and is used by tests
// and by cmd/gatewaysim for local runs.
package gatewaysim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/afkbot/internal/auth"
	"github.com/vovakirdan/afkbot/internal/proto"
)

// Messages the fake auth plugin answers with.
const (
	MsgRegistered        = "§aYou are registered!"
	MsgAlreadyRegistered = "§cYou are already registered."
	MsgPasswordsMismatch = "§cPasswords do not match."
	MsgLoggedIn          = "§aSuccessfully logged in!"
	MsgWrongPassword     = "§cWrong password."
	MsgNotRegistered     = "§cPlease use /register <password> <password>"
	MsgNameInUse         = "That name is already in use"
)

// Options configures the simulator.
type Options struct {
	// JWT, when enabled, makes the hello token mandatory.
	JWT *auth.JWTConfig

	// SpawnDelay is the wait between hello and the spawn event.
	SpawnDelay time.Duration

	// TickInterval is how often a time event is sent; each advances age by TickStep.
	TickInterval time.Duration
	TickStep     int64

	// Reserved names are rejected as if another player held them.
	Reserved []string

	// HelloTimeout bounds the wait for the first message.
	HelloTimeout time.Duration

	// QueueSize bounds the per-session outbound queue.
	QueueSize int
}

// DefaultOptions returns options suitable for local runs.
func DefaultOptions() Options {
	return Options{
		SpawnDelay:   200 * time.Millisecond,
		TickInterval: time.Second,
		TickStep:     20,
		HelloTimeout: 5 * time.Second,
		QueueSize:    64,
	}
}

// Stats counts what the simulator observed, per username.
type Stats struct {
	Sessions  int
	Chats     []string
	Controls  int
	Looks     int
	Activates int
}

// Server accepts bot sessions. Accounts registered through chat survive across sessions.
type Server struct {
	opts Options
	log  *zerolog.Logger

	mu       sync.Mutex
	accounts map[string]string
	online   map[string]*session
	stats    map[string]*Stats
}

// New builds a simulator.
func New(opts Options, logger *zerolog.Logger) *Server {
	def := DefaultOptions()
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.TickStep <= 0 {
		opts.TickStep = def.TickStep
	}
	if opts.HelloTimeout <= 0 {
		opts.HelloTimeout = def.HelloTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Server{
		opts:     opts,
		log:      logger,
		accounts: make(map[string]string),
		online:   make(map[string]*session),
		stats:    make(map[string]*Stats),
	}
}

// Register pre-creates an account, as if the user had registered in an earlier run.
func (s *Server) Register(user, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[user] = password
}

// IsRegistered reports whether user has an account.
func (s *Server) IsRegistered(user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accounts[user]
	return ok
}

// Online lists the usernames with a live session, sorted.
func (s *Server) Online() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.online))
	for name := range s.online {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// StatsFor returns a copy of the counters for user.
func (s *Server) StatsFor(user string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[user]
	if !ok {
		return Stats{}
	}
	out := *st
	out.Chats = slices.Clone(st.Chats)
	return out
}

// Kick ends user's session with a kicked event. It reports whether a session was found.
func (s *Server) Kick(user, reason string) bool {
	s.mu.Lock()
	sess, ok := s.online[user]
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.terminate(proto.EventKicked, reason)
	return true
}

// End closes user's session with an end event, as a server restart would.
func (s *Server) End(user, reason string) bool {
	s.mu.Lock()
	sess, ok := s.online[user]
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.terminate(proto.EventEnd, reason)
	return true
}

// ServeHTTP upgrades the request and runs one session until it ends.
func (s *Server) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &session{
		id:   uuid.NewString(),
		srv:  s,
		conn: conn,
		out:  make(chan proto.Outbound, s.opts.QueueSize),
		over: make(chan struct{}),
	}

	user, err := s.handshake(ctx, conn)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.id).Msg("handshake failed")
		return
	}
	sess.user = user
	log := s.log.With().Str("session_id", sess.id).Str("user", user).Logger()

	if !s.claim(sess) {
		log.Info().Msg("name in use, kicking")
		if ev, evErr := proto.NewEvent(proto.EventKicked, proto.EventReasonData{Reason: MsgNameInUse}); evErr == nil {
			_ = wsjson.Write(ctx, conn, ev)
		}
		conn.Close(websocket.StatusPolicyViolation, "name in use")
		return
	}
	defer s.release(sess)
	log.Info().Msg("session started")

	errCh := make(chan error, 3)
	go func() { errCh <- sess.readLoop(ctx) }()
	go func() { errCh <- sess.writeLoop(ctx) }()
	go func() { errCh <- sess.worldLoop(ctx) }()

	err = <-errCh
	cancel()
	<-errCh
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		if code := websocket.CloseStatus(err); code != -1 {
			status = code
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			log.Debug().Err(err).Msg("session closed with error")
		}
	}
	log.Info().Msg("session ended")
	conn.Close(status, reason)
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (string, error) {
	hctx, cancel := context.WithTimeout(ctx, s.opts.HelloTimeout)
	defer cancel()

	var in proto.Inbound
	if err := wsjson.Read(hctx, conn, &in); err != nil {
		return "", fmt.Errorf("read hello: %w", err)
	}
	if in.Type != proto.InboundTypeHello {
		_ = wsjson.Write(hctx, conn, proto.NewError("bad_request", "hello required"))
		return "", fmt.Errorf("expected hello, got %q", in.Type)
	}
	var hello proto.HelloData
	if err := json.Unmarshal(in.Data, &hello); err != nil {
		_ = wsjson.Write(hctx, conn, proto.NewError("bad_request", "invalid hello"))
		return "", fmt.Errorf("decode hello: %w", err)
	}
	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		_ = wsjson.Write(hctx, conn, proto.NewError("unsupported_version", "unsupported protocol version"))
		return "", fmt.Errorf("unsupported protocol %d", hello.Protocol)
	}

	user := strings.TrimSpace(hello.User)
	if s.opts.JWT.Enabled() {
		claims, err := auth.ValidateToken(s.opts.JWT, hello.Token)
		if err != nil || claims.Username != user {
			_ = wsjson.Write(hctx, conn, proto.NewError("unauthorized", "invalid token"))
			return "", fmt.Errorf("hello token: %w", auth.ErrInvalidToken)
		}
	}
	if user == "" {
		_ = wsjson.Write(hctx, conn, proto.NewError("bad_request", "user required"))
		return "", errors.New("empty username")
	}
	return user, nil
}

func (s *Server) claim(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.opts.Reserved, sess.user) {
		return false
	}
	if _, taken := s.online[sess.user]; taken {
		return false
	}
	s.online[sess.user] = sess
	s.statsLocked(sess.user).Sessions++
	return true
}

func (s *Server) release(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online[sess.user] == sess {
		delete(s.online, sess.user)
	}
}

func (s *Server) statsLocked(user string) *Stats {
	st, ok := s.stats[user]
	if !ok {
		st = &Stats{}
		s.stats[user] = st
	}
	return st
}

func (s *Server) record(user string, fn func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.statsLocked(user))
}

// authReply runs the fake auth plugin for one chat line. It returns "" for plain chat.
func (s *Server) authReply(user, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, registered := s.accounts[user]

	switch strings.ToLower(fields[0]) {
	case "/register", "/reg":
		switch {
		case registered:
			return MsgAlreadyRegistered
		case len(fields) < 3 || fields[1] != fields[2]:
			return MsgPasswordsMismatch
		}
		s.accounts[user] = fields[1]
		return MsgRegistered
	case "/login", "/l":
		switch {
		case !registered:
			return MsgNotRegistered
		case len(fields) < 2 || fields[1] != stored:
			return MsgWrongPassword
		}
		return MsgLoggedIn
	}
	return ""
}
