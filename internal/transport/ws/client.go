// Package ws connects to a game gateway over WebSocket and adapts it to core.Transport.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/afkbot/internal/auth"
	"github.com/vovakirdan/afkbot/internal/core"
	"github.com/vovakirdan/afkbot/internal/idle"
	"github.com/vovakirdan/afkbot/internal/proto"
)

// Options configures the gateway client.
type Options struct {
	// Path is appended to ws://host:port/.
	Path string

	// JWT signs the hello token. Nil or an empty secret sends no token.
	JWT *auth.JWTConfig

	// ChatRate is chat lines per second; ChatBurst is the bucket size. Zero disables the limit.
	ChatRate  float64
	ChatBurst int

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// QueueSize bounds the outbound frame queue.
	QueueSize int

	// DialTimeout bounds the WebSocket handshake plus the hello write.
	DialTimeout time.Duration

	// PingInterval is the keepalive period; zero disables pings. A ping without a pong
	// within PingTimeout ends the connection with an errored event.
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// Transport dials gateway connections. It is safe for concurrent use.
type Transport struct {
	opts Options
	log  *zerolog.Logger
}

// New builds a transport.
func New(opts Options, logger *zerolog.Logger) *Transport {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.ChatBurst <= 0 {
		opts.ChatBurst = 1
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.PingInterval > 0 && opts.PingTimeout <= 0 {
		opts.PingTimeout = opts.PingInterval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Transport{opts: opts, log: logger}
}

// URL is the gateway address for host and port.
func (t *Transport) URL(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/" + strings.TrimPrefix(t.opts.Path, "/")
}

// Dial opens a connection and sends hello. Events start flowing immediately.
// The whole exchange is bounded by DialTimeout.
func (t *Transport) Dial(ctx context.Context, opts core.DialOptions) (core.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	defer cancel()

	url := t.URL(opts.Host, opts.Port)
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	token, err := auth.GenerateToken(t.opts.JWT, opts.Username, opts.AuthMode)
	if err != nil {
		ws.CloseNow()
		return nil, fmt.Errorf("hello token: %w", err)
	}
	hello, err := proto.NewInbound(proto.InboundTypeHello, proto.HelloData{
		User:     opts.Username,
		Auth:     opts.AuthMode,
		Token:    token,
		Protocol: proto.ProtocolVersion,
	})
	if err != nil {
		ws.CloseNow()
		return nil, fmt.Errorf("encode hello: %w", err)
	}
	wctx, wcancel := context.WithTimeout(ctx, t.opts.WriteTimeout)
	err = wsjson.Write(wctx, ws, hello)
	wcancel()
	if err != nil {
		ws.CloseNow()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	var limiter *rate.Limiter
	if t.opts.ChatRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(t.opts.ChatRate), t.opts.ChatBurst)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	log := t.log.With().Str("user", opts.Username).Logger()
	c := &Conn{
		ws:           ws,
		log:          &log,
		events:       make(chan core.Event, 64),
		out:          make(chan proto.Inbound, t.opts.QueueSize),
		limiter:      limiter,
		writeTimeout: t.opts.WriteTimeout,
		ctx:          connCtx,
		cancel:       connCancel,
	}
	go c.readLoop()
	go c.writeLoop()
	if t.opts.PingInterval > 0 {
		go c.pingLoop(t.opts.PingInterval, t.opts.PingTimeout)
	}
	return c, nil
}

// Conn is one gateway session.
type Conn struct {
	ws           *websocket.Conn
	log          *zerolog.Logger
	events       chan core.Event
	out          chan proto.Inbound
	limiter      *rate.Limiter
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu      sync.Mutex
	failure error
}

// Events yields session events and is closed once the session is over.
func (c *Conn) Events() <-chan core.Event { return c.events }

// SendChat queues a chat line, subject to the chat rate limit.
func (c *Conn) SendChat(text string) error {
	if c.limiter != nil && !c.limiter.Allow() {
		return core.ErrRateLimited
	}
	return c.enqueue(proto.InboundTypeChat, proto.ChatData{Text: text})
}

// SetControlState presses or releases a movement control.
func (c *Conn) SetControlState(action idle.Action, on bool) error {
	return c.enqueue(proto.InboundTypeControl, proto.ControlData{Action: string(action), State: on})
}

// Look turns the head.
func (c *Conn) Look(yaw, pitch float64) error {
	return c.enqueue(proto.InboundTypeLook, proto.LookData{Yaw: yaw, Pitch: pitch})
}

// ActivateItem uses the held item.
func (c *Conn) ActivateItem() error {
	return c.enqueue(proto.InboundTypeActivateItem, nil)
}

// Close says goodbye and closes the socket in the background. It never blocks.
func (c *Conn) Close() error {
	c.once.Do(func() {
		go func() {
			if quit, err := proto.NewInbound(proto.InboundTypeQuit, nil); err == nil {
				wctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
				_ = wsjson.Write(wctx, c.ws, quit)
				cancel()
			}
			c.cancel()
			_ = c.ws.Close(websocket.StatusNormalClosure, "quit")
		}()
	})
	return nil
}

func (c *Conn) enqueue(typ string, data any) error {
	if c.ctx.Err() != nil {
		return core.ErrNotConnected
	}
	in, err := proto.NewInbound(typ, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	select {
	case c.out <- in:
		return nil
	case <-c.ctx.Done():
		return core.ErrNotConnected
	default:
		return core.ErrQueueFull
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case in := <-c.out:
			wctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := wsjson.Write(wctx, c.ws, in)
			cancel()
			if err != nil {
				c.log.Debug().Err(err).Str("type", in.Type).Msg("write ws frame")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) readLoop() {
	defer close(c.events)
	defer c.cancel()

	for {
		var out proto.Outbound
		if err := wsjson.Read(c.ctx, c.ws, &out); err != nil {
			if c.ctx.Err() == nil {
				c.deliver(readFailure(err))
			} else if ferr := c.failed(); ferr != nil {
				c.deliverFinal(core.Event{Kind: core.EventErrored, Err: ferr})
			}
			return
		}

		ev, ok := c.toEvent(out)
		if !ok {
			continue
		}
		if !c.deliver(ev) || ev.Terminal() {
			return
		}
	}
}

func (c *Conn) deliver(ev core.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// deliverFinal hands over the last event after ctx is already cancelled.
func (c *Conn) deliverFinal(ev core.Event) {
	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()
	select {
	case c.events <- ev:
	case <-timer.C:
		c.log.Debug().Str("event", ev.Kind.String()).Msg("final event dropped, nobody listening")
	}
}

// pingLoop checks that the peer still answers. The read loop reports the failure.
func (c *Conn) pingLoop(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(c.ctx, timeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err == nil {
				continue
			}
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("keepalive failed")
			c.fail(fmt.Errorf("keepalive: %w", err))
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.failure == nil {
		c.failure = err
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *Conn) failed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

func (c *Conn) toEvent(out proto.Outbound) (core.Event, bool) {
	if out.Type == proto.OutboundTypeError {
		if out.Error == nil {
			return core.Event{}, false
		}
		c.log.Warn().Str("code", out.Error.Code).Str("msg", out.Error.Msg).Msg("gateway error")
		if out.Error.Code == "unauthorized" || out.Error.Code == "unsupported_version" {
			return core.Event{Kind: core.EventErrored, Err: fmt.Errorf("gateway %s: %s", out.Error.Code, out.Error.Msg)}, true
		}
		return core.Event{}, false
	}
	if out.Type != proto.OutboundTypeEvent {
		return core.Event{}, false
	}

	switch out.Event {
	case proto.EventSpawn:
		return core.Event{Kind: core.EventSpawned}, true
	case proto.EventChat:
		var data proto.EventChatData
		if err := json.Unmarshal(out.Data, &data); err != nil {
			c.log.Debug().Err(err).Msg("decode chat event")
			return core.Event{}, false
		}
		return core.Event{Kind: core.EventChat, Text: data.Text}, true
	case proto.EventTime:
		var data proto.EventTimeData
		if err := json.Unmarshal(out.Data, &data); err != nil {
			c.log.Debug().Err(err).Msg("decode time event")
			return core.Event{}, false
		}
		return core.Event{Kind: core.EventTime, Age: data.Age}, true
	case proto.EventKicked, proto.EventEnd, proto.EventError:
		var data proto.EventReasonData
		if len(out.Data) > 0 {
			_ = json.Unmarshal(out.Data, &data)
		}
		switch out.Event {
		case proto.EventKicked:
			return core.Event{Kind: core.EventKicked, Reason: data.Reason}, true
		case proto.EventEnd:
			return core.Event{Kind: core.EventEnded, Reason: data.Reason}, true
		}
		reason := data.Reason
		if reason == "" {
			reason = "gateway error"
		}
		return core.Event{Kind: core.EventErrored, Err: errors.New(reason)}, true
	}
	return core.Event{}, false
}

func readFailure(err error) core.Event {
	switch status := websocket.CloseStatus(err); {
	case errors.Is(err, io.EOF), status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway:
		return core.Event{Kind: core.EventEnded, Reason: "connection closed"}
	case status != -1:
		return core.Event{Kind: core.EventEnded, Reason: fmt.Sprintf("connection closed: %d", int(status))}
	}
	return core.Event{Kind: core.EventErrored, Err: fmt.Errorf("read: %w", err)}
}
