package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/afkbot/internal/idle"
	"github.com/vovakirdan/afkbot/internal/store"
)

// DialOptions describes one connection attempt.
type DialOptions struct {
	Host     string
	Port     int
	Username string
	AuthMode string
}

// Transport opens connections to the game server.
type Transport interface {
	Dial(ctx context.Context, opts DialOptions) (Conn, error)
}

// Conn is one live connection. Events is closed after the connection ends. Every
// method must return promptly; a failed send is reported, never retried.
type Conn interface {
	idle.Controls
	Events() <-chan Event
	SendChat(text string) error
	Close() error
}

// Status is what the health endpoint reports.
type Status struct {
	Snapshot
	ConnID         string
	Connected      bool
	ConnectedSince *time.Time
	UpdatedAt      time.Time
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Host     string
	Port     int
	AuthMode string

	// PersistTimeout bounds a single auth-store write.
	PersistTimeout time.Duration
}

type handle struct {
	gen      uint64
	id       string
	identity string
	conn     Conn
	cancel   context.CancelFunc
	since    time.Time
}

type dialResult struct {
	gen  uint64
	conn Conn
	err  error
}

// Controller owns the single connection handle and runs the machine's effects.
// All state is touched only by the goroutine running Run.
type Controller struct {
	machine   *Machine
	transport Transport
	store     store.AuthStore
	driver    *idle.Driver
	opts      ControllerOptions
	log       *zerolog.Logger

	inbox    chan Event
	dialed   chan dialResult
	done     chan struct{}
	persists chan store.AuthRecord

	handle *handle
	timers map[TimerID]*time.Timer
	status atomic.Pointer[Status]
}

// NewController wires a controller. Run must be called exactly once.
func NewController(machine *Machine, transport Transport, st store.AuthStore, driver *idle.Driver, opts ControllerOptions, logger *zerolog.Logger) *Controller {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	c := &Controller{
		machine:   machine,
		transport: transport,
		store:     st,
		driver:    driver,
		opts:      opts,
		log:       logger,
		inbox:     make(chan Event, 64),
		dialed:    make(chan dialResult),
		done:      make(chan struct{}),
		persists:  make(chan store.AuthRecord, 4),
		timers:    make(map[TimerID]*time.Timer),
	}
	c.publish()
	return c
}

// Status returns the latest published status. Safe for concurrent use.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// Run drives the session until ctx is cancelled, then shuts down and returns.
func (c *Controller) Run(ctx context.Context) error {
	persistDone := make(chan struct{})
	go c.persistLoop(persistDone)

	defer func() {
		close(c.done)
		close(c.persists)
		<-persistDone
	}()

	c.apply(ctx, c.machine.Start())
	c.publish()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("shutdown requested")
			c.apply(ctx, c.machine.Handle(Event{Kind: EventShutdown}))
			c.publish()
			return nil
		case ev := <-c.inbox:
			c.dispatch(ctx, ev)
		case res := <-c.dialed:
			c.onDialed(ctx, res)
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventTimer:
		delete(c.timers, ev.Timer)
	case EventChat:
		c.log.Debug().Uint64("conn", ev.Conn).Str("text", ev.Text).Msg("chat")
	case EventTime:
	default:
		entry := c.log.Info()
		if ev.Err != nil || ev.Kind == EventKicked {
			entry = c.log.Warn()
		}
		entry.Uint64("conn", ev.Conn).Str("event", ev.Kind.String()).Str("reason", ev.Reason).Err(ev.Err).Msg("transport event")
	}

	before := c.machine.State()
	c.apply(ctx, c.machine.Handle(ev))
	if after := c.machine.State(); after != before {
		c.log.Debug().Str("from", before.String()).Str("to", after.String()).Msg("state change")
	}
	c.publish()
}

func (c *Controller) apply(ctx context.Context, cmds []Command) {
	for _, cmd := range cmds {
		switch cmd.Kind {
		case CommandConnect:
			c.connect(ctx, cmd)
		case CommandTeardown:
			c.teardown(cmd)
		case CommandSendChat:
			c.sendChat(cmd)
		case CommandStartTimer:
			c.startTimer(cmd.Timer)
		case CommandStopTimer:
			if t, ok := c.timers[cmd.Timer.ID]; ok {
				t.Stop()
				delete(c.timers, cmd.Timer.ID)
			}
		case CommandPersist:
			c.persist(cmd.Registered)
		case CommandIdleTick:
			if h := c.current(cmd.Conn); h != nil && h.conn != nil {
				if err := c.driver.Tick(cmd.Age, h.conn); err != nil {
					c.log.Debug().Err(err).Str("conn_id", h.id).Msg("idle movement failed")
				}
			}
		case CommandAuthUpdate:
			c.logAuth(cmd)
		}
	}
}

func (c *Controller) connect(ctx context.Context, cmd Command) {
	dialCtx, cancel := context.WithCancel(ctx)
	h := &handle{
		gen:      cmd.Conn,
		id:       uuid.NewString(),
		identity: cmd.Identity,
		cancel:   cancel,
	}
	c.handle = h

	c.log.Info().
		Str("conn_id", h.id).
		Str("user", h.identity).
		Str("host", c.opts.Host).
		Int("port", c.opts.Port).
		Msg("creating connection")

	opts := DialOptions{Host: c.opts.Host, Port: c.opts.Port, Username: cmd.Identity, AuthMode: c.opts.AuthMode}
	go func() {
		conn, err := c.transport.Dial(dialCtx, opts)
		select {
		case c.dialed <- dialResult{gen: h.gen, conn: conn, err: err}:
		case <-c.done:
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()
}

func (c *Controller) onDialed(ctx context.Context, res dialResult) {
	h := c.current(res.gen)
	if h == nil {
		// torn down while dialing
		if res.conn != nil {
			_ = res.conn.Close()
		}
		return
	}
	if res.err != nil {
		c.dispatch(ctx, Event{Kind: EventErrored, Conn: res.gen, Err: res.err})
		return
	}

	h.conn = res.conn
	h.since = time.Now()
	pumpCtx, cancel := context.WithCancel(ctx)
	prev := h.cancel
	h.cancel = func() { cancel(); prev() }
	go c.pump(pumpCtx, h.gen, res.conn.Events())

	c.log.Info().Str("conn_id", h.id).Str("user", h.identity).Msg("connected")
	c.publish()
}

// pump forwards one handle's events into the loop, stamped with its generation.
// Cancelling ctx detaches it.
func (c *Controller) pump(ctx context.Context, gen uint64, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				ev = Event{Kind: EventEnded, Reason: "event stream closed"}
			}
			ev.Conn = gen
			select {
			case c.inbox <- ev:
			case <-ctx.Done():
				return
			}
			if !ok || ev.Terminal() {
				return
			}
		}
	}
}

func (c *Controller) teardown(cmd Command) {
	h := c.current(cmd.Conn)
	if h == nil {
		return
	}
	c.handle = nil
	h.cancel()

	var controls idle.Controls
	if h.conn != nil {
		controls = h.conn
	}
	if err := c.driver.Reset(controls); err != nil {
		c.log.Debug().Err(err).Str("conn_id", h.id).Msg("release controls failed")
	}
	if h.conn != nil {
		if err := h.conn.Close(); err != nil {
			c.log.Debug().Err(err).Str("conn_id", h.id).Msg("close connection failed")
		}
	}
	c.log.Info().Str("conn_id", h.id).Str("reason", cmd.Reason).Msg("connection torn down")
}

func (c *Controller) sendChat(cmd Command) {
	h := c.current(cmd.Conn)
	if h == nil || h.conn == nil {
		c.log.Error().Err(ErrNotConnected).Str("purpose", string(cmd.Purpose)).Msg("failed to send command")
		return
	}
	if err := h.conn.SendChat(cmd.Text); err != nil {
		c.log.Error().Err(err).Str("conn_id", h.id).Str("purpose", string(cmd.Purpose)).Msg("failed to send command")
		return
	}
	c.log.Info().Str("conn_id", h.id).Str("purpose", string(cmd.Purpose)).Msg("sent auth command")
}

func (c *Controller) startTimer(t Timer) {
	id := t.ID
	c.timers[id] = time.AfterFunc(t.Delay, func() {
		select {
		case c.inbox <- Event{Kind: EventTimer, Timer: id}:
		case <-c.done:
		}
	})
	if t.Kind == TimerReconnect || t.Kind == TimerFallback {
		c.log.Info().
			Str("timer", t.Kind.String()).
			Dur("delay", t.Delay).
			Int("failures", c.machine.Snapshot().Failures).
			Msg("scheduling reconnect")
	}
}

func (c *Controller) persist(registered bool) {
	now := time.Now().UTC()
	select {
	case c.persists <- store.AuthRecord{Registered: registered, UpdatedAt: &now}:
	default:
		c.log.Warn().Msg("auth state write queue full, dropping write")
	}
}

func (c *Controller) persistLoop(done chan<- struct{}) {
	defer close(done)
	for rec := range c.persists {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.PersistTimeout)
		err := c.store.Save(ctx, rec)
		cancel()
		if err != nil {
			c.log.Error().Err(err).Msg("failed to write auth state")
			continue
		}
		c.log.Info().Bool("registered", rec.Registered).Msg("auth state saved")
	}
}

func (c *Controller) logAuth(cmd Command) {
	entry := c.log.Info()
	if cmd.Reason != "" {
		entry = c.log.Warn().Str("purpose", string(cmd.Purpose)).Str("reason", cmd.Reason)
	}
	entry.Uint64("conn", cmd.Conn).Str("outcome", cmd.Outcome.String()).Msg("auth progress")
}

func (c *Controller) current(gen uint64) *handle {
	if c.handle == nil || c.handle.gen != gen {
		return nil
	}
	return c.handle
}

func (c *Controller) publish() {
	st := &Status{Snapshot: c.machine.Snapshot(), UpdatedAt: time.Now()}
	if h := c.handle; h != nil {
		st.ConnID = h.id
		if h.conn != nil {
			st.Connected = true
			since := h.since
			st.ConnectedSince = &since
		}
	}
	c.status.Store(st)
}

// LoadRegistered reads the persisted flag, falling back to false on any error.
func LoadRegistered(ctx context.Context, st store.AuthStore, logger *zerolog.Logger) bool {
	rec, err := st.Load(ctx)
	if err != nil {
		ev := logger.Warn().Err(err)
		if errors.Is(err, store.ErrCorrupt) {
			ev = ev.Bool("corrupt", true)
		}
		ev.Msg("failed to read auth state, assuming unregistered")
		return false
	}
	return rec.Registered
}
