package core

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/vovakirdan/afkbot/internal/backoff"
	"github.com/vovakirdan/afkbot/internal/chatproto"
)

// AuthConfig controls the chat-command authentication flow.
type AuthConfig struct {
	Password             string
	RegisterCommand      string
	LoginCommand         string
	RegisterToLoginDelay time.Duration
	LoginDelay           time.Duration

	// AlreadyRegisteredIsSuccess persists registered=true when the server answers the
	// register command with "already registered".
	AlreadyRegisteredIsSuccess bool

	// ConfirmTimeout clears a pending confirmation flag that never resolved. Zero disables it.
	ConfirmTimeout time.Duration
}

// MachineConfig holds everything the machine needs besides its collaborators.
type MachineConfig struct {
	Auth        AuthConfig
	FallbackMin time.Duration
	FallbackMax time.Duration
	Registered  bool
}

// PendingAuth tracks unresolved confirmations on the current handle.
type PendingAuth struct {
	AwaitingRegister bool
	AwaitingLogin    bool
	LoginSent        bool
}

func (p *PendingAuth) resolved() bool {
	return p.LoginSent && !p.AwaitingRegister && !p.AwaitingLogin
}

// Snapshot is a read-only view of the machine for status reporting.
type Snapshot struct {
	State      State
	Identity   string
	Conn       uint64
	Failures   int
	Reconnects int
	Registered bool
	Spawned    bool
	Pending    *PendingAuth
	Alternates []string
}

// Machine is the connection lifecycle state machine. It performs no I/O: Handle maps an
// event to the effects the controller must carry out. It is not safe for concurrent use.
type Machine struct {
	cfg      MachineConfig
	detector *chatproto.Detector
	backoff  *backoff.Scheduler
	identity *Identity
	randN    func(n int64) int64

	state      State
	conn       uint64
	lastConn   uint64
	registered bool
	flow       *PendingAuth
	spawned    bool
	failures   int
	reconnects int

	lastTimer TimerID
	armed     map[TimerID]Timer
}

// NewMachine builds a machine in StateIdle.
func NewMachine(cfg MachineConfig, identity *Identity, detector *chatproto.Detector, sched *backoff.Scheduler) *Machine {
	if detector == nil {
		detector = chatproto.New()
	}
	return &Machine{
		cfg:        cfg,
		detector:   detector,
		backoff:    sched,
		identity:   identity,
		randN:      rand.Int64N,
		registered: cfg.Registered,
		armed:      make(map[TimerID]Timer),
	}
}

// SetRand replaces the random source used for the fallback delay.
func (m *Machine) SetRand(fn func(n int64) int64) {
	m.randN = fn
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// Snapshot copies the observable state.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		State:      m.state,
		Identity:   m.identity.Current(),
		Conn:       m.conn,
		Failures:   m.failures,
		Reconnects: m.reconnects,
		Registered: m.registered,
		Spawned:    m.spawned,
		Alternates: m.identity.Remaining(),
	}
	if m.flow != nil {
		flow := *m.flow
		s.Pending = &flow
	}
	return s
}

// Start leaves StateIdle by connecting with the current identity.
func (m *Machine) Start() []Command {
	if m.state != StateIdle {
		return nil
	}
	return m.connect()
}

// Handle applies one event and returns the resulting effects in order.
func (m *Machine) Handle(ev Event) []Command {
	if m.state == StateShuttingDown {
		return nil
	}

	switch ev.Kind {
	case EventShutdown:
		return m.shutdown()
	case EventTimer:
		return m.onTimer(ev.Timer)
	}

	// events from a handle that is no longer current are dropped
	if ev.Conn == 0 || ev.Conn != m.conn {
		return nil
	}

	switch ev.Kind {
	case EventSpawned:
		return m.onSpawned()
	case EventChat:
		return m.onChat(ev.Text)
	case EventTime:
		if m.spawned {
			return []Command{{Kind: CommandIdleTick, Conn: m.conn, Age: ev.Age}}
		}
	case EventKicked:
		return m.onKicked(ev.Reason)
	case EventEnded, EventErrored:
		return m.onFailure(disconnectReason(ev))
	}
	return nil
}

func (m *Machine) connect() []Command {
	if m.lastConn > 0 {
		m.reconnects++
	}
	m.lastConn++
	m.conn = m.lastConn
	m.state = StateConnecting
	return []Command{{Kind: CommandConnect, Conn: m.conn, Identity: m.identity.Current()}}
}

func (m *Machine) onSpawned() []Command {
	if m.flow != nil {
		return nil
	}

	m.failures = 0
	m.spawned = true
	m.state = StateAwaitingAuth
	m.flow = &PendingAuth{}

	var cmds []Command
	if !m.registered {
		cmds = append(cmds, m.chat(PurposeRegister, m.cfg.Auth.RegisterCommand))
		m.flow.AwaitingRegister = true
		cmds = append(cmds, m.armConfirm(PurposeRegister)...)
		cmds = append(cmds, m.arm(TimerLogin, m.cfg.Auth.RegisterToLoginDelay, m.conn, PurposeLogin))
		return cmds
	}
	return append(cmds, m.arm(TimerLogin, m.cfg.Auth.LoginDelay, m.conn, PurposeLogin))
}

func (m *Machine) onChat(text string) []Command {
	if m.flow == nil {
		return nil
	}

	var cmds []Command
	if m.flow.AwaitingRegister {
		switch outcome := m.detector.Classify(text, chatproto.RegisterOutcomes...); outcome {
		case chatproto.OutcomeRegistered:
			cmds = append(cmds, m.confirmRegistered(outcome)...)
		case chatproto.OutcomeAlreadyRegistered:
			if m.cfg.Auth.AlreadyRegisteredIsSuccess {
				cmds = append(cmds, m.confirmRegistered(outcome)...)
				break
			}
			m.flow.AwaitingRegister = false
			cmds = append(cmds, Command{Kind: CommandAuthUpdate, Conn: m.conn, Outcome: outcome, Text: text})
		case chatproto.OutcomeRegisterFailed:
			m.flow.AwaitingRegister = false
			cmds = append(cmds, Command{Kind: CommandAuthUpdate, Conn: m.conn, Outcome: outcome, Text: text})
		}
	}

	if m.flow.AwaitingLogin && m.detector.Classify(text, chatproto.OutcomeLoggedIn) == chatproto.OutcomeLoggedIn {
		m.flow.AwaitingLogin = false
		cmds = append(cmds, Command{Kind: CommandAuthUpdate, Conn: m.conn, Outcome: chatproto.OutcomeLoggedIn, Text: text})
	}

	return append(cmds, m.settle()...)
}

func (m *Machine) confirmRegistered(outcome chatproto.Outcome) []Command {
	m.flow.AwaitingRegister = false
	m.registered = true
	return []Command{
		{Kind: CommandPersist, Registered: true},
		{Kind: CommandAuthUpdate, Conn: m.conn, Outcome: outcome},
	}
}

// settle moves to StateActive once every flag on the flow has resolved.
func (m *Machine) settle() []Command {
	if m.state != StateAwaitingAuth || m.flow == nil || !m.flow.resolved() {
		return nil
	}
	m.state = StateActive
	return m.disarm(func(t Timer) bool { return t.Kind == TimerConfirm && t.Conn == m.conn })
}

func (m *Machine) onTimer(id TimerID) []Command {
	t, ok := m.armed[id]
	if !ok {
		return nil
	}
	delete(m.armed, id)

	switch t.Kind {
	case TimerLogin:
		if t.Conn != m.conn || m.flow == nil {
			return nil
		}
		cmds := []Command{m.chat(PurposeLogin, m.cfg.Auth.LoginCommand)}
		m.flow.AwaitingLogin = true
		m.flow.LoginSent = true
		return append(cmds, m.armConfirm(PurposeLogin)...)

	case TimerConfirm:
		if t.Conn != m.conn || m.flow == nil {
			return nil
		}
		expired := false
		switch t.Purpose {
		case PurposeRegister:
			expired, m.flow.AwaitingRegister = m.flow.AwaitingRegister, false
		case PurposeLogin:
			expired, m.flow.AwaitingLogin = m.flow.AwaitingLogin, false
		}
		if !expired {
			return nil
		}
		cmds := []Command{{Kind: CommandAuthUpdate, Conn: m.conn, Purpose: t.Purpose, Outcome: chatproto.OutcomeNone, Reason: "confirmation timed out"}}
		return append(cmds, m.settle()...)

	case TimerReconnect, TimerFallback:
		if m.conn != 0 {
			return nil
		}
		return m.connect()
	}
	return nil
}

func (m *Machine) onKicked(reason string) []Command {
	if !m.detector.IsNameCollision(reason) {
		return m.onFailure("kicked: " + reason)
	}
	name, ok := m.identity.Advance()
	if !ok {
		return m.onFailure("kicked: " + reason)
	}

	cmds := m.teardown("name in use, switching to " + name)
	m.state = StateBackoff
	return append(cmds, m.arm(TimerFallback, m.fallbackDelay(), 0, ""))
}

func (m *Machine) onFailure(reason string) []Command {
	cmds := m.teardown(reason)
	m.failures++
	m.state = StateBackoff
	return append(cmds, m.arm(TimerReconnect, m.backoff.Delay(m.failures), 0, ""))
}

func (m *Machine) teardown(reason string) []Command {
	conn := m.conn
	cmds := []Command{{Kind: CommandTeardown, Conn: conn, Reason: reason}}
	cmds = append(cmds, m.disarm(func(t Timer) bool { return t.Conn == conn })...)

	m.conn = 0
	m.flow = nil
	m.spawned = false
	m.state = StateDisconnected
	return cmds
}

func (m *Machine) shutdown() []Command {
	var cmds []Command
	if m.conn != 0 {
		cmds = append(cmds, Command{Kind: CommandTeardown, Conn: m.conn, Reason: "shutdown"})
	}
	cmds = append(cmds, m.disarm(func(Timer) bool { return true })...)

	m.conn = 0
	m.flow = nil
	m.spawned = false
	m.state = StateShuttingDown
	return cmds
}

func (m *Machine) arm(kind TimerKind, delay time.Duration, conn uint64, purpose ChatPurpose) Command {
	m.lastTimer++
	t := Timer{ID: m.lastTimer, Kind: kind, Delay: delay, Conn: conn, Purpose: purpose}
	m.armed[t.ID] = t
	return Command{Kind: CommandStartTimer, Conn: conn, Timer: t}
}

func (m *Machine) armConfirm(purpose ChatPurpose) []Command {
	if m.cfg.Auth.ConfirmTimeout <= 0 {
		return nil
	}
	return []Command{m.arm(TimerConfirm, m.cfg.Auth.ConfirmTimeout, m.conn, purpose)}
}

// disarm drops every armed timer that matches, lowest id first.
func (m *Machine) disarm(match func(Timer) bool) []Command {
	var cmds []Command
	for _, t := range m.armed {
		if match(t) {
			cmds = append(cmds, Command{Kind: CommandStopTimer, Conn: t.Conn, Timer: t})
		}
	}
	slices.SortFunc(cmds, func(a, b Command) int { return cmp.Compare(a.Timer.ID, b.Timer.ID) })
	for _, c := range cmds {
		delete(m.armed, c.Timer.ID)
	}
	return cmds
}

func (m *Machine) chat(purpose ChatPurpose, template string) Command {
	return Command{
		Kind:    CommandSendChat,
		Conn:    m.conn,
		Purpose: purpose,
		Text:    RenderCommand(template, m.identity.Current(), m.cfg.Auth.Password),
	}
}

func (m *Machine) fallbackDelay() time.Duration {
	lo, hi := m.cfg.FallbackMin, m.cfg.FallbackMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(m.randN(int64(hi-lo)+1))
}

// RenderCommand substitutes {user} and {pass} in a command template.
func RenderCommand(template, user, pass string) string {
	return strings.NewReplacer("{user}", user, "{pass}", pass).Replace(template)
}

func disconnectReason(ev Event) string {
	switch {
	case ev.Err != nil:
		return "error: " + ev.Err.Error()
	case ev.Reason != "":
		return ev.Reason
	}
	return ev.Kind.String()
}
