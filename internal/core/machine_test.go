package core

import (
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/afkbot/internal/backoff"
	"github.com/vovakirdan/afkbot/internal/chatproto"
)

func TestStartConnectsWithPrimaryIdentity(t *testing.T) {
	m := newTestMachine(t, false, nil)

	cmds := m.Start()
	connect := onlyKind(t, cmds, CommandConnect)
	if connect.Identity != "bot1" || connect.Conn != 1 {
		t.Fatalf("unexpected connect: %+v", connect)
	}
	if m.State() != StateConnecting {
		t.Fatalf("expected connecting, got %v", m.State())
	}
	if again := m.Start(); again != nil {
		t.Fatalf("second Start must be a no-op, got %+v", again)
	}
}

func TestUnregisteredSpawnSendsRegisterThenLogin(t *testing.T) {
	m := newTestMachine(t, false, nil)
	m.Start()

	cmds := m.Handle(Event{Kind: EventSpawned, Conn: 1})
	if m.State() != StateAwaitingAuth {
		t.Fatalf("expected awaiting_auth, got %v", m.State())
	}

	chats := ofKind(cmds, CommandSendChat)
	if len(chats) != 1 || chats[0].Purpose != PurposeRegister || chats[0].Text != "/register secret secret" {
		t.Fatalf("expected exactly one register command, got %+v", chats)
	}
	login := onlyKind(t, ofKind(cmds, CommandStartTimer), CommandStartTimer).Timer
	if login.Kind != TimerLogin || login.Delay != 2*time.Second {
		t.Fatalf("expected login timer after register-to-login delay, got %+v", login)
	}
	if p := m.Snapshot().Pending; p == nil || !p.AwaitingRegister || p.AwaitingLogin {
		t.Fatalf("unexpected pending flow: %+v", p)
	}

	cmds = m.Handle(Event{Kind: EventTimer, Timer: login.ID})
	chats = ofKind(cmds, CommandSendChat)
	if len(chats) != 1 || chats[0].Purpose != PurposeLogin || chats[0].Text != "/login secret" {
		t.Fatalf("expected exactly one login command, got %+v", chats)
	}
	if p := m.Snapshot().Pending; !p.AwaitingLogin {
		t.Fatalf("expected awaiting login, got %+v", p)
	}

	// the timer is consumed; firing it again does nothing
	if cmds := m.Handle(Event{Kind: EventTimer, Timer: login.ID}); cmds != nil {
		t.Fatalf("stale timer produced effects: %+v", cmds)
	}
}

func TestRegisteredSpawnSendsOnlyLogin(t *testing.T) {
	m := newTestMachine(t, true, nil)
	m.Start()

	cmds := m.Handle(Event{Kind: EventSpawned, Conn: 1})
	if chats := ofKind(cmds, CommandSendChat); len(chats) != 0 {
		t.Fatalf("registered session must not send on spawn, got %+v", chats)
	}
	login := onlyKind(t, cmds, CommandStartTimer).Timer
	if login.Delay != 1500*time.Millisecond {
		t.Fatalf("expected login delay, got %v", login.Delay)
	}

	cmds = m.Handle(Event{Kind: EventTimer, Timer: login.ID})
	chats := ofKind(cmds, CommandSendChat)
	if len(chats) != 1 || chats[0].Purpose != PurposeLogin {
		t.Fatalf("expected one login command, got %+v", chats)
	}
}

func TestRepeatedSpawnKeepsSingleFlow(t *testing.T) {
	m := newTestMachine(t, false, nil)
	m.Start()

	first := m.Handle(Event{Kind: EventSpawned, Conn: 1})
	if len(first) == 0 {
		t.Fatalf("expected effects on first spawn")
	}
	if again := m.Handle(Event{Kind: EventSpawned, Conn: 1}); again != nil {
		t.Fatalf("second spawn on same handle produced effects: %+v", again)
	}
}

func TestRegistrationSuccessPersists(t *testing.T) {
	m := newTestMachine(t, false, nil)
	m.Start()
	m.Handle(Event{Kind: EventSpawned, Conn: 1})

	cmds := m.Handle(Event{Kind: EventChat, Conn: 1, Text: "You are registered!"})
	persist := onlyKind(t, ofKind(cmds, CommandPersist), CommandPersist)
	if !persist.Registered {
		t.Fatalf("expected registered=true persist, got %+v", persist)
	}
	snap := m.Snapshot()
	if !snap.Registered || snap.Pending.AwaitingRegister {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	// unrelated lines are ignored
	if cmds := m.Handle(Event{Kind: EventChat, Conn: 1, Text: "random chatter"}); len(ofKind(cmds, CommandPersist)) != 0 {
		t.Fatalf("unexpected persist on unmatched line")
	}
}

func TestAlreadyRegisteredPolicy(t *testing.T) {
	tests := []struct {
		name        string
		asSuccess   bool
		wantPersist bool
	}{
		{"faithful", false, false},
		{"treated as success", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t, false, func(cfg *MachineConfig) {
				cfg.Auth.AlreadyRegisteredIsSuccess = tt.asSuccess
			})
			m.Start()
			m.Handle(Event{Kind: EventSpawned, Conn: 1})

			cmds := m.Handle(Event{Kind: EventChat, Conn: 1, Text: "You are already registered."})
			if got := len(ofKind(cmds, CommandPersist)) == 1; got != tt.wantPersist {
				t.Fatalf("persist = %v, want %v", got, tt.wantPersist)
			}
			snap := m.Snapshot()
			if snap.Pending.AwaitingRegister {
				t.Fatalf("register flag should be cleared")
			}
			if snap.Registered != tt.wantPersist {
				t.Fatalf("registered = %v, want %v", snap.Registered, tt.wantPersist)
			}
		})
	}
}

func TestLoginConfirmationMakesSessionActive(t *testing.T) {
	m := newTestMachine(t, true, nil)
	m.Start()
	login := onlyKind(t, m.Handle(Event{Kind: EventSpawned, Conn: 1}), CommandStartTimer).Timer

	// a login line before the command was sent does not count
	m.Handle(Event{Kind: EventChat, Conn: 1, Text: "Welcome!"})
	if m.State() != StateAwaitingAuth {
		t.Fatalf("expected awaiting_auth before login sent, got %v", m.State())
	}

	m.Handle(Event{Kind: EventTimer, Timer: login.ID})
	cmds := m.Handle(Event{Kind: EventChat, Conn: 1, Text: "Successfully logged in!"})
	if len(ofKind(cmds, CommandAuthUpdate)) != 1 {
		t.Fatalf("expected auth update, got %+v", cmds)
	}
	if m.State() != StateActive {
		t.Fatalf("expected active, got %v", m.State())
	}
}

func TestIdleTicksGatedOnSpawn(t *testing.T) {
	m := newTestMachine(t, false, nil)
	m.Start()

	if cmds := m.Handle(Event{Kind: EventTime, Conn: 1, Age: 10}); cmds != nil {
		t.Fatalf("tick before spawn must be ignored, got %+v", cmds)
	}
	m.Handle(Event{Kind: EventSpawned, Conn: 1})
	tick := onlyKind(t, m.Handle(Event{Kind: EventTime, Conn: 1, Age: 20}), CommandIdleTick)
	if tick.Age != 20 {
		t.Fatalf("unexpected tick: %+v", tick)
	}
}

func TestDisconnectTearsDownAndBacksOff(t *testing.T) {
	m := newTestMachine(t, false, nil)
	m.Start()
	m.Handle(Event{Kind: EventSpawned, Conn: 1})

	cmds := m.Handle(Event{Kind: EventEnded, Conn: 1})
	if cmds[0].Kind != CommandTeardown || cmds[0].Conn != 1 {
		t.Fatalf("teardown must come first, got %+v", cmds[0])
	}
	stopped := ofKind(cmds, CommandStopTimer)
	if len(stopped) != 1 || stopped[0].Timer.Kind != TimerLogin {
		t.Fatalf("expected pending login timer to be stopped, got %+v", stopped)
	}
	reconnect := onlyKind(t, ofKind(cmds, CommandStartTimer), CommandStartTimer).Timer
	if reconnect.Kind != TimerReconnect || reconnect.Delay != 2*time.Second {
		t.Fatalf("expected reconnect after base*2^1, got %+v", reconnect)
	}

	snap := m.Snapshot()
	if snap.State != StateBackoff || snap.Failures != 1 || snap.Pending != nil || snap.Spawned {
		t.Fatalf("unexpected snapshot after disconnect: %+v", snap)
	}

	// late events from the dead handle are ignored
	if late := m.Handle(Event{Kind: EventChat, Conn: 1, Text: "You are registered!"}); late != nil {
		t.Fatalf("stale handle event produced effects: %+v", late)
	}

	connect := onlyKind(t, m.Handle(Event{Kind: EventTimer, Timer: reconnect.ID}), CommandConnect)
	if connect.Conn != 2 || m.State() != StateConnecting {
		t.Fatalf("expected new handle generation 2, got %+v in %v", connect, m.State())
	}
}

func TestConsecutiveErrorsGrowBackoffAndSpawnResets(t *testing.T) {
	m := newTestMachine(t, true, nil)
	m.Start()

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		conn := m.Snapshot().Conn
		cmds := m.Handle(Event{Kind: EventErrored, Conn: conn, Err: errors.New("connection refused")})
		timer := onlyKind(t, ofKind(cmds, CommandStartTimer), CommandStartTimer).Timer
		delays = append(delays, timer.Delay)
		m.Handle(Event{Kind: EventTimer, Timer: timer.ID})
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v (all: %v)", i, delays[i], want[i], delays)
		}
	}
	if got := m.Snapshot().Failures; got != 3 {
		t.Fatalf("failures = %d, want 3", got)
	}

	m.Handle(Event{Kind: EventSpawned, Conn: m.Snapshot().Conn})
	if got := m.Snapshot().Failures; got != 0 {
		t.Fatalf("failures after spawn = %d, want 0", got)
	}
	if got := m.Snapshot().Reconnects; got != 3 {
		t.Fatalf("reconnects = %d, want 3", got)
	}
}

func TestBackoffCapsAtCeiling(t *testing.T) {
	m := newTestMachine(t, true, nil)
	m.Start()

	var last time.Duration
	for i := 0; i < 10; i++ {
		cmds := m.Handle(Event{Kind: EventEnded, Conn: m.Snapshot().Conn})
		timer := onlyKind(t, ofKind(cmds, CommandStartTimer), CommandStartTimer).Timer
		if timer.Delay < last {
			t.Fatalf("delay decreased: %v < %v", timer.Delay, last)
		}
		if timer.Delay > 30*time.Second {
			t.Fatalf("delay %v exceeds cap", timer.Delay)
		}
		last = timer.Delay
		m.Handle(Event{Kind: EventTimer, Timer: timer.ID})
	}
	if last != 30*time.Second {
		t.Fatalf("expected to reach cap, last = %v", last)
	}
}

func TestNameCollisionKickUsesFallbackIdentity(t *testing.T) {
	m := newTestMachine(t, true, nil)
	m.SetRand(func(n int64) int64 { return n / 2 })
	m.Start()
	m.Handle(Event{Kind: EventSpawned, Conn: 1})

	cmds := m.Handle(Event{Kind: EventKicked, Conn: 1, Reason: "Username already taken"})
	if cmds[0].Kind != CommandTeardown {
		t.Fatalf("expected teardown first, got %+v", cmds[0])
	}
	var fallback Timer
	for _, c := range ofKind(cmds, CommandStartTimer) {
		fallback = c.Timer
	}
	if fallback.Kind != TimerFallback {
		t.Fatalf("expected fallback timer, got %+v", fallback)
	}
	if fallback.Delay < time.Second || fallback.Delay > 3*time.Second {
		t.Fatalf("fallback delay %v outside [1s, 3s]", fallback.Delay)
	}

	snap := m.Snapshot()
	if snap.Identity != "bot2" {
		t.Fatalf("identity = %q, want bot2", snap.Identity)
	}
	if len(snap.Alternates) != 1 || snap.Alternates[0] != "bot3" {
		t.Fatalf("alternates = %v, want [bot3]", snap.Alternates)
	}
	if snap.Failures != 0 {
		t.Fatalf("name collision must not count as failure, got %d", snap.Failures)
	}

	connect := onlyKind(t, m.Handle(Event{Kind: EventTimer, Timer: fallback.ID}), CommandConnect)
	if connect.Identity != "bot2" {
		t.Fatalf("reconnect identity = %q, want bot2", connect.Identity)
	}
}

func TestNameCollisionWithEmptyQueueBacksOff(t *testing.T) {
	m := newTestMachine(t, true, nil)
	m.identity = NewIdentity("bot1", nil)
	m.Start()

	cmds := m.Handle(Event{Kind: EventKicked, Conn: 1, Reason: "Duplicate name"})
	timer := onlyKind(t, ofKind(cmds, CommandStartTimer), CommandStartTimer).Timer
	if timer.Kind != TimerReconnect {
		t.Fatalf("expected exponential reconnect, got %v", timer.Kind)
	}
	if m.Snapshot().Identity != "bot1" || m.Snapshot().Failures != 1 {
		t.Fatalf("unexpected snapshot: %+v", m.Snapshot())
	}
}

func TestOrdinaryKickBacksOff(t *testing.T) {
	m := newTestMachine(t, true, nil)
	m.Start()

	cmds := m.Handle(Event{Kind: EventKicked, Conn: 1, Reason: "You have been idle for too long"})
	timer := onlyKind(t, ofKind(cmds, CommandStartTimer), CommandStartTimer).Timer
	if timer.Kind != TimerReconnect {
		t.Fatalf("expected reconnect timer, got %v", timer.Kind)
	}
	if m.Snapshot().Identity != "bot1" {
		t.Fatalf("identity must not change on ordinary kick")
	}
}

func TestShutdownDuringBackoffSuppressesReconnect(t *testing.T) {
	m := newTestMachine(t, true, nil)
	m.Start()

	cmds := m.Handle(Event{Kind: EventEnded, Conn: 1})
	reconnect := onlyKind(t, ofKind(cmds, CommandStartTimer), CommandStartTimer).Timer

	cmds = m.Handle(Event{Kind: EventShutdown})
	if len(ofKind(cmds, CommandTeardown)) != 0 {
		t.Fatalf("no live handle to tear down during backoff, got %+v", cmds)
	}
	stopped := ofKind(cmds, CommandStopTimer)
	if len(stopped) != 1 || stopped[0].Timer.ID != reconnect.ID {
		t.Fatalf("expected reconnect timer to be cancelled, got %+v", stopped)
	}
	if m.State() != StateShuttingDown {
		t.Fatalf("expected shutting_down, got %v", m.State())
	}

	if cmds := m.Handle(Event{Kind: EventTimer, Timer: reconnect.ID}); cmds != nil {
		t.Fatalf("timer after shutdown produced effects: %+v", cmds)
	}
	if m.State() != StateShuttingDown {
		t.Fatalf("shutdown must be absorbing")
	}
}

func TestShutdownWhileConnectedTearsDown(t *testing.T) {
	m := newTestMachine(t, false, nil)
	m.Start()
	m.Handle(Event{Kind: EventSpawned, Conn: 1})

	cmds := m.Handle(Event{Kind: EventShutdown})
	if cmds[0].Kind != CommandTeardown || cmds[0].Conn != 1 {
		t.Fatalf("expected teardown of handle 1, got %+v", cmds)
	}
	if len(ofKind(cmds, CommandStopTimer)) != 1 {
		t.Fatalf("expected login timer cancelled, got %+v", cmds)
	}
}

func TestConfirmTimeoutClearsFlags(t *testing.T) {
	m := newTestMachine(t, true, func(cfg *MachineConfig) {
		cfg.Auth.ConfirmTimeout = 10 * time.Second
	})
	m.Start()
	login := onlyKind(t, m.Handle(Event{Kind: EventSpawned, Conn: 1}), CommandStartTimer).Timer

	cmds := m.Handle(Event{Kind: EventTimer, Timer: login.ID})
	confirm := onlyKind(t, ofKind(cmds, CommandStartTimer), CommandStartTimer).Timer
	if confirm.Kind != TimerConfirm || confirm.Purpose != PurposeLogin {
		t.Fatalf("expected login confirm timer, got %+v", confirm)
	}

	cmds = m.Handle(Event{Kind: EventTimer, Timer: confirm.ID})
	update := onlyKind(t, cmds, CommandAuthUpdate)
	if update.Reason == "" {
		t.Fatalf("expected timeout reason, got %+v", update)
	}
	if m.State() != StateActive {
		t.Fatalf("expected active after timeout resolution, got %v", m.State())
	}
}

func TestRenderCommand(t *testing.T) {
	got := RenderCommand("/register {user} {pass} {pass} {other}", "bot1", "pw")
	if got != "/register bot1 pw pw {other}" {
		t.Fatalf("RenderCommand = %q", got)
	}
}

func TestIdentityQueue(t *testing.T) {
	id := NewIdentity(" bot1 ", []string{"bot2", "", "bot1", "bot2", "bot3"})
	if id.Current() != "bot1" {
		t.Fatalf("current = %q", id.Current())
	}
	for _, want := range []string{"bot2", "bot3"} {
		got, ok := id.Advance()
		if !ok || got != want || id.Current() != want {
			t.Fatalf("Advance = %q, %v; want %q", got, ok, want)
		}
	}
	if _, ok := id.Advance(); ok {
		t.Fatalf("expected queue exhausted")
	}
	if id.Current() != "bot3" || id.Primary() != "bot1" {
		t.Fatalf("unexpected identity after exhaustion: %q/%q", id.Current(), id.Primary())
	}
}

func TestDetectorIsUsedForCustomGrammar(t *testing.T) {
	det, err := chatproto.NewWithExtra(map[string][]string{"registered": {"account created"}})
	if err != nil {
		t.Fatalf("NewWithExtra: %v", err)
	}
	m := NewMachine(testMachineConfig(false), NewIdentity("bot1", nil), det, testScheduler())
	m.Start()
	m.Handle(Event{Kind: EventSpawned, Conn: 1})

	cmds := m.Handle(Event{Kind: EventChat, Conn: 1, Text: "Account created."})
	if len(ofKind(cmds, CommandPersist)) != 1 {
		t.Fatalf("expected custom pattern to confirm registration, got %+v", cmds)
	}
}

func testScheduler() *backoff.Scheduler {
	return backoff.New(time.Second, 30*time.Second, 0)
}

func testMachineConfig(registered bool) MachineConfig {
	return MachineConfig{
		Auth: AuthConfig{
			Password:             "secret",
			RegisterCommand:      "/register {pass} {pass}",
			LoginCommand:         "/login {pass}",
			RegisterToLoginDelay: 2 * time.Second,
			LoginDelay:           1500 * time.Millisecond,
		},
		FallbackMin: time.Second,
		FallbackMax: 3 * time.Second,
		Registered:  registered,
	}
}

func newTestMachine(t *testing.T, registered bool, mutate func(*MachineConfig)) *Machine {
	t.Helper()

	cfg := testMachineConfig(registered)
	if mutate != nil {
		mutate(&cfg)
	}
	return NewMachine(cfg, NewIdentity("bot1", []string{"bot2", "bot3"}), chatproto.New(), testScheduler())
}

func ofKind(cmds []Command, kind CommandKind) []Command {
	var out []Command
	for _, c := range cmds {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func onlyKind(t *testing.T, cmds []Command, kind CommandKind) Command {
	t.Helper()

	matched := ofKind(cmds, kind)
	if len(matched) != 1 || len(cmds) != 1 {
		t.Fatalf("expected exactly one command of kind %v, got %+v", kind, cmds)
	}
	return matched[0]
}
