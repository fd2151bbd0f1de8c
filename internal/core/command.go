package core

import (
	"time"

	"github.com/vovakirdan/afkbot/internal/chatproto"
)

// CommandKind describes an effect the machine asks the controller to perform.
type CommandKind int

const (
	// CommandConnect opens a new handle with generation Conn as Identity.
	CommandConnect CommandKind = iota
	// CommandTeardown releases inputs, detaches listeners and closes handle Conn.
	CommandTeardown
	// CommandSendChat sends Text on handle Conn.
	CommandSendChat
	// CommandStartTimer arms Timer.
	CommandStartTimer
	// CommandStopTimer disarms Timer.
	CommandStopTimer
	// CommandPersist writes Registered to the auth store.
	CommandPersist
	// CommandIdleTick advances the idle driver to Age.
	CommandIdleTick
	// CommandAuthUpdate reports progress of the authentication flow.
	CommandAuthUpdate
)

// ChatPurpose labels outbound chat so it can be logged without the secret.
type ChatPurpose string

const (
	PurposeRegister ChatPurpose = "register"
	PurposeLogin    ChatPurpose = "login"
)

// Command is one effect. Only the fields relevant to Kind are set.
type Command struct {
	Kind       CommandKind
	Conn       uint64
	Identity   string
	Text       string
	Purpose    ChatPurpose
	Reason     string
	Timer      Timer
	Registered bool
	Age        int64
	Outcome    chatproto.Outcome
}

// TimerID identifies one armed timer. IDs are never reused.
type TimerID uint64

// TimerKind says what a timer is for.
type TimerKind int

const (
	// TimerLogin sends the login command after the post-spawn delay.
	TimerLogin TimerKind = iota
	// TimerReconnect ends an exponential backoff wait.
	TimerReconnect
	// TimerFallback ends the short wait before retrying with an alternate identity.
	TimerFallback
	// TimerConfirm expires a pending register or login confirmation.
	TimerConfirm
)

func (k TimerKind) String() string {
	switch k {
	case TimerLogin:
		return "login"
	case TimerReconnect:
		return "reconnect"
	case TimerFallback:
		return "fallback"
	case TimerConfirm:
		return "confirm"
	}
	return "unknown"
}

// Timer is a one-shot timer owned by the machine. Conn is non-zero for timers bound to
// a handle; those are disarmed when the handle is torn down.
type Timer struct {
	ID      TimerID
	Kind    TimerKind
	Delay   time.Duration
	Conn    uint64
	Purpose ChatPurpose
}
