// Package chatproto classifies server chat and kick text against the grammar used by
// chat-command authentication plugins.
package chatproto

import (
	"fmt"
	"regexp"
	"strings"
)

// Outcome is what a chat line means for the authentication flow.
type Outcome int

const (
	// OutcomeNone means the line did not match any rule.
	OutcomeNone Outcome = iota
	// OutcomeAlreadyRegistered means the server says the account already exists.
	OutcomeAlreadyRegistered
	// OutcomeRegisterFailed means the register command was rejected.
	OutcomeRegisterFailed
	// OutcomeRegistered means the register command succeeded.
	OutcomeRegistered
	// OutcomeLoggedIn means the login command succeeded.
	OutcomeLoggedIn
	// OutcomeNameInUse means a kick was caused by a username collision.
	OutcomeNameInUse
)

var outcomeNames = map[Outcome]string{
	OutcomeNone:              "none",
	OutcomeAlreadyRegistered: "already_registered",
	OutcomeRegisterFailed:    "register_failed",
	OutcomeRegistered:        "registered",
	OutcomeLoggedIn:          "logged_in",
	OutcomeNameInUse:         "name_in_use",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ParseOutcome maps a configuration key such as "logged_in" to an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for o, name := range outcomeNames {
		if o != OutcomeNone && name == key {
			return o, nil
		}
	}
	return OutcomeNone, fmt.Errorf("unknown chat outcome %q", s)
}

// Rule binds an outcome to the patterns that signal it.
type Rule struct {
	Outcome  Outcome
	Patterns []*regexp.Regexp
}

// Register outcomes, in the order they are tried. Failure rules come first because
// "registered" is also a substring of "already registered".
var RegisterOutcomes = []Outcome{OutcomeAlreadyRegistered, OutcomeRegisterFailed, OutcomeRegistered}

// DefaultRules is the built-in grammar. Earlier rules win.
func DefaultRules() []Rule {
	return []Rule{
		{OutcomeAlreadyRegistered, compile(`already registered`, `registered before`, `already have an account`)},
		{OutcomeRegisterFailed, compile(`passwords do not match`, `error`, `failed`)},
		{OutcomeRegistered, compile(`successfully registered`, `you are registered`, `registered`, `registration`)},
		{OutcomeLoggedIn, compile(`successfully logged in`, `you are now logged in`, `logged in`, `login successful`, `welcome`)},
		{OutcomeNameInUse, compile(`name.*in use`, `username.*taken`, `duplicate name`)},
	}
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
