package chatproto

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Detector is a stateless matcher over an ordered rule table.
type Detector struct {
	rules []Rule
}

// New returns a detector for the default grammar.
func New() *Detector {
	return &Detector{rules: DefaultRules()}
}

// NewWithExtra returns the default grammar with extra patterns appended per outcome.
// Keys are outcome names (see ParseOutcome); values are regular expressions matched
// against lowercased text.
func NewWithExtra(extra map[string][]string) (*Detector, error) {
	d := New()
	for key, patterns := range extra {
		outcome, err := ParseOutcome(key)
		if err != nil {
			return nil, err
		}
		for _, p := range patterns {
			re, err := regexp.Compile(strings.ToLower(p))
			if err != nil {
				return nil, fmt.Errorf("compile %s pattern %q: %w", key, p, err)
			}
			d.add(outcome, re)
		}
	}
	return d, nil
}

func (d *Detector) add(outcome Outcome, re *regexp.Regexp) {
	for i := range d.rules {
		if d.rules[i].Outcome == outcome {
			d.rules[i].Patterns = append(d.rules[i].Patterns, re)
			return
		}
	}
	d.rules = append(d.rules, Rule{Outcome: outcome, Patterns: []*regexp.Regexp{re}})
}

// Classify returns the first outcome among want whose rule matches text.
// With no want it considers every rule.
func (d *Detector) Classify(text string, want ...Outcome) Outcome {
	norm := Normalize(text)
	if norm == "" {
		return OutcomeNone
	}
	for _, rule := range d.rules {
		if len(want) > 0 && !slices.Contains(want, rule.Outcome) {
			continue
		}
		for _, re := range rule.Patterns {
			if re.MatchString(norm) {
				return rule.Outcome
			}
		}
	}
	return OutcomeNone
}

// IsNameCollision reports whether a kick reason means the username is already in use.
func (d *Detector) IsNameCollision(reason string) bool {
	return d.Classify(reason, OutcomeNameInUse) == OutcomeNameInUse
}

var formatCodes = regexp.MustCompile(`§[0-9a-fk-or]`)

// Normalize lowercases text and strips legacy formatting codes.
func Normalize(text string) string {
	return strings.TrimSpace(formatCodes.ReplaceAllString(strings.ToLower(text), ""))
}
