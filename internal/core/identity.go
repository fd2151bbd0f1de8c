package core

import "strings"

// Identity is the primary username plus a FIFO of alternates tried on name collisions.
// Alternates are consumed once and never return.
type Identity struct {
	primary    string
	current    string
	alternates []string
}

// NewIdentity drops blank alternates, duplicates and the primary itself.
func NewIdentity(primary string, alternates []string) *Identity {
	primary = strings.TrimSpace(primary)
	seen := map[string]struct{}{primary: {}}
	queue := make([]string, 0, len(alternates))
	for _, name := range alternates {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		queue = append(queue, name)
	}
	return &Identity{primary: primary, current: primary, alternates: queue}
}

// Current is the name the next connection uses.
func (i *Identity) Current() string { return i.current }

// Primary is the configured name.
func (i *Identity) Primary() string { return i.primary }

// Remaining returns a copy of the untried alternates.
func (i *Identity) Remaining() []string {
	return append([]string(nil), i.alternates...)
}

// Advance pops the next alternate and makes it current. ok is false when none are left,
// in which case the current name is unchanged.
func (i *Identity) Advance() (name string, ok bool) {
	if len(i.alternates) == 0 {
		return "", false
	}
	name, i.alternates = i.alternates[0], i.alternates[1:]
	i.current = name
	return name, true
}
