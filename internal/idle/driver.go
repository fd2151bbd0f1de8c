// Package idle drives the randomized movement that keeps a spawned session from being
// kicked for inactivity.
package idle

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Action is a directional control the bot can hold down.
type Action string

const (
	Forward Action = "forward"
	Back    Action = "back"
	Left    Action = "left"
	Right   Action = "right"
)

// Actions lists every control the driver may press.
var Actions = []Action{Forward, Back, Left, Right}

// TicksPerSecond is the world clock rate.
const TicksPerSecond = 20

// Controls is the subset of a connection the driver needs.
type Controls interface {
	SetControlState(action Action, on bool) error
	Look(yaw, pitch float64) error
	ActivateItem() error
}

// Driver alternates between holding a random action and releasing it.
// It is reset, never resumed, when a connection ends.
type Driver struct {
	interval  time.Duration
	maxRandom time.Duration
	rng       *rand.Rand

	lastTick int64
	dwell    int64
	moving   bool
	action   Action
}

// New builds a driver. Dwell between phases is interval plus up to maxRandom.
func New(interval, maxRandom time.Duration, rng *rand.Rand) *Driver {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Driver{
		interval:  interval,
		maxRandom: maxRandom,
		rng:       rng,
		lastTick:  -1,
	}
}

// Moving reports whether an action is currently held, and which one.
func (d *Driver) Moving() (Action, bool) {
	return d.action, d.moving
}

// Tick advances the driver to world age (in ticks).
func (d *Driver) Tick(age int64, c Controls) error {
	if d.lastTick < 0 || age < d.lastTick {
		d.lastTick = age
		d.dwell = d.drawDwell()
		return nil
	}
	if age-d.lastTick <= d.dwell {
		return nil
	}

	d.lastTick = age
	d.dwell = d.drawDwell()

	if d.moving {
		d.moving = false
		if err := c.SetControlState(d.action, false); err != nil {
			return fmt.Errorf("release %s: %w", d.action, err)
		}
		return nil
	}

	yaw := d.rng.Float64()*math.Pi - 0.5*math.Pi
	pitch := d.rng.Float64()*math.Pi - 0.5*math.Pi
	d.action = Actions[d.rng.IntN(len(Actions))]
	d.moving = true

	var errs []error
	if err := c.Look(yaw, pitch); err != nil {
		errs = append(errs, fmt.Errorf("look: %w", err))
	}
	if err := c.SetControlState(d.action, true); err != nil {
		errs = append(errs, fmt.Errorf("press %s: %w", d.action, err))
	}
	if err := c.ActivateItem(); err != nil {
		errs = append(errs, fmt.Errorf("activate item: %w", err))
	}
	return errors.Join(errs...)
}

// Reset releases every action regardless of phase and forgets all timing state.
// c may be nil when the connection never came up.
func (d *Driver) Reset(c Controls) error {
	d.lastTick = -1
	d.dwell = 0
	d.moving = false
	d.action = ""

	if c == nil {
		return nil
	}
	var errs []error
	for _, a := range Actions {
		if err := c.SetControlState(a, false); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", a, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Driver) drawDwell() int64 {
	ticks := d.interval.Seconds() * TicksPerSecond
	if d.maxRandom > 0 {
		ticks += d.rng.Float64() * d.maxRandom.Seconds() * TicksPerSecond
	}
	return int64(ticks)
}
