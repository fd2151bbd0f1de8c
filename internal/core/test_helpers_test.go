package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/afkbot/internal/idle"
)

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeConn struct {
	username string
	events   chan Event

	mu       sync.Mutex
	chats    []string
	controls []string
	closed   bool
}

func newFakeConn(username string) *fakeConn {
	return &fakeConn{username: username, events: make(chan Event, 16)}
}

func (c *fakeConn) Events() <-chan Event { return c.events }

func (c *fakeConn) SendChat(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	c.chats = append(c.chats, text)
	return nil
}

func (c *fakeConn) SetControlState(action idle.Action, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, fmt.Sprintf("%s=%v", action, on))
	return nil
}

func (c *fakeConn) Look(yaw, pitch float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, "look")
	return nil
}

func (c *fakeConn) ActivateItem() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, "activate")
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sentChats() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.chats...)
}

func (c *fakeConn) sentControls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.controls...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeTransport hands out a fresh fakeConn per dial, failing the first failFirst dials.
type fakeTransport struct {
	failFirst int

	mu    sync.Mutex
	dials []DialOptions
	conns []*fakeConn
}

func (tr *fakeTransport) Dial(_ context.Context, opts DialOptions) (Conn, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.dials = append(tr.dials, opts)
	if len(tr.dials) <= tr.failFirst {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn(opts.Username)
	tr.conns = append(tr.conns, conn)
	return conn, nil
}

func (tr *fakeTransport) dialCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.dials)
}

func (tr *fakeTransport) conn(i int) *fakeConn {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if i >= len(tr.conns) {
		return nil
	}
	return tr.conns[i]
}

func (tr *fakeTransport) username(i int) string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.dials[i].Username
}
