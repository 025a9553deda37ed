package audit_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xela07ax/mission-control/internal/audit"
)

var errBackendDown = errors.New("backend down")

// fakeBackend хранит записи в памяти и умеет притворяться сломанным.
type fakeBackend struct {
	mu        sync.Mutex
	entries   []audit.Entry
	batches   int
	deletes   []time.Time
	truncated int
	failWrite bool
	block     chan struct{} // Если не nil, WriteBatch ждёт закрытия
	preload   []audit.Entry
}

func (b *fakeBackend) Load(context.Context) ([]audit.Entry, error) {
	return append([]audit.Entry(nil), b.preload...), nil
}

func (b *fakeBackend) WriteBatch(_ context.Context, entries []audit.Entry) error {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrite {
		return errBackendDown
	}
	b.batches++
	b.entries = append(b.entries, entries...)
	return nil
}

func (b *fakeBackend) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, cutoff)
	kept := b.entries[:0]
	removed := 0
	for _, e := range b.entries {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	b.entries = kept
	return removed, nil
}

func (b *fakeBackend) Truncate(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.truncated++
	b.entries = nil
	return nil
}

func (b *fakeBackend) snapshot() []audit.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]audit.Entry(nil), b.entries...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureBroadcaster struct {
	mu      sync.Mutex
	entries []audit.Entry
	onEntry func(audit.Entry)
}

func (c *captureBroadcaster) BroadcastEntry(e audit.Entry) {
	if c.onEntry != nil {
		c.onEntry(e)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *captureBroadcaster) received() []audit.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Entry(nil), c.entries...)
}

func input(userID string, action audit.Action, result audit.Result) audit.Input {
	in := audit.Input{Action: action, Resource: "auth", Result: result}
	in.UserID, in.Username = audit.Actor(userID, userID+"-name")
	return in
}
