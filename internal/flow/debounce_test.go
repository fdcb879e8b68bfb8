package flow

import (
	"sync"
	"testing"
	"time"

	"github.com/cmmodulados/verabot/internal/models"
)

// fireCollector records debouncer callbacks for assertions.
type fireCollector struct {
	mu    sync.Mutex
	turns []models.Turn
}

func (c *fireCollector) onFire(t models.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
}

func (c *fireCollector) fired() []models.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	d := NewDebouncer(WithWindow(30 * time.Millisecond))
	defer d.Stop()
	var c fireCollector

	d.Schedule(1, models.Turn{ContactID: 1, Body: "first"}, c.onFire)
	d.Schedule(1, models.Turn{ContactID: 1, Body: "second"}, c.onFire)
	d.Schedule(1, models.Turn{ContactID: 1, Body: "third"}, c.onFire)

	time.Sleep(100 * time.Millisecond)

	fired := c.fired()
	if len(fired) != 1 {
		t.Fatalf("expected exactly one fire, got %d", len(fired))
	}
	if fired[0].Body != "third" {
		t.Errorf("expected last turn of the burst to fire, got %q", fired[0].Body)
	}
	if d.HasPending(1) {
		t.Error("expected no pending turn after fire")
	}
}

func TestDebouncerIsolatesContacts(t *testing.T) {
	d := NewDebouncer(WithWindow(30 * time.Millisecond))
	defer d.Stop()
	var c fireCollector

	d.Schedule(1, models.Turn{ContactID: 1, Body: "from one"}, c.onFire)
	d.Schedule(2, models.Turn{ContactID: 2, Body: "from two"}, c.onFire)

	time.Sleep(100 * time.Millisecond)

	fired := c.fired()
	if len(fired) != 2 {
		t.Fatalf("expected both contacts to fire, got %d", len(fired))
	}
	seen := map[int64]string{}
	for _, turn := range fired {
		seen[turn.ContactID] = turn.Body
	}
	if seen[1] != "from one" || seen[2] != "from two" {
		t.Errorf("unexpected fired turns: %v", seen)
	}
}

func TestDebouncerReschedulePushesWindow(t *testing.T) {
	d := NewDebouncer(WithWindow(50 * time.Millisecond))
	defer d.Stop()
	var c fireCollector

	d.Schedule(1, models.Turn{ContactID: 1, Body: "a"}, c.onFire)
	time.Sleep(30 * time.Millisecond)
	d.Schedule(1, models.Turn{ContactID: 1, Body: "b"}, c.onFire)
	time.Sleep(30 * time.Millisecond)

	// 60ms after the first schedule the window has been pushed, so
	// nothing fired yet.
	if got := len(c.fired()); got != 0 {
		t.Fatalf("expected no fire before the pushed window elapses, got %d", got)
	}

	time.Sleep(50 * time.Millisecond)
	fired := c.fired()
	if len(fired) != 1 || fired[0].Body != "b" {
		t.Fatalf("expected one fire with the superseding turn, got %v", fired)
	}
}

func TestDebouncerCancel(t *testing.T) {
	d := NewDebouncer(WithWindow(30 * time.Millisecond))
	defer d.Stop()
	var c fireCollector

	d.Schedule(1, models.Turn{ContactID: 1, Body: "doomed"}, c.onFire)
	if !d.HasPending(1) {
		t.Fatal("expected a pending turn after Schedule")
	}
	d.Cancel(1)
	if d.HasPending(1) {
		t.Fatal("expected no pending turn after Cancel")
	}

	time.Sleep(80 * time.Millisecond)
	if got := len(c.fired()); got != 0 {
		t.Errorf("expected cancelled turn not to fire, got %d fires", got)
	}
}

func TestDebouncerStopCancelsAll(t *testing.T) {
	d := NewDebouncer(WithWindow(30 * time.Millisecond))
	var c fireCollector

	d.Schedule(1, models.Turn{ContactID: 1}, c.onFire)
	d.Schedule(2, models.Turn{ContactID: 2}, c.onFire)
	d.Stop()

	time.Sleep(80 * time.Millisecond)
	if got := len(c.fired()); got != 0 {
		t.Errorf("expected no fires after Stop, got %d", got)
	}
}
