package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cmmodulados/verabot/internal/models"
)

// DefaultDebounceWindow is the quiescence period used to coalesce a burst
// of webhook deliveries into one processed turn.
const DefaultDebounceWindow = 3 * time.Second

// pendingTurn tracks the not-yet-fired input for one contact.
type pendingTurn struct {
	turn        models.Turn
	timer       *time.Timer
	scheduledAt time.Time
}

// Debouncer coalesces rapid webhook deliveries per contact: each Schedule
// call replaces the contact's pending turn and re-arms the countdown, so
// only the last turn of a quiescent burst fires. State is owned by the
// instance and lives for the process; tests create fresh instances.
type Debouncer struct {
	window  time.Duration
	pending map[int64]*pendingTurn
	mu      sync.Mutex
}

// DebouncerOption configures a Debouncer.
type DebouncerOption func(*Debouncer)

// WithWindow overrides the quiescence window.
func WithWindow(window time.Duration) DebouncerOption {
	return func(d *Debouncer) {
		if window > 0 {
			d.window = window
		}
	}
}

// NewDebouncer creates a Debouncer with the default 3 second window.
func NewDebouncer(opts ...DebouncerOption) *Debouncer {
	d := &Debouncer{
		window:  DefaultDebounceWindow,
		pending: make(map[int64]*pendingTurn),
	}
	for _, opt := range opts {
		opt(d)
	}
	slog.Debug("Debouncer created", "window", d.window)
	return d
}

// Schedule registers turn as the pending input for its contact, replacing
// any not-yet-fired pending input, and (re)arms the countdown. When the
// window elapses unsuperseded, onFire runs exactly once with the last
// registered turn. The pending entry is cleared before onFire runs, so a
// failing callback is the caller's concern, not the Debouncer's.
func (d *Debouncer) Schedule(contactID int64, turn models.Turn, onFire func(models.Turn)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.pending[contactID]; ok {
		existing.timer.Stop()
		slog.Debug("Debouncer superseding pending turn", "contactID", contactID)
	}

	entry := &pendingTurn{turn: turn, scheduledAt: time.Now()}
	entry.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		current, ok := d.pending[contactID]
		if !ok || current != entry {
			// A newer schedule or a cancel won the race with this timer.
			d.mu.Unlock()
			return
		}
		delete(d.pending, contactID)
		d.mu.Unlock()

		slog.Debug("Debouncer firing turn", "contactID", contactID, "waited", time.Since(entry.scheduledAt))
		onFire(entry.turn)
	})
	d.pending[contactID] = entry

	slog.Debug("Debouncer turn scheduled", "contactID", contactID, "window", d.window)
}

// Cancel clears the contact's pending turn without firing it.
func (d *Debouncer) Cancel(contactID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.pending[contactID]; ok {
		entry.timer.Stop()
		delete(d.pending, contactID)
		slog.Debug("Debouncer cancelled pending turn", "contactID", contactID)
	}
}

// HasPending reports whether the contact has a not-yet-fired turn.
func (d *Debouncer) HasPending(contactID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[contactID]
	return ok
}

// Stop cancels all pending turns; used on shutdown.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	slog.Debug("Debouncer stopping", "pending", len(d.pending))
	for contactID, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, contactID)
	}
}
