package availability

import (
	"context"
	"sync"
	"time"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/logging"
)

// ActiveSerialsSource reports serials with a currently registered long-poll
// waiter, so the sweep can treat an open subscription as evidence of
// liveness (§4.B "for every device with active long-poll subscription").
// Implemented by subscription.Manager; declared here to avoid a package
// cycle.
type ActiveSerialsSource interface {
	ActiveSerials() map[string]struct{}
}

// ChangeHandler is invoked whenever a device transitions between available
// and unavailable. Handler panics are recovered so a broken observer never
// takes down the sweep (§4.B "must not propagate exceptions").
type ChangeHandler func(serial string, available bool)

type deviceRecord struct {
	available bool
	lastSeen  time.Time
}

// Watchdog implements the §4.B state machine: UNKNOWN -> AVAILABLE on first
// mark, then AVAILABLE <-> UNAVAILABLE on timeout or re-mark. Devices
// unknown to the watchdog are reported unavailable.
type Watchdog struct {
	mu      sync.Mutex
	devices map[string]*deviceRecord

	timeout       time.Duration
	checkInterval time.Duration

	handler       ChangeHandler
	activeSerials ActiveSerialsSource

	repo   Repository
	logger *logging.Logger

	// Clock is overridable in tests; defaults to time.Now.
	Clock func() time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New constructs a Watchdog. Call LoadSnapshot before Start to restore
// state across a restart.
func New(repo Repository, timeout, checkInterval time.Duration, logger *logging.Logger) *Watchdog {
	return &Watchdog{
		devices:       make(map[string]*deviceRecord),
		timeout:       timeout,
		checkInterval: checkInterval,
		repo:          repo,
		logger:        logger,
		Clock:         time.Now,
	}
}

// SetAvailabilityChangeHandler registers the callback invoked on every
// UNKNOWN/AVAILABLE/UNAVAILABLE transition.
func (w *Watchdog) SetAvailabilityChangeHandler(cb ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = cb
}

// SetActiveSerialsSource wires the subscription manager's active-waiter set
// into the sweep.
func (w *Watchdog) SetActiveSerialsSource(src ActiveSerialsSource) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activeSerials = src
}

// LoadSnapshot restores the last-known state from the backing store so a
// restart does not immediately report every device unavailable.
func (w *Watchdog) LoadSnapshot(ctx context.Context) error {
	snapshots, err := w.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for serial, snap := range snapshots {
		w.devices[serial] = &deviceRecord{available: snap.Available, lastSeen: snap.LastSeen}
	}
	return nil
}

// MarkSeen records device activity per §4.B: an unknown device becomes
// available and fires; a known-but-unavailable device becomes available and
// fires; lastSeen is always refreshed.
func (w *Watchdog) MarkSeen(serial string) {
	now := w.Clock()

	w.mu.Lock()
	record, known := w.devices[serial]
	if !known {
		record = &deviceRecord{available: true, lastSeen: now}
		w.devices[serial] = record
		w.mu.Unlock()
		w.persist(serial, record)
		w.fire(serial, true)
		return
	}

	wasUnavailable := !record.available
	record.available = true
	record.lastSeen = now
	w.mu.Unlock()

	w.persist(serial, record)
	if wasUnavailable {
		w.fire(serial, true)
	}
}

// GetAvailability reports whether serial is currently available. A device
// the watchdog has never seen is reported unavailable.
func (w *Watchdog) GetAvailability(serial string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	record, known := w.devices[serial]
	if !known {
		return false
	}
	return record.available
}

// ForceUnavailable immediately marks serial unavailable, e.g. on explicit
// device disconnect notification.
func (w *Watchdog) ForceUnavailable(serial string) {
	w.mu.Lock()
	record, known := w.devices[serial]
	if !known {
		record = &deviceRecord{available: false, lastSeen: w.Clock()}
		w.devices[serial] = record
		w.mu.Unlock()
		w.persist(serial, record)
		return
	}
	wasAvailable := record.available
	record.available = false
	w.mu.Unlock()

	w.persist(serial, record)
	if wasAvailable {
		w.fire(serial, false)
	}
}

// Start runs the periodic sweep until Stop is called or ctx is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.sweepLoop(ctx)
}

// Stop halts the sweep goroutine and waits for it to exit.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
}

func (w *Watchdog) sweepLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep implements §4.B: active-subscription serials are refreshed first,
// then every known-available device whose lastSeen exceeds timeout is
// marked unavailable.
func (w *Watchdog) sweep() {
	now := w.Clock()

	w.mu.Lock()
	var activeSerials map[string]struct{}
	if w.activeSerials != nil {
		activeSerials = w.activeSerials.ActiveSerials()
	}
	w.mu.Unlock()

	for serial := range activeSerials {
		w.MarkSeen(serial)
	}

	w.mu.Lock()
	var toExpire []string
	for serial, record := range w.devices {
		if record.available && now.Sub(record.lastSeen) > w.timeout {
			toExpire = append(toExpire, serial)
		}
	}
	w.mu.Unlock()

	for _, serial := range toExpire {
		w.mu.Lock()
		record, known := w.devices[serial]
		if !known || !record.available {
			w.mu.Unlock()
			continue
		}
		record.available = false
		w.mu.Unlock()

		w.persist(serial, record)
		w.fire(serial, false)
	}
}

func (w *Watchdog) persist(serial string, record *deviceRecord) {
	if w.repo == nil {
		return
	}
	if err := w.repo.Save(context.Background(), serial, record.available, record.lastSeen); err != nil && w.logger != nil {
		w.logger.Warn("failed to persist availability snapshot", "serial", serial, "error", err)
	}
}

func (w *Watchdog) fire(serial string, available bool) {
	w.mu.Lock()
	handler := w.handler
	w.mu.Unlock()
	if handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && w.logger != nil {
			w.logger.Error("availability change handler panicked", "serial", serial, "panic", r)
		}
	}()
	handler(serial, available)
}

// Stats summarizes watchdog state for the metrics endpoint.
type Stats struct {
	Known       int
	Available   int
	Unavailable int
}

// Stats returns a snapshot of current watchdog state.
func (w *Watchdog) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	stats := Stats{Known: len(w.devices)}
	for _, record := range w.devices {
		if record.available {
			stats.Available++
		} else {
			stats.Unavailable++
		}
	}
	return stats
}
