package subscription

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
)

// Delivery is the payload handed to a waiter on a matching notification.
type Delivery struct {
	ObjectKey string
	Object    objectstore.Object
}

// Waiter is a registered long-poll subscription. Await blocks until a
// matching notification arrives, ctx is cancelled, or the waiter is
// explicitly cancelled.
type Waiter struct {
	id     string
	serial string
	keys   map[string]struct{} // nil means any key matches

	deliverCh chan Delivery
	closeOnce sync.Once
	closed    chan struct{}

	manager *Manager
}

// Await blocks until delivery, cancellation, or ctx expiry, whichever comes
// first. The second return value is false on timeout or cancellation.
func (w *Waiter) Await(ctx context.Context) (Delivery, bool) {
	select {
	case d, ok := <-w.deliverCh:
		if !ok {
			return Delivery{}, false
		}
		return d, true
	case <-ctx.Done():
		w.manager.Cancel(w)
		return Delivery{}, false
	case <-w.closed:
		return Delivery{}, false
	}
}

// matches reports whether an update to objectKey should wake this waiter.
func (w *Waiter) matches(objectKey string) bool {
	if w.keys == nil {
		return true
	}
	_, ok := w.keys[objectKey]
	return ok
}

// Manager implements the §4.C contract: register/notify/getActiveSerials/cancel.
type Manager struct {
	mu       sync.Mutex
	waiters  map[string]*Waiter            // by waiter id
	bySerial map[string]map[string]*Waiter // serial -> waiter id -> waiter
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{
		waiters:  make(map[string]*Waiter),
		bySerial: make(map[string]map[string]*Waiter),
	}
}

// Register creates a waiter for serial. If keys is non-empty, only
// notifications for those object keys wake the waiter; otherwise any key
// matches. The waiter's lifetime is tied to the caller's context per §9
// "Long-poll cancellation" — callers derive ctx with their own timeout and
// call Await(ctx).
func (m *Manager) Register(serial string, keys []string) *Waiter {
	w := &Waiter{
		id:        uuid.NewString(),
		serial:    serial,
		deliverCh: make(chan Delivery, 1),
		closed:    make(chan struct{}),
		manager:   m,
	}
	if len(keys) > 0 {
		w.keys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			w.keys[k] = struct{}{}
		}
	}

	m.mu.Lock()
	m.waiters[w.id] = w
	if m.bySerial[serial] == nil {
		m.bySerial[serial] = make(map[string]*Waiter)
	}
	m.bySerial[serial][w.id] = w
	m.mu.Unlock()

	return w
}

// Notify delivers updatedObject to every waiter registered on serial whose
// key set matches objectKey. Each matching waiter receives the same
// payload exactly once and is then removed. Returns the number notified.
func (m *Manager) Notify(serial, objectKey string, updatedObject objectstore.Object) int {
	m.mu.Lock()
	candidates := m.bySerial[serial]
	var matched []*Waiter
	for _, w := range candidates {
		if w.matches(objectKey) {
			matched = append(matched, w)
		}
	}
	for _, w := range matched {
		m.removeLocked(w)
	}
	m.mu.Unlock()

	delivery := Delivery{ObjectKey: objectKey, Object: updatedObject}
	notified := 0
	for _, w := range matched {
		w.deliverCh <- delivery
		notified++
	}
	return notified
}

// GetActiveSerials returns the set of serials with at least one registered
// waiter. Implements availability.ActiveSerialsSource by method shape.
func (m *Manager) GetActiveSerials() map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := make(map[string]struct{}, len(m.bySerial))
	for serial, waiters := range m.bySerial {
		if len(waiters) > 0 {
			active[serial] = struct{}{}
		}
	}
	return active
}

// ActiveSerials is the method name availability.ActiveSerialsSource expects.
func (m *Manager) ActiveSerials() map[string]struct{} {
	return m.GetActiveSerials()
}

// Cancel removes w without delivery. Idempotent.
func (m *Manager) Cancel(w *Waiter) {
	w.closeOnce.Do(func() {
		m.mu.Lock()
		m.removeLocked(w)
		m.mu.Unlock()
		close(w.closed)
	})
}

// removeLocked deletes w from both indices. Caller holds m.mu.
func (m *Manager) removeLocked(w *Waiter) {
	delete(m.waiters, w.id)
	if bySerial := m.bySerial[w.serial]; bySerial != nil {
		delete(bySerial, w.id)
		if len(bySerial) == 0 {
			delete(m.bySerial, w.serial)
		}
	}
}

// Stats summarizes subscription manager state for the metrics endpoint.
type Stats struct {
	ActiveWaiters int
	ActiveSerials int
}

// Stats returns a snapshot of current subscription state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{ActiveWaiters: len(m.waiters), ActiveSerials: len(m.bySerial)}
}
