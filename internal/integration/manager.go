package integration

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/devicestate"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/config"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/logging"
)

// instance holds one user's running Bus plus the lock that serializes
// start/stop/restart for that user, per §5's "no two instances for the
// same user may run concurrently".
type instance struct {
	mu  sync.Mutex
	bus Bus
}

// Manager owns userId -> runningInstance and implements devicestate.Observer
// so the device state service can fan changes out to every matching user's
// bus, per §4.F's bus contract.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*instance

	repo     Repository
	resolver OwnershipResolver
	factory  BridgeFactory
	defaults config.MQTTConfig
	logger   *logging.Logger
}

func NewManager(repo Repository, resolver OwnershipResolver, factory BridgeFactory, defaults config.MQTTConfig, logger *logging.Logger) *Manager {
	return &Manager{
		instances: make(map[string]*instance),
		repo:      repo,
		resolver:  resolver,
		factory:   factory,
		defaults:  defaults,
		logger:    logger,
	}
}

func (m *Manager) getOrCreate(userID string) *instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[userID]
	if !ok {
		inst = &instance{}
		m.instances[userID] = inst
	}
	return inst
}

func (m *Manager) get(userID string) *instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[userID]
}

// StartUser loads userID's mqtt config (if any, and enabled) and starts its
// bus. It is a no-op if the user has no enabled integration, and idempotent
// if the user's bus is already running.
func (m *Manager) StartUser(ctx context.Context, userID string) error {
	inst := m.getOrCreate(userID)
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.bus != nil {
		return nil
	}

	stored, err := m.repo.LoadEnabled(ctx, userID, "mqtt")
	if err != nil {
		if err == ErrDisabled {
			return nil
		}
		return err
	}

	settings, err := decodeMQTTSettings(stored.ConfigJSON)
	if err != nil {
		return err
	}
	settings = resolveMQTTSettings(userID, settings, m.defaults)

	bus, err := m.factory(userID, settings)
	if err != nil {
		m.disable(ctx, userID, "mqtt", "construct bus", err)
		return err
	}
	if err := bus.Initialize(ctx); err != nil {
		m.disable(ctx, userID, "mqtt", "initialize bus", err)
		return err
	}

	inst.bus = bus
	return nil
}

func (m *Manager) disable(ctx context.Context, userID, typ, step string, cause error) {
	if m.logger != nil {
		m.logger.Error("integration startup failed, disabling",
			"user_id", userID, "type", typ, "step", step, "error", cause)
	}
	if err := m.repo.SetEnabled(ctx, userID, typ, false); err != nil && m.logger != nil {
		m.logger.Error("failed to persist integration disable", "user_id", userID, "error", err)
	}
}

// StopUser shuts down userID's running bus, if any. Idempotent.
func (m *Manager) StopUser(ctx context.Context, userID string) error {
	inst := m.get(userID)
	if inst == nil {
		return nil
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.bus == nil {
		return nil
	}
	err := inst.bus.Shutdown(ctx)
	inst.bus = nil
	return err
}

// RestartUser stops then starts a user's bus, per §9's "on config change,
// stop then start".
func (m *Manager) RestartUser(ctx context.Context, userID string) error {
	if err := m.StopUser(ctx, userID); err != nil && m.logger != nil {
		m.logger.Warn("error stopping integration during restart", "user_id", userID, "error", err)
	}
	return m.StartUser(ctx, userID)
}

// StartAllEnabled starts every user with an enabled mqtt integration. Used
// at process startup.
func (m *Manager) StartAllEnabled(ctx context.Context) {
	configs, err := m.repo.LoadAllEnabled(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("failed to load integration configs", "error", err)
		}
		return
	}
	for _, cfg := range configs {
		if err := m.StartUser(ctx, cfg.UserID); err != nil && m.logger != nil {
			m.logger.Error("failed to start integration", "user_id", cfg.UserID, "error", err)
		}
	}
}

// StopAll shuts down every running bus, for graceful process shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	userIDs := make([]string, 0, len(m.instances))
	for userID := range m.instances {
		userIDs = append(userIDs, userID)
	}
	m.mu.Unlock()

	for _, userID := range userIDs {
		if err := m.StopUser(ctx, userID); err != nil && m.logger != nil {
			m.logger.Warn("error stopping integration", "user_id", userID, "error", err)
		}
	}
}

// OnDeviceStateChange implements devicestate.Observer: it fans the change
// out concurrently to every user who owns or is shared change.Serial, since
// each user's bus does its own network I/O (MQTT publish) and one slow
// broker must not delay the others.
func (m *Manager) OnDeviceStateChange(ctx context.Context, change devicestate.Change) {
	users, err := m.resolver.UsersForSerial(ctx, change.Serial)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("failed to resolve users for serial", "serial", change.Serial, "error", err)
		}
		return
	}

	var group errgroup.Group
	for _, userID := range users {
		inst := m.get(userID)
		if inst == nil {
			continue
		}
		inst.mu.Lock()
		bus := inst.bus
		inst.mu.Unlock()
		if bus == nil {
			continue
		}

		userID, bus := userID, bus
		group.Go(func() error {
			m.dispatch(ctx, userID, bus, change)
			return nil
		})
	}
	group.Wait()
}

func (m *Manager) dispatch(ctx context.Context, userID string, bus Bus, change devicestate.Change) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Error("integration bus panicked on device state change",
				"user_id", userID, "serial", change.Serial, "panic", r)
		}
	}()
	bus.OnDeviceStateChange(ctx, change)
}

// NotifyAvailability forwards a watchdog availability transition to every
// matching user's bus, so the bridge can publish presence and reconcile.
func (m *Manager) NotifyAvailability(ctx context.Context, serial string, available bool) {
	users, err := m.resolver.UsersForSerial(ctx, serial)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("failed to resolve users for serial", "serial", serial, "error", err)
		}
		return
	}
	for _, userID := range users {
		inst := m.get(userID)
		if inst == nil {
			continue
		}
		inst.mu.Lock()
		bus := inst.bus
		inst.mu.Unlock()
		if bus == nil {
			continue
		}
		if available {
			bus.OnDeviceConnected(serial)
		} else {
			bus.OnDeviceDisconnected(serial)
		}
	}
}

// Stats summarizes manager state for the metrics endpoint.
type Stats struct {
	RunningUsers int
}

// Stats returns a snapshot of how many users currently have a running bus.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	userIDs := make([]string, 0, len(m.instances))
	for userID := range m.instances {
		userIDs = append(userIDs, userID)
	}
	m.mu.Unlock()

	running := 0
	for _, userID := range userIDs {
		inst := m.get(userID)
		if inst == nil {
			continue
		}
		inst.mu.Lock()
		if inst.bus != nil {
			running++
		}
		inst.mu.Unlock()
	}
	return Stats{RunningUsers: running}
}
