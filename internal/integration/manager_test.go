package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/devicestate"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/config"
)

type fakeBus struct {
	mu           sync.Mutex
	initialized  bool
	shutdown     bool
	initErr      error
	changes      []devicestate.Change
	connected    []string
	disconnected []string
}

func (b *fakeBus) Initialize(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initErr != nil {
		return b.initErr
	}
	b.initialized = true
	return nil
}

func (b *fakeBus) Shutdown(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shutdown = true
	return nil
}

func (b *fakeBus) OnDeviceStateChange(_ context.Context, change devicestate.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, change)
}

func (b *fakeBus) OnDeviceConnected(serial string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = append(b.connected, serial)
}

func (b *fakeBus) OnDeviceDisconnected(serial string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = append(b.disconnected, serial)
}

func (b *fakeBus) snapshotChanges() []devicestate.Change {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]devicestate.Change(nil), b.changes...)
}

type fakeRepository struct {
	mu      sync.Mutex
	configs map[string]StoredConfig // key: userID+"/"+type
	setErr  error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{configs: make(map[string]StoredConfig)}
}

func (r *fakeRepository) key(userID, typ string) string { return userID + "/" + typ }

func (r *fakeRepository) enable(userID, typ, configJSON string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[r.key(userID, typ)] = StoredConfig{UserID: userID, Type: typ, ConfigJSON: configJSON, Enabled: true}
}

func (r *fakeRepository) LoadEnabled(_ context.Context, userID, typ string) (StoredConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[r.key(userID, typ)]
	if !ok || !cfg.Enabled {
		return StoredConfig{}, ErrDisabled
	}
	return cfg, nil
}

func (r *fakeRepository) LoadAllEnabled(context.Context) ([]StoredConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StoredConfig
	for _, cfg := range r.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (r *fakeRepository) SetEnabled(_ context.Context, userID, typ string, enabled bool) error {
	if r.setErr != nil {
		return r.setErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.configs[r.key(userID, typ)]
	cfg.UserID, cfg.Type, cfg.Enabled = userID, typ, enabled
	r.configs[r.key(userID, typ)] = cfg
	return nil
}

func TestManager_StartUser_NoConfigIsNoop(t *testing.T) {
	repo := newFakeRepository()
	resolver := fixedResolver{}
	m := NewManager(repo, resolver, nil, config.MQTTConfig{}, nil)

	if err := m.StartUser(context.Background(), "U"); err != nil {
		t.Fatalf("StartUser() error = %v, want nil for a user with no config", err)
	}
}

func TestManager_StartStopRestart(t *testing.T) {
	repo := newFakeRepository()
	repo.enable("U", "mqtt", "{}")
	resolver := fixedResolver{}

	var built []*fakeBus
	factory := func(userID string, settings MQTTSettings) (Bus, error) {
		b := &fakeBus{}
		built = append(built, b)
		return b, nil
	}

	m := NewManager(repo, resolver, factory, config.MQTTConfig{}, nil)
	ctx := context.Background()

	if err := m.StartUser(ctx, "U"); err != nil {
		t.Fatalf("StartUser() error = %v", err)
	}
	if len(built) != 1 || !built[0].initialized {
		t.Fatalf("expected one initialized bus, got %d", len(built))
	}

	// Starting again while already running must not construct a second bus.
	if err := m.StartUser(ctx, "U"); err != nil {
		t.Fatalf("second StartUser() error = %v", err)
	}
	if len(built) != 1 {
		t.Errorf("expected StartUser to be idempotent, built %d buses", len(built))
	}

	if err := m.StopUser(ctx, "U"); err != nil {
		t.Fatalf("StopUser() error = %v", err)
	}
	if !built[0].shutdown {
		t.Error("expected bus to be shut down")
	}

	if err := m.RestartUser(ctx, "U"); err != nil {
		t.Fatalf("RestartUser() error = %v", err)
	}
	if len(built) != 2 {
		t.Fatalf("expected RestartUser to construct a fresh bus, got %d", len(built))
	}
}

func TestManager_StartUser_DisablesOnInitializeFailure(t *testing.T) {
	repo := newFakeRepository()
	repo.enable("U", "mqtt", "{}")
	resolver := fixedResolver{}

	factory := func(userID string, settings MQTTSettings) (Bus, error) {
		return &fakeBus{initErr: errTestInit}, nil
	}

	m := NewManager(repo, resolver, factory, config.MQTTConfig{}, nil)
	if err := m.StartUser(context.Background(), "U"); err == nil {
		t.Fatal("expected StartUser to propagate the initialize error")
	}

	cfg, err := repo.LoadEnabled(context.Background(), "U", "mqtt")
	if err != ErrDisabled {
		t.Errorf("LoadEnabled() = %+v, %v; want ErrDisabled after a failed start", cfg, err)
	}
}

func TestManager_StartAllEnabled_StopAll(t *testing.T) {
	repo := newFakeRepository()
	repo.enable("U1", "mqtt", "{}")
	repo.enable("U2", "mqtt", "{}")
	resolver := fixedResolver{}

	var built []*fakeBus
	var mu sync.Mutex
	factory := func(userID string, settings MQTTSettings) (Bus, error) {
		b := &fakeBus{}
		mu.Lock()
		built = append(built, b)
		mu.Unlock()
		return b, nil
	}

	m := NewManager(repo, resolver, factory, config.MQTTConfig{}, nil)
	ctx := context.Background()

	m.StartAllEnabled(ctx)
	if len(built) != 2 {
		t.Fatalf("expected two buses started, got %d", len(built))
	}

	m.StopAll(ctx)
	for _, b := range built {
		if !b.shutdown {
			t.Error("expected every bus to be shut down by StopAll")
		}
	}
}

func TestManager_OnDeviceStateChange_FansOutToOwningUsers(t *testing.T) {
	repo := newFakeRepository()
	repo.enable("U1", "mqtt", "{}")
	repo.enable("U2", "mqtt", "{}")
	resolver := fixedResolver{serialsForUser: map[string][]string{"U1": {"C"}, "U2": {"C"}}}
	resolver.usersForSerial = map[string][]string{"C": {"U1", "U2"}}

	buses := map[string]*fakeBus{}
	var mu sync.Mutex
	factory := func(userID string, settings MQTTSettings) (Bus, error) {
		b := &fakeBus{}
		mu.Lock()
		buses[userID] = b
		mu.Unlock()
		return b, nil
	}

	m := NewManager(repo, resolver, factory, config.MQTTConfig{}, nil)
	ctx := context.Background()
	m.StartAllEnabled(ctx)

	change := devicestate.Change{Serial: "C", ObjectKey: "shared.C"}
	m.OnDeviceStateChange(ctx, change)

	for userID, b := range buses {
		if len(b.snapshotChanges()) != 1 {
			t.Errorf("user %s: expected one change delivered, got %d", userID, len(b.snapshotChanges()))
		}
	}
}

func TestManager_NotifyAvailability(t *testing.T) {
	repo := newFakeRepository()
	repo.enable("U", "mqtt", "{}")
	resolver := fixedResolver{usersForSerial: map[string][]string{"C": {"U"}}}

	var bus *fakeBus
	factory := func(userID string, settings MQTTSettings) (Bus, error) {
		bus = &fakeBus{}
		return bus, nil
	}

	m := NewManager(repo, resolver, factory, config.MQTTConfig{}, nil)
	ctx := context.Background()
	m.StartAllEnabled(ctx)

	m.NotifyAvailability(ctx, "C", true)
	m.NotifyAvailability(ctx, "C", false)

	if len(bus.connected) != 1 || len(bus.disconnected) != 1 {
		t.Errorf("connected=%v disconnected=%v, want one of each", bus.connected, bus.disconnected)
	}
}

var errTestInit = errors.New("integration: fake initialize failure")
