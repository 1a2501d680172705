package devicestate

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
)

func setupTestStore(t *testing.T) *objectstore.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE states (
			serial TEXT NOT NULL,
			object_key TEXT NOT NULL,
			object_revision INTEGER NOT NULL DEFAULT 0,
			object_timestamp INTEGER NOT NULL DEFAULT 0,
			value_json TEXT NOT NULL DEFAULT 'null',
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			PRIMARY KEY (serial, object_key)
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create test schema: %v", err)
	}

	return objectstore.NewStore(objectstore.NewSQLiteRepository(db, nil))
}

type recordingObserver struct {
	mu    sync.Mutex
	name  string
	order *[]string
}

func (o *recordingObserver) OnDeviceStateChange(_ context.Context, _ Change) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*o.order = append(*o.order, o.name)
}

type panickingObserver struct{}

func (panickingObserver) OnDeviceStateChange(context.Context, Change) {
	panic("boom")
}

func TestService_Upsert_ObserversFireInOrder(t *testing.T) {
	store := setupTestStore(t)
	var order []string
	watchdog := &recordingObserver{name: "watchdog", order: &order}
	subs := &recordingObserver{name: "subscription", order: &order}
	integrations := &recordingObserver{name: "integrations", order: &order}

	svc := New(store, nil, watchdog, subs, integrations)

	_, err := svc.Upsert(context.Background(), "A", "device.A", 1, 1000, objectstore.ObjectValue(map[string]objectstore.Value{
		"temperature": objectstore.NumberValue(21),
	}))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	want := []string{"watchdog", "subscription", "integrations"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("order[%d] = %q, want %q", i, order[i], name)
		}
	}
}

func TestService_Upsert_ObserverPanicDoesNotPropagate(t *testing.T) {
	store := setupTestStore(t)
	svc := New(store, nil, panickingObserver{})

	obj, err := svc.Upsert(context.Background(), "A", "device.A", 1, 1000, objectstore.ObjectValue(map[string]objectstore.Value{
		"temperature": objectstore.NumberValue(21),
	}))
	if err != nil {
		t.Fatalf("Upsert() error = %v, want nil despite observer panic", err)
	}
	if obj == nil {
		t.Fatal("expected the write to still succeed")
	}
}

func TestService_GetAllForDevice(t *testing.T) {
	store := setupTestStore(t)
	svc := New(store, nil)
	ctx := context.Background()

	if _, err := svc.Upsert(ctx, "A", "device.A", 1, 1000, objectstore.ObjectValue(map[string]objectstore.Value{"x": objectstore.NumberValue(1)})); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	objects, err := svc.GetAllForDevice(ctx, "A")
	if err != nil {
		t.Fatalf("GetAllForDevice() error = %v", err)
	}
	if _, ok := objects["device.A"]; !ok {
		t.Error("missing device.A")
	}
}
