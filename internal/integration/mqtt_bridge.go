package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/devicestate"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/config"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/logging"
	mqttinfra "github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/mqtt"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
)

// publisher is the subset of mqttinfra.Client the bridge depends on,
// mirroring internal/bridges/knx/bridge.go's MQTTClient interface so tests
// can substitute a fake broker.
type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqttinfra.MessageHandler) error
	IsConnected() bool
	Close() error
}

// connectFunc constructs a connected publisher for one bridge instance.
type connectFunc func(cfg config.MQTTConfig, statusTopic string) (publisher, error)

func defaultConnect(cfg config.MQTTConfig, statusTopic string) (publisher, error) {
	return mqttinfra.Connect(cfg, statusTopic)
}

// MQTTBridge is the §4.F integration: one broker connection per user,
// publishing raw and derived thermostat state and Home Assistant discovery,
// and translating inbound commands back into device state writes.
type MQTTBridge struct {
	userID   string
	settings MQTTSettings
	topics   mqttinfra.Topics

	store    stateStore
	resolver OwnershipResolver
	clock    func() time.Time

	connect connectFunc
	client  publisher

	reconcileInterval time.Duration

	mu        sync.Mutex
	deviceSet map[string]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	logger *logging.Logger
}

// NewMQTTBridgeFactory returns a BridgeFactory that constructs MQTTBridge
// instances sharing the given store, resolver and reconciliation interval.
func NewMQTTBridgeFactory(store stateStore, resolver OwnershipResolver, reconcileInterval time.Duration, logger *logging.Logger) BridgeFactory {
	return func(userID string, settings MQTTSettings) (Bus, error) {
		return newMQTTBridge(userID, settings, store, resolver, reconcileInterval, logger, defaultConnect, time.Now), nil
	}
}

func newMQTTBridge(userID string, settings MQTTSettings, store stateStore, resolver OwnershipResolver, reconcileInterval time.Duration, logger *logging.Logger, connect connectFunc, clock func() time.Time) *MQTTBridge {
	return &MQTTBridge{
		userID:            userID,
		settings:          settings,
		topics:            mqttinfra.Topics{Prefix: settings.TopicPrefix, DiscoveryPrefix: settings.DiscoveryPrefix},
		store:             store,
		resolver:          resolver,
		clock:             clock,
		connect:           connect,
		reconcileInterval: reconcileInterval,
		deviceSet:         make(map[string]struct{}),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
		logger:            logger,
	}
}

// Initialize implements Bus: responsibility 1 (connect + LWT), the initial
// device-set reconciliation, and command subscriptions.
func (b *MQTTBridge) Initialize(ctx context.Context) error {
	cfg := config.MQTTConfig{
		Broker:    b.settings.Broker,
		Auth:      b.settings.Auth,
		QoS:       b.settings.QoS,
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
	}

	client, err := b.connect(cfg, b.topics.Status())
	if err != nil {
		return fmt.Errorf("integration: mqtt connect for user %s: %w", b.userID, err)
	}
	b.client = client

	if err := client.Subscribe(b.topics.RawCommandFilter(), 0, b.handleRawCommand); err != nil {
		return fmt.Errorf("integration: subscribe raw commands: %w", err)
	}
	if err := client.Subscribe(b.topics.DerivedCommandFilter(), 0, b.handleDerivedCommand); err != nil {
		return fmt.Errorf("integration: subscribe derived commands: %w", err)
	}

	b.reconcile(ctx)

	go b.reconcileLoop(ctx)

	return nil
}

// Shutdown implements Bus. Client.Close() publishes the graceful offline
// status itself (see mqttinfra.Client.Close), so Shutdown only needs to
// stop the reconciliation loop.
func (b *MQTTBridge) Shutdown(ctx context.Context) error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *MQTTBridge) reconcileLoop(ctx context.Context) {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.reconcile(ctx)
		}
	}
}

// reconcile implements responsibility 2: diff the user's current
// owned+shared serials against the last known set, publishing discovery
// and initial state for additions, and tombstones for removals.
func (b *MQTTBridge) reconcile(ctx context.Context) {
	current, err := b.resolver.SerialsForUser(ctx, b.userID)
	if err != nil {
		if b.logger != nil {
			b.logger.Error("integration: reconcile failed to load device set", "user_id", b.userID, "error", err)
		}
		return
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, serial := range current {
		currentSet[serial] = struct{}{}
	}

	b.mu.Lock()
	previous := b.deviceSet
	b.deviceSet = currentSet
	b.mu.Unlock()

	for serial := range currentSet {
		if _, ok := previous[serial]; !ok {
			b.onDeviceAdded(ctx, serial)
		}
	}
	for serial := range previous {
		if _, ok := currentSet[serial]; !ok {
			b.onDeviceRemoved(serial)
		}
	}
}

func (b *MQTTBridge) onDeviceAdded(ctx context.Context, serial string) {
	if b.discoveryEnabled() {
		b.publishDiscovery(serial)
	}
	b.publishAllDerived(ctx, serial)
	b.OnDeviceConnected(serial)
}

func (b *MQTTBridge) onDeviceRemoved(serial string) {
	if b.discoveryEnabled() {
		b.client.Publish(b.topics.DiscoveryConfig(serial), nil, 1, true)
		for _, sensor := range auxiliarySensors {
			b.client.Publish(b.topics.DiscoverySensorConfig(serial, sensor.Field), nil, 1, true)
		}
	}
	b.OnDeviceDisconnected(serial)
}

func (b *MQTTBridge) discoveryEnabled() bool {
	return b.settings.HomeAssistantDiscovery != nil && *b.settings.HomeAssistantDiscovery
}

func (b *MQTTBridge) rawEnabled() bool {
	return b.settings.PublishRaw != nil && *b.settings.PublishRaw
}

// publishDiscovery implements responsibility 4.
func (b *MQTTBridge) publishDiscovery(serial string) {
	b.client.Publish(b.topics.DiscoveryConfig(serial), buildClimatePayload(b.topics, serial), 1, true)
	for _, sensor := range auxiliarySensors {
		b.client.Publish(b.topics.DiscoverySensorConfig(serial, sensor.Field), buildSensorPayload(b.topics, serial, sensor.Field, sensor.Unit, sensor.DeviceClass), 1, true)
	}
}

// OnDeviceConnected implements responsibility 6 (online half).
func (b *MQTTBridge) OnDeviceConnected(serial string) {
	if b.client == nil {
		return
	}
	b.client.Publish(b.topics.Availability(serial), []byte("online"), 1, true)
}

// OnDeviceDisconnected implements responsibility 6 (offline half).
func (b *MQTTBridge) OnDeviceDisconnected(serial string) {
	if b.client == nil {
		return
	}
	b.client.Publish(b.topics.Availability(serial), []byte("offline"), 1, true)
}

// OnDeviceStateChange implements responsibilities 3 and 5: publish the raw
// mutation, then recompute and publish the full derived state.
func (b *MQTTBridge) OnDeviceStateChange(ctx context.Context, change devicestate.Change) {
	if !b.owns(change.Serial) {
		return
	}

	if b.rawEnabled() {
		b.publishRaw(change)
	}
	b.publishAllDerived(ctx, change.Serial)

	if b.discoveryEnabled() && strings.HasPrefix(change.ObjectKey, "shared.") {
		if _, changed := change.Value.Field("target_temperature_type"); changed {
			b.publishDiscovery(change.Serial)
		}
	}
}

func (b *MQTTBridge) owns(serial string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.deviceSet[serial]
	return ok
}

func (b *MQTTBridge) publishRaw(change devicestate.Change) {
	objectType, _, ok := splitObjectKey(change.ObjectKey)
	if !ok {
		return
	}

	full, err := json.Marshal(change.Value)
	if err == nil {
		b.client.Publish(b.topics.RawState(change.Serial, objectType), full, 0, true)
	}

	if change.Value.Kind != objectstore.KindObject {
		return
	}
	for field, val := range change.Value.Object {
		raw, err := json.Marshal(val)
		if err != nil {
			continue
		}
		b.client.Publish(b.topics.RawField(change.Serial, objectType, field), raw, 0, true)
	}
}

func (b *MQTTBridge) publishAllDerived(ctx context.Context, serial string) {
	objects, err := b.store.GetAllForDevice(ctx, serial)
	if err != nil {
		if b.logger != nil {
			b.logger.Error("integration: read device for derived publish", "serial", serial, "error", err)
		}
		return
	}

	view := deviceView{
		Shared: objectValueOrNull(objects, "shared."+serial),
		Device: objectValueOrNull(objects, "device."+serial),
	}
	nowMS := b.clock().UnixMilli()

	for field, value := range derivedFields(view, nowMS) {
		raw, err := json.Marshal(value)
		if err != nil {
			continue
		}
		b.client.Publish(b.topics.DerivedState(serial, field), raw, 0, true)
	}
}

func objectValueOrNull(objects map[string]objectstore.Object, key string) objectstore.Value {
	if obj, ok := objects[key]; ok {
		return obj.Value
	}
	return objectstore.Null
}

// handleRawCommand implements the raw half of responsibility 7:
// «prefix»/«serial»/«t»/«field»/set.
func (b *MQTTBridge) handleRawCommand(topic string, payload []byte) error {
	serial, objectType, field, ok := parseRawCommandTopic(b.topics.Prefix, topic)
	if !ok {
		return nil
	}
	if !b.owns(serial) {
		return nil
	}
	return applyRawCommand(context.Background(), b.store, serial, objectType, field, string(payload), b.clock().UnixMilli())
}

// handleDerivedCommand implements the derived half of responsibility 7:
// «prefix»/«serial»/ha/«command»/set.
func (b *MQTTBridge) handleDerivedCommand(topic string, payload []byte) error {
	serial, command, ok := parseDerivedCommandTopic(b.topics.Prefix, topic)
	if !ok {
		return nil
	}
	if !b.owns(serial) {
		return nil
	}
	return applyDerivedCommand(context.Background(), b.store, serial, command, string(payload), b.clock().UnixMilli())
}

// splitObjectKey splits "«type».«id»" into its two halves.
func splitObjectKey(objectKey string) (objectType, id string, ok bool) {
	idx := strings.Index(objectKey, ".")
	if idx < 0 {
		return "", "", false
	}
	return objectKey[:idx], objectKey[idx+1:], true
}

// parseRawCommandTopic parses "«prefix»/«serial»/«t»/«field»/set". The "ha"
// object type is reserved for parseDerivedCommandTopic: RawCommandFilter
// and DerivedCommandFilter structurally overlap on that segment, and
// paho's router dispatches a matching message to both handlers, so this
// rejects the overlap rather than writing a spurious "ha.«serial»" object.
func parseRawCommandTopic(prefix, topic string) (serial, objectType, field string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[3] != "set" || parts[1] == "ha" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// parseDerivedCommandTopic parses "«prefix»/«serial»/ha/«command»/set".
func parseDerivedCommandTopic(prefix, topic string) (serial, command string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[1] != "ha" || parts[3] != "set" {
		return "", "", false
	}
	return parts[0], parts[2], true
}
