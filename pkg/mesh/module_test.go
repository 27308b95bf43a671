package mesh

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/meshgrid/modulemesh/pkg/events"
)

func TestModule_InitializeReturnsManifest(t *testing.T) {
	url, cleanup := startTestServer(t, 14260)
	defer cleanup()
	prefix, configFile := writeMeshFixture(t)

	m := newTestModule(t, url, prefix, configFile, "charger_a")
	doc, err := m.Initialize()
	if err != nil {
		t.Fatalf("mesh:module_test - Initialize failed: %v", err)
	}

	if doc["description"] != "Telemetry source module" {
		t.Errorf("mesh:module_test - manifest description = %v", doc["description"])
	}
	provides, ok := doc["provides"].(map[string]interface{})
	if !ok {
		t.Fatalf("mesh:module_test - manifest provides missing")
	}
	if _, ok := provides["main"]; !ok {
		t.Errorf("mesh:module_test - manifest should provide main")
	}

	_, err = m.Initialize()
	if CodeOf(err) != CodeAlreadyInitialized {
		t.Errorf("mesh:module_test - second Initialize = %v, want ALREADY_INITIALIZED", err)
	}
}

func TestModule_GetInterface(t *testing.T) {
	url, cleanup := startTestServer(t, 14261)
	defer cleanup()
	prefix, configFile := writeMeshFixture(t)

	m := newTestModule(t, url, prefix, configFile, "charger_a")

	// Pure lookup, works before Initialize.
	doc, err := m.GetInterface("telemetry")
	if err != nil {
		t.Fatalf("mesh:module_test - GetInterface failed: %v", err)
	}
	cmds, ok := doc["cmds"].(map[string]interface{})
	if !ok {
		t.Fatalf("mesh:module_test - interface cmds missing")
	}
	if _, ok := cmds["heartbeat"]; !ok {
		t.Errorf("mesh:module_test - interface should define heartbeat")
	}

	_, err = m.GetInterface("unknown_interface")
	if CodeOf(err) != CodeNotFound {
		t.Errorf("mesh:module_test - unknown interface error = %v, want NOT_FOUND", err)
	}
}

func TestModule_AtMostOnceReadiness(t *testing.T) {
	url, cleanup := startTestServer(t, 14262)
	defer cleanup()
	prefix, configFile := writeMeshFixture(t)

	m := newTestModule(t, url, prefix, configFile, "charger_a")
	if _, err := m.Initialize(); err != nil {
		t.Fatalf("mesh:module_test - Initialize: %v", err)
	}

	fired := 0
	if err := m.SignalReady(func() { fired++ }); err != nil {
		t.Fatalf("mesh:module_test - SignalReady failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("mesh:module_test - on-ready fired %d times, want 1", fired)
	}
	if !m.Ready() {
		t.Errorf("mesh:module_test - Ready() = false after SignalReady")
	}

	err := m.SignalReady(func() { fired++ })
	if CodeOf(err) != CodeAlreadyReady {
		t.Errorf("mesh:module_test - second SignalReady = %v, want ALREADY_READY", err)
	}
	if fired != 1 {
		t.Errorf("mesh:module_test - on-ready fired %d times after rejected call, want 1", fired)
	}
}

func TestModule_SignalReadyBeforeInitialize(t *testing.T) {
	url, cleanup := startTestServer(t, 14263)
	defer cleanup()
	prefix, configFile := writeMeshFixture(t)

	m := newTestModule(t, url, prefix, configFile, "charger_a")
	err := m.SignalReady(nil)
	if CodeOf(err) != CodeNotInitialized {
		t.Errorf("mesh:module_test - SignalReady before Initialize = %v, want NOT_INITIALIZED", err)
	}
}

func TestModule_NoDeliveryBeforeReadiness(t *testing.T) {
	url, cleanup := startTestServer(t, 14264)
	defer cleanup()
	prefix, configFile := writeMeshFixture(t)

	publisher := newTestModule(t, url, prefix, configFile, "charger_a")
	initReady(t, publisher)

	subscriber := newTestModule(t, url, prefix, configFile, "monitor_b")
	if _, err := subscriber.Initialize(); err != nil {
		t.Fatalf("mesh:module_test - Initialize subscriber: %v", err)
	}

	received := make(chan interface{}, 2)
	if err := subscriber.SubscribeVariable("source", "temperature", func(v interface{}) { received <- v }); err != nil {
		t.Fatalf("mesh:module_test - SubscribeVariable: %v", err)
	}

	// Value arrives while the subscriber is registered but not yet ready.
	if err := publisher.PublishVariable("main", "temperature", map[string]interface{}{"celsius": 18.0}); err != nil {
		t.Fatalf("mesh:module_test - PublishVariable: %v", err)
	}

	select {
	case v := <-received:
		t.Fatalf("mesh:module_test - value %v delivered before readiness", v)
	case <-time.After(400 * time.Millisecond):
	}

	// Opening delivery releases the queued value in arrival order.
	if err := subscriber.SignalReady(nil); err != nil {
		t.Fatalf("mesh:module_test - SignalReady: %v", err)
	}

	select {
	case v := <-received:
		if v.(map[string]interface{})["celsius"] != 18.0 {
			t.Errorf("mesh:module_test - unexpected value %v", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("mesh:module_test - queued value not delivered after readiness")
	}
}

func TestModule_ReadinessAnnouncement(t *testing.T) {
	url, cleanup := startTestServer(t, 14265)
	defer cleanup()
	prefix, configFile := writeMeshFixture(t)

	nc, err := comms.Connect(url)
	if err != nil {
		t.Fatalf("mesh:module_test - raw connect: %v", err)
	}
	defer nc.Close()

	announced := make(chan *events.ModuleReadyEvent, 1)
	sub, err := nc.Subscribe("mesh.ready.charger_a", func(msg *comms.Msg) {
		var event events.ModuleReadyEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		announced <- &event
	})
	if err != nil {
		t.Fatalf("mesh:module_test - raw subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	nc.Flush()

	m := newTestModule(t, url, prefix, configFile, "charger_a")
	initReady(t, m)

	select {
	case event := <-announced:
		if event.ModuleID != "charger_a" {
			t.Errorf("mesh:module_test - ModuleID = %q, want charger_a", event.ModuleID)
		}
		if event.ModuleType != "telemetry_module" {
			t.Errorf("mesh:module_test - ModuleType = %q, want telemetry_module", event.ModuleType)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("mesh:module_test - no readiness announcement")
	}
}

func TestModule_CloseWithHandlerInFlight(t *testing.T) {
	url, cleanup := startTestServer(t, 14266)
	defer cleanup()
	prefix, configFile := writeMeshFixture(t)

	provider := newTestModule(t, url, prefix, configFile, "charger_a")
	if _, err := provider.Initialize(); err != nil {
		t.Fatalf("mesh:module_test - Initialize: %v", err)
	}

	// The handler occupies the dispatch goroutine and then uses the façade,
	// which is normal handler behavior. Close must not wait for the dispatch
	// goroutine while holding a lock the handler needs.
	entered := make(chan struct{})
	err := provider.ProvideCommand("main", "heartbeat", func(args map[string]interface{}) (interface{}, error) {
		close(entered)
		time.Sleep(300 * time.Millisecond)
		provider.PublishVariable("main", "temperature", map[string]interface{}{"celsius": 20.0})
		return map[string]interface{}{"status": "ok"}, nil
	})
	if err != nil {
		t.Fatalf("mesh:module_test - ProvideCommand: %v", err)
	}
	if err := provider.SignalReady(nil); err != nil {
		t.Fatalf("mesh:module_test - SignalReady: %v", err)
	}

	caller := newTestModule(t, url, prefix, configFile, "monitor_b")
	initReady(t, caller)
	go caller.CallCommand("source", "heartbeat", nil)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("mesh:module_test - handler never entered")
	}

	closed := make(chan struct{})
	go func() {
		provider.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("mesh:module_test - Close hung with a handler in flight")
	}
}

func TestModule_Ping(t *testing.T) {
	url, cleanup := startTestServer(t, 14267)
	defer cleanup()
	prefix, configFile := writeMeshFixture(t)

	m := newTestModule(t, url, prefix, configFile, "charger_a")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.Ping(ctx); CodeOf(err) != CodeUnreachable {
		t.Errorf("mesh:module_test - Ping before Initialize = %v, want UNREACHABLE", err)
	}

	if _, err := m.Initialize(); err != nil {
		t.Fatalf("mesh:module_test - Initialize: %v", err)
	}
	if err := m.Ping(ctx); err != nil {
		t.Errorf("mesh:module_test - Ping on live connection = %v", err)
	}

	m.Close()
	if err := m.Ping(ctx); CodeOf(err) != CodeUnreachable {
		t.Errorf("mesh:module_test - Ping after Close = %v, want UNREACHABLE", err)
	}
}

func TestModule_OperationsBeforeInitialize(t *testing.T) {
	prefix, configFile := writeMeshFixture(t)

	m, err := NewModule(NewModuleParams{
		ModuleID:   "monitor_b",
		Prefix:     prefix,
		ConfigFile: configFile,
	})
	if err != nil {
		t.Fatalf("mesh:module_test - NewModule: %v", err)
	}

	if err := m.ProvideCommand("main", "heartbeat", func(map[string]interface{}) (interface{}, error) { return nil, nil }); CodeOf(err) != CodeNotInitialized {
		t.Errorf("mesh:module_test - ProvideCommand = %v, want NOT_INITIALIZED", err)
	}
	if err := m.SubscribeVariable("source", "temperature", func(interface{}) {}); CodeOf(err) != CodeNotInitialized {
		t.Errorf("mesh:module_test - SubscribeVariable = %v, want NOT_INITIALIZED", err)
	}
	if _, err := m.CallCommand("source", "heartbeat", nil); CodeOf(err) != CodeNotInitialized {
		t.Errorf("mesh:module_test - CallCommand = %v, want NOT_INITIALIZED", err)
	}
	if err := m.PublishVariable("main", "temperature", nil); CodeOf(err) != CodeNotInitialized {
		t.Errorf("mesh:module_test - PublishVariable = %v, want NOT_INITIALIZED", err)
	}
}

func TestNewModule_Validation(t *testing.T) {
	prefix, configFile := writeMeshFixture(t)

	if _, err := NewModule(NewModuleParams{Prefix: prefix, ConfigFile: configFile}); CodeOf(err) != CodeInvalidArgument {
		t.Errorf("mesh:module_test - empty module id error = %v, want INVALID_ARGUMENT", err)
	}
	if _, err := NewModule(NewModuleParams{ModuleID: "ghost", Prefix: prefix, ConfigFile: configFile}); err == nil {
		t.Errorf("mesh:module_test - expected error for module absent from main config")
	}
}
