package mesh

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const meshTestPrefix = "mesh:helpers_test"

// startTestServer starts an in-process COMMS server for integration tests.
func startTestServer(t *testing.T, port int) (string, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", meshTestPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", meshTestPrefix)
	}

	cleanup := func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}
	return ns.ClientURL(), cleanup
}

// writeMeshFixture writes the configuration documents for a two-module mesh:
// charger_a provides the telemetry interface under implementation "main",
// monitor_b requires it under requirement "source".
func writeMeshFixture(t *testing.T) (string, string) {
	t.Helper()
	prefix := t.TempDir()

	for _, dir := range []string{"manifests", "interfaces", "config"} {
		if err := os.MkdirAll(filepath.Join(prefix, dir), 0o755); err != nil {
			t.Fatalf("%s - mkdir %s: %v", meshTestPrefix, dir, err)
		}
	}

	files := map[string]string{
		filepath.Join("config", "mesh.json"): `{
			"active_modules": {
				"charger_a": {
					"module": "telemetry_module"
				},
				"monitor_b": {
					"module": "monitor_module",
					"connections": {
						"source": [
							{"module_id": "charger_a", "implementation_id": "main"}
						]
					}
				}
			}
		}`,
		filepath.Join("manifests", "telemetry_module.json"): `{
			"description": "Telemetry source module",
			"compatibleApiVersion": "^1.0",
			"provides": {"main": {"interface": "telemetry"}}
		}`,
		filepath.Join("manifests", "monitor_module.json"): `{
			"description": "Telemetry monitor module",
			"compatibleApiVersion": "^1.0",
			"requires": {"source": {"interface": "telemetry"}}
		}`,
		filepath.Join("interfaces", "telemetry.json"): `{
			"description": "Telemetry source",
			"cmds": {"heartbeat": {"arguments": {}, "result": {"type": "object"}}},
			"vars": {"temperature": {"type": "object"}}
		}`,
	}
	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(prefix, rel), []byte(content), 0o644); err != nil {
			t.Fatalf("%s - write %s: %v", meshTestPrefix, rel, err)
		}
	}

	return prefix, filepath.Join(prefix, "config", "mesh.json")
}

// newTestModule constructs a module against the given broker with a short
// call timeout suitable for tests.
func newTestModule(t *testing.T, url, prefix, configFile, moduleID string) *Module {
	t.Helper()

	m, err := NewModule(NewModuleParams{
		ModuleID:   moduleID,
		Prefix:     prefix,
		ConfigFile: configFile,
		Config: Config{
			BrokerURL:   url,
			CallTimeout: 2 * time.Second,
		},
	})
	if err != nil {
		t.Fatalf("%s - NewModule(%s) failed: %v", meshTestPrefix, moduleID, err)
	}
	t.Cleanup(m.Close)
	return m
}

// initReady initializes a module and signals ready immediately.
func initReady(t *testing.T, m *Module) {
	t.Helper()
	if _, err := m.Initialize(); err != nil {
		t.Fatalf("%s - Initialize(%s) failed: %v", meshTestPrefix, m.ModuleID(), err)
	}
	if err := m.SignalReady(nil); err != nil {
		t.Fatalf("%s - SignalReady(%s) failed: %v", meshTestPrefix, m.ModuleID(), err)
	}
}
