// Package runtime orchestrates a mesh node: embedded broker, module wiring, HTTP health.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshgrid/modulemesh/internal/broker"
	"github.com/meshgrid/modulemesh/internal/config"
	"github.com/meshgrid/modulemesh/pkg/manifest"
	"github.com/meshgrid/modulemesh/pkg/mesh"
)

const logPrefix = "runtime:runtime"

// Node is the mesh-node orchestrator.
type Node struct {
	cfg        *config.Config
	mod        *mesh.Module
	emb        *broker.Broker
	httpServer *http.Server
}

// nodeHandlers is the default handler surface of the standalone binary. It
// answers heartbeat and echo on any provided implementation and logs
// everything else; embedding applications supply their own mesh.Handlers.
type nodeHandlers struct {
	moduleID string
}

func (h *nodeHandlers) HandleCommand(implementationID, name string, args map[string]interface{}) (interface{}, error) {
	switch name {
	case "heartbeat":
		return map[string]interface{}{"status": "ok", "module_id": h.moduleID}, nil
	case "echo":
		return args, nil
	}
	return nil, fmt.Errorf("command %s.%s has no handler in standalone mode", implementationID, name)
}

func (h *nodeHandlers) HandleVariable(implementationID, name string, value interface{}) {
	slog.Info(fmt.Sprintf("%s - Variable %s.%s: %v", logPrefix, implementationID, name, value))
}

func (h *nodeHandlers) OnReady() {
	slog.Info(fmt.Sprintf("%s - Module %s is ready", logPrefix, h.moduleID))
}

// Run starts the node, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	setupLogging(cfg.LogLevel)
	if err := cfg.ValidateForRun(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting mesh node %s", logPrefix, cfg.ModuleID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := &Node{cfg: cfg}

	// Step 1: Optional embedded broker
	brokerURL := cfg.BrokerURL
	if cfg.EmbeddedBroker {
		emb, err := broker.Start(cfg.EmbeddedBrokerHost, cfg.EmbeddedBrokerPort)
		if err != nil {
			return err
		}
		n.emb = emb
		brokerURL = emb.ClientURL()
		slog.Info(fmt.Sprintf("%s - Embedded broker listening at %s", logPrefix, brokerURL))
	}

	// Step 2: Construct the module from its configuration documents
	mod, err := mesh.NewModule(mesh.NewModuleParams{
		ModuleID:   cfg.ModuleID,
		Prefix:     cfg.Prefix,
		ConfigFile: cfg.ConfigFile,
		Config: mesh.Config{
			BrokerURL:          brokerURL,
			ConnectionName:     fmt.Sprintf("%s.%s", cfg.CommsName, cfg.ModuleID),
			CallTimeout:        cfg.CallTimeout,
			DispatchQueueDepth: cfg.DispatchQueueDepth,
		},
	})
	if err != nil {
		n.shutdownBroker()
		return fmt.Errorf("%s - failed to construct module: %w", logPrefix, err)
	}
	n.mod = mod

	// Step 3: Wire everything the manifest declares and signal ready
	if _, err := mod.Run(&nodeHandlers{moduleID: cfg.ModuleID}); err != nil {
		mod.Close()
		n.shutdownBroker()
		return fmt.Errorf("%s - failed to run module: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Connected to broker at %s", logPrefix, brokerURL))

	// Step 4: Start HTTP health server
	mux := http.NewServeMux()
	mux.HandleFunc("/health", n.handleHealth())
	mux.HandleFunc("/ready", n.handleReady())

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	n.httpServer = &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
		if err := n.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Mesh node %s is ready", logPrefix, cfg.ModuleID))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	n.httpServer.Shutdown(shutdownCtx)
	mod.Close()
	n.shutdownBroker()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// Validate loads and checks the configuration documents without connecting.
func Validate() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	setupLogging(cfg.LogLevel)
	if err := cfg.ValidateForConfigCheck(); err != nil {
		return err
	}

	main, err := manifest.LoadMainConfig(cfg.ConfigFile)
	if err != nil {
		return err
	}

	// A module id narrows validation to one module; otherwise check them all.
	ids := []string{cfg.ModuleID}
	if cfg.ModuleID == "" {
		ids = ids[:0]
		for id := range main.ActiveModules {
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		resolved, err := manifest.Load(cfg.Prefix, cfg.ConfigFile, id)
		if err != nil {
			return fmt.Errorf("%s - module %s: %w", logPrefix, id, err)
		}
		slog.Info(fmt.Sprintf("%s - Module %s (%s) validated: %d provides, %d requires",
			logPrefix, id, main.ActiveModules[id].Module,
			len(resolved.Manifest.Provides), len(resolved.Manifest.Requires)))
	}
	slog.Info(fmt.Sprintf("%s - Configuration valid: %d active modules", logPrefix, len(main.ActiveModules)))
	return nil
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// healthStatus is the JSON document served by /health and /ready.
type healthStatus struct {
	Status    string          `json:"status"`
	Checks    map[string]bool `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

// handleHealth reports broker connectivity with a real round trip.
func (n *Node) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthCtx, cancel := context.WithTimeout(r.Context(), n.cfg.HealthCheckTimeout)
		defer cancel()

		broker := n.mod.Ping(healthCtx) == nil
		h := healthStatus{
			Status:    "healthy",
			Checks:    map[string]bool{"broker": broker},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		w.Header().Set("Content-Type", "application/json")
		if !broker {
			h.Status = "unhealthy"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	}
}

// handleReady reports whether the module has signaled ready.
func (n *Node) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := n.mod.Ready()
		h := healthStatus{
			Status:    "ready",
			Checks:    map[string]bool{"module": ready},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			h.Status = "starting"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	}
}

func (n *Node) shutdownBroker() {
	if n.emb != nil {
		n.emb.Shutdown()
	}
}
