// Package main is the entrypoint for the mesh node binary.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/meshgrid/modulemesh/internal/broker"
	"github.com/meshgrid/modulemesh/internal/runtime"
)

const usage = `Usage: meshnode [command]
       meshnode run               Start a mesh node (broker connection, module wiring, HTTP health).
       meshnode validate          Load and check the configuration documents, then exit.
       meshnode broker [port]     Run a standalone broker only (default port 4222).
       meshnode help              Show this help.

Commands:
  run        (default) Start the mesh node for MESH_MODULE_ID.
  validate   Check MESH_CONFIG_FILE and the referenced manifests and interfaces.
  broker     Run an embedded broker without any module, e.g. for local development.
  help       Show this help.

Environment: MESH_MODULE_ID (required for run), MESH_CONFIG_FILE (required), MESH_PREFIX,
MESH_BROKER_URL (default nats://127.0.0.1:4222), MESH_EMBEDDED_BROKER, HTTP_PORT (default 8080),
LOG_LEVEL. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "validate":
		if err := runtime.Validate(); err != nil {
			log.Fatalf("meshnode validate: %v", err)
		}
		return
	case "broker":
		port := 4222
		if len(args) > 1 {
			p, err := strconv.Atoi(args[1])
			if err != nil {
				log.Fatalf("meshnode broker: invalid port %q", args[1])
			}
			port = p
		}
		if err := runBroker(port); err != nil {
			log.Fatalf("meshnode broker: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "", "run":
		if err := runtime.Run(); err != nil {
			log.Fatalf("meshnode run: %v", err)
		}
		return
	default:
		fmt.Print(usage)
		log.Fatalf("meshnode: unknown command %q", cmd)
	}
}

// runBroker starts a standalone broker and blocks until a shutdown signal.
func runBroker(port int) error {
	b, err := broker.Start("0.0.0.0", port)
	if err != nil {
		return err
	}
	defer b.Shutdown()
	log.Printf("meshnode broker: listening at %s", b.ClientURL())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("meshnode broker: received signal %s, shutting down", sig)
	return nil
}
