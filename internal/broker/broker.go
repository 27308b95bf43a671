// Package broker runs an in-process COMMS server for development and
// single-host deployments where no standalone broker is available.
package broker

import (
	"fmt"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const logPrefix = "broker:Start"

// Broker wraps an embedded COMMS server.
type Broker struct {
	srv *commsserver.Server
}

// Start launches an embedded server and waits until it accepts connections.
func Start(host string, port int) (*Broker, error) {
	opts := &commsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	srv, err := commsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create embedded broker: %w", logPrefix, err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("%s - embedded broker on %s:%d not ready", logPrefix, host, port)
	}
	return &Broker{srv: srv}, nil
}

// ClientURL returns the URL clients connect to.
func (b *Broker) ClientURL() string {
	return b.srv.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (b *Broker) Shutdown() {
	b.srv.Shutdown()
	b.srv.WaitForShutdown()
}
