// Package commsutil provides COMMS connection helpers shared by the mesh
// packages: connection setup, the payload codec, and subject builders.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// Connection tuning defaults, used when ConnectOpts leaves a field zero.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReconnectWait  = 2 * time.Second
	DefaultMaxReconnects  = 60
)

// ConnectOpts tunes the broker connection of one module. Zero values fall
// back to the package defaults; pass nil to use defaults for everything.
type ConnectOpts struct {
	// Timeout bounds the initial connection attempt.
	Timeout time.Duration
	// ReconnectWait is the pause between reconnection attempts after the
	// broker drops the connection.
	ReconnectWait time.Duration
	// MaxReconnects caps reconnection attempts before the connection is
	// closed for good. Negative means retry forever.
	MaxReconnects int
}

func (o *ConnectOpts) timeout() time.Duration {
	if o == nil || o.Timeout <= 0 {
		return DefaultConnectTimeout
	}
	return o.Timeout
}

func (o *ConnectOpts) reconnectWait() time.Duration {
	if o == nil || o.ReconnectWait <= 0 {
		return DefaultReconnectWait
	}
	return o.ReconnectWait
}

func (o *ConnectOpts) maxReconnects() int {
	if o == nil || o.MaxReconnects == 0 {
		return DefaultMaxReconnects
	}
	return o.MaxReconnects
}

// Connect opens a module's broker connection. The name identifies the module
// on the broker side; reconnects and disconnects are logged so a flapping
// broker is visible in the module's own log.
func Connect(url, name string, opts *ConnectOpts) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Module %s connecting to broker at %s", logPrefix, name, url))

	nc, err := comms.Connect(url,
		comms.Name(name),
		comms.Timeout(opts.timeout()),
		comms.ReconnectWait(opts.reconnectWait()),
		comms.MaxReconnects(opts.maxReconnects()),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - Module %s lost the broker: %v", logPrefix, name, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - Module %s reconnected to %s", logPrefix, name, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - Module %s closed its broker connection", logPrefix, name))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Module %s connected to %s", logPrefix, name, nc.ConnectedUrl()))
	return nc, nil
}
