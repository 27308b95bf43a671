package mesh

import (
	"fmt"
	"log/slog"
	"sync"

	comms "github.com/nats-io/nats.go"

	"github.com/meshgrid/modulemesh/pkg/commsutil"
)

const variablesLogPrefix = "mesh:variables"

// VariableHandler receives one published value of a subscribed variable
// stream. Handlers run on the dispatch goroutine in the order the transport
// received the values for that stream.
type VariableHandler func(value interface{})

// VariableBus implements the publish side and the subscribe side of variable
// streams. Multiple subscriptions to the same stream are delivered
// independently, each through its own transport subscription.
type VariableBus struct {
	moduleID string
	nc       *comms.Conn
	resolver *Resolver
	disp     *dispatcher

	mu   sync.Mutex
	subs []*comms.Subscription
}

func newVariableBus(moduleID string, nc *comms.Conn, resolver *Resolver, disp *dispatcher) *VariableBus {
	return &VariableBus{moduleID: moduleID, nc: nc, resolver: resolver, disp: disp}
}

// Subscribe registers interest in a variable stream of the peer the
// requirement slot resolves to. Each inbound value is decoded and handed to
// handler on the dispatch goroutine. A resolution miss is a configuration
// error and fails the registration.
func (b *VariableBus) Subscribe(implementationID string, slot int, name string, handler VariableHandler) error {
	if handler == nil {
		return NewMeshError(CodeInvalidArgument, "nil variable handler")
	}

	peer, err := b.resolver.Resolve(implementationID, slot)
	if err != nil {
		return err
	}

	subject := commsutil.BuildVariableSubject(peer.ModuleID, peer.ImplementationID, name)
	sub, err := b.nc.Subscribe(subject, func(msg *comms.Msg) {
		b.disp.enqueue(func() {
			deliverVariable(subject, handler, msg.Data)
		})
	})
	if err != nil {
		return &MeshError{Code: CodeInternalError,
			Message: fmt.Sprintf("failed to subscribe to %s", subject), Details: err.Error()}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - Subscribed to variable %s (requirement %s[%d])", variablesLogPrefix, subject, implementationID, slot))
	return nil
}

// deliverVariable decodes one published value and invokes the handler with
// panic isolation. A malformed value is a protocol violation: it is logged
// and skipped, never silently swallowed into the handler.
func deliverVariable(subject string, handler VariableHandler, data []byte) {
	var value interface{}
	if err := commsutil.DecodePayload(data, &value); err != nil {
		slog.Error(fmt.Sprintf("%s - malformed value on %s: %v", variablesLogPrefix, subject, err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - variable handler for %s panicked: %v", variablesLogPrefix, subject, r))
		}
	}()
	handler(value)
}

// Publish sends value under this module's own (implementationID, name)
// identity, fire-and-forget. Only a best-effort local send error is surfaced;
// there is no acknowledgment.
func (b *VariableBus) Publish(implementationID, name string, value interface{}) error {
	data, err := commsutil.EncodePayload(value)
	if err != nil {
		return &MeshError{Code: CodeInternalError,
			Message: fmt.Sprintf("failed to encode variable %s.%s", implementationID, name), Details: err.Error()}
	}

	subject := commsutil.BuildVariableSubject(b.moduleID, implementationID, name)
	if err := b.nc.Publish(subject, data); err != nil {
		return &MeshError{Code: CodeUnreachable,
			Message: fmt.Sprintf("failed to publish %s", subject), Details: err.Error()}
	}
	return nil
}

// close drains all variable subscriptions.
func (b *VariableBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe: %v", variablesLogPrefix, err))
		}
	}
	b.subs = nil
}
