package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/meshgrid/modulemesh/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// ReadySubject overrides the readiness announcement subject for the module.
	ReadySubject string
}

// CommsPublisher publishes module lifecycle events to COMMS subjects.
type CommsPublisher struct {
	nc           *comms.Conn
	readySubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	readySubject := ""
	if opts != nil && opts.ReadySubject != "" {
		readySubject = opts.ReadySubject
	}
	return &CommsPublisher{nc: nc, readySubject: readySubject}
}

// PublishReady publishes a ModuleReadyEvent under the module's ready subject.
func (p *CommsPublisher) PublishReady(_ context.Context, event *ModuleReadyEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	subject := p.readySubject
	if subject == "" {
		subject = commsutil.BuildReadySubject(event.ModuleID)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published ready event for %s", commsPublisherLogPrefix, event.ModuleID))
	return nil
}
