// Package events publishes module lifecycle events to the mesh.
package events

import "context"

// EventPublisher is the interface for publishing module lifecycle events.
type EventPublisher interface {
	PublishReady(ctx context.Context, event *ModuleReadyEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishReady is a no-op.
func (p *NoOpPublisher) PublishReady(_ context.Context, _ *ModuleReadyEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *ModuleReadyEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *ModuleReadyEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishReady calls the callback.
func (p *CallbackPublisher) PublishReady(ctx context.Context, event *ModuleReadyEvent) error {
	return p.callback(ctx, event)
}
