package mesh

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"

	"github.com/meshgrid/modulemesh/pkg/commsutil"
)

const commandsLogPrefix = "mesh:commands"

// CommandHandler serves one provided command. It receives the decoded call
// arguments and returns the result payload or an error. Handlers run on the
// dispatch goroutine, one message at a time; a handler that blocks stalls all
// inbound traffic for the module.
type CommandHandler func(args map[string]interface{}) (interface{}, error)

// CommandRegistry binds (implementation_id, name) keys to command handlers and
// implements the outbound call path.
type CommandRegistry struct {
	moduleID    string
	nc          *comms.Conn
	resolver    *Resolver
	disp        *dispatcher
	callTimeout time.Duration

	mu       sync.RWMutex
	provided map[string]*comms.Subscription
}

func newCommandRegistry(moduleID string, nc *comms.Conn, resolver *Resolver, disp *dispatcher, callTimeout time.Duration) *CommandRegistry {
	return &CommandRegistry{
		moduleID:    moduleID,
		nc:          nc,
		resolver:    resolver,
		disp:        disp,
		callTimeout: callTimeout,
		provided:    make(map[string]*comms.Subscription),
	}
}

// Provide registers handler to serve inbound calls for this module's own
// (implementationID, name). Registering the same key twice is a programming
// error and fails with ALREADY_PROVIDED. The registration becomes effective
// atomically: the transport subscription is created under the registry lock,
// and the handler is captured in the subscription callback itself, so no
// message can reach a half-registered handler.
func (c *CommandRegistry) Provide(implementationID, name string, handler CommandHandler) error {
	if handler == nil {
		return NewMeshError(CodeInvalidArgument, "nil command handler")
	}
	key := implementationID + "/" + name

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.provided[key]; dup {
		return NewMeshError(CodeAlreadyProvided,
			fmt.Sprintf("command %s.%s already provided", implementationID, name))
	}

	subject := commsutil.BuildCommandSubject(c.moduleID, implementationID, name)
	sub, err := c.nc.Subscribe(subject, func(msg *comms.Msg) {
		c.disp.enqueue(func() {
			c.serve(implementationID, name, handler, msg)
		})
	})
	if err != nil {
		return &MeshError{Code: CodeInternalError,
			Message: fmt.Sprintf("failed to subscribe to %s", subject), Details: err.Error()}
	}

	c.provided[key] = sub
	slog.Info(fmt.Sprintf("%s - Providing command %s.%s on %s", commandsLogPrefix, implementationID, name, subject))
	return nil
}

// serve handles one inbound call message on the dispatch goroutine. Handler
// failures and panics are converted into REMOTE_ERROR responses; they never
// propagate into the dispatch loop.
func (c *CommandRegistry) serve(implementationID, name string, handler CommandHandler, msg *comms.Msg) {
	var req CommandRequest
	if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - malformed call to %s.%s: %v", commandsLogPrefix, implementationID, name, err))
		c.respondError(msg, "", CodeMalformedPayload, "failed to decode command request", false)
		return
	}

	var args map[string]interface{}
	if len(req.Args) > 0 {
		if err := commsutil.DecodePayload(req.Args, &args); err != nil {
			slog.Error(fmt.Sprintf("%s - malformed arguments for %s.%s: %v", commandsLogPrefix, implementationID, name, err))
			c.respondError(msg, req.ID, CodeMalformedPayload, "failed to decode command arguments", false)
			return
		}
	}

	result, err := invokeCommand(handler, args)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - handler for %s.%s failed: %v", commandsLogPrefix, implementationID, name, err))
		c.respondError(msg, req.ID, CodeRemoteError, err.Error(), true)
		return
	}

	resultData, err := commsutil.EncodePayload(result)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode result of %s.%s: %v", commandsLogPrefix, implementationID, name, err))
		c.respondError(msg, req.ID, CodeInternalError, "failed to encode command result", false)
		return
	}

	data, err := commsutil.EncodePayload(&CommandResponse{ID: req.ID, Ok: true, Result: resultData})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response for %s.%s: %v", commandsLogPrefix, implementationID, name, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to respond to %s.%s: %v", commandsLogPrefix, implementationID, name, err))
	}
}

// invokeCommand runs a handler with panic isolation.
func invokeCommand(handler CommandHandler, args map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command handler panic: %v", r)
		}
	}()
	return handler(args)
}

func (c *CommandRegistry) respondError(msg *comms.Msg, id, code, message string, retryable bool) {
	data, err := commsutil.EncodePayload(&CommandResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode error response: %v", commandsLogPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to send error response: %v", commandsLogPrefix, err))
	}
}

// Call invokes a command on the peer a requirement slot resolves to. It blocks
// the calling goroutine until a response arrives or the call timeout expires.
// Call must not be invoked from the dispatch goroutine for a command served by
// this same module; the dispatch loop would be waiting on itself.
func (c *CommandRegistry) Call(implementationID string, slot int, name string, args map[string]interface{}) (interface{}, error) {
	peer, err := c.resolver.Resolve(implementationID, slot)
	if err != nil {
		return nil, &MeshError{Code: CodeUnreachable,
			Message: fmt.Sprintf("cannot resolve requirement %s[%d]", implementationID, slot),
			Details: err.Error()}
	}

	argsData, err := commsutil.EncodePayload(args)
	if err != nil {
		return nil, &MeshError{Code: CodeInternalError,
			Message: "failed to encode call arguments", Details: err.Error()}
	}

	req := &CommandRequest{ID: nuid.Next(), Caller: c.moduleID, Args: argsData}
	data, err := commsutil.EncodePayload(req)
	if err != nil {
		return nil, &MeshError{Code: CodeInternalError,
			Message: "failed to encode call request", Details: err.Error()}
	}

	subject := commsutil.BuildCommandSubject(peer.ModuleID, peer.ImplementationID, name)
	slog.Debug(fmt.Sprintf("%s - Calling %s (requirement %s[%d])", commandsLogPrefix, subject, implementationID, slot))

	msg, err := c.nc.Request(subject, data, c.callTimeout)
	if err != nil {
		switch {
		case errors.Is(err, comms.ErrNoResponders):
			return nil, &MeshError{Code: CodeUnreachable,
				Message: fmt.Sprintf("no peer serving %s", subject), Details: err.Error()}
		case errors.Is(err, comms.ErrTimeout):
			return nil, &MeshError{Code: CodeTimeout,
				Message: fmt.Sprintf("call to %s timed out after %s", subject, c.callTimeout)}
		default:
			return nil, &MeshError{Code: CodeUnreachable,
				Message: fmt.Sprintf("call to %s failed", subject), Details: err.Error()}
		}
	}

	var resp CommandResponse
	if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
		return nil, &MeshError{Code: CodeMalformedPayload,
			Message: fmt.Sprintf("failed to decode response from %s", subject), Details: err.Error()}
	}
	if resp.ID != "" && resp.ID != req.ID {
		return nil, &MeshError{Code: CodeMalformedPayload,
			Message: fmt.Sprintf("response correlation mismatch from %s", subject)}
	}
	if !resp.Ok {
		if resp.Error != nil {
			return nil, &MeshError{Code: CodeRemoteError, Message: resp.Error.Message, Details: resp.Error}
		}
		return nil, NewMeshError(CodeRemoteError, fmt.Sprintf("peer %s reported failure without detail", subject))
	}

	var result interface{}
	if len(resp.Result) > 0 {
		if err := commsutil.DecodePayload(resp.Result, &result); err != nil {
			return nil, &MeshError{Code: CodeMalformedPayload,
				Message: fmt.Sprintf("failed to decode result from %s", subject), Details: err.Error()}
		}
	}
	return result, nil
}

// close drains all provided-command subscriptions.
func (c *CommandRegistry) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, sub := range c.provided {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe %s: %v", commandsLogPrefix, key, err))
		}
	}
	c.provided = make(map[string]*comms.Subscription)
}
