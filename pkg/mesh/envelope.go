// Package mesh implements the module communication layer of the broker
// mediated process mesh: command registration and invocation, variable
// publish/subscribe, requirement resolution, and the readiness gate.
package mesh

import "encoding/json"

// CommandRequest is the JSON envelope carrying one command invocation.
type CommandRequest struct {
	ID     string          `json:"id"`
	Caller string          `json:"caller,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// CommandResponse is the JSON envelope carrying one command result.
type CommandResponse struct {
	ID     string          `json:"id"`
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail holds structured error information reported by a peer.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}
