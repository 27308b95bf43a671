package mesh

import "errors"

// Error codes used across the module communication layer.
//
// UNKNOWN_REQUIREMENT, ALREADY_PROVIDED, ALREADY_READY and ALREADY_INITIALIZED
// are configuration or programming errors and should abort module startup.
// UNREACHABLE, TIMEOUT and REMOTE_ERROR are recoverable and surfaced to the
// caller, who decides whether to retry. MALFORMED_PAYLOAD is a protocol
// violation and is always logged.
const (
	CodeUnknownRequirement = "UNKNOWN_REQUIREMENT"
	CodeAlreadyProvided    = "ALREADY_PROVIDED"
	CodeAlreadyReady       = "ALREADY_READY"
	CodeAlreadyInitialized = "ALREADY_INITIALIZED"
	CodeNotInitialized     = "NOT_INITIALIZED"
	CodeUnreachable        = "UNREACHABLE"
	CodeTimeout            = "TIMEOUT"
	CodeRemoteError        = "REMOTE_ERROR"
	CodeMalformedPayload   = "MALFORMED_PAYLOAD"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeInternalError      = "INTERNAL_ERROR"
)

// MeshError is a structured error from the module communication layer.
type MeshError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *MeshError) Error() string {
	return e.Code + ": " + e.Message
}

// NewMeshError creates a new MeshError.
func NewMeshError(code, message string) *MeshError {
	return &MeshError{Code: code, Message: message}
}

// CodeOf returns the mesh error code carried by err, or empty string.
func CodeOf(err error) string {
	var me *MeshError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}
