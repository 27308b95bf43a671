package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subject prefixes for the module mesh.
const (
	SubjectCommandPrefix  = "mesh.cmd"
	SubjectVariablePrefix = "mesh.var"
	SubjectReadyPrefix    = "mesh.ready"
)

// sanitizeToken makes a subject token safe by replacing dots with underscores.
func sanitizeToken(s string) string {
	return strings.ReplaceAll(s, ".", "_")
}

// BuildCommandSubject builds the COMMS subject a module serves a command on.
func BuildCommandSubject(moduleID, implementationID, name string) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectCommandPrefix,
		sanitizeToken(moduleID), sanitizeToken(implementationID), sanitizeToken(name))
}

// BuildVariableSubject builds the COMMS subject a module publishes a variable on.
func BuildVariableSubject(moduleID, implementationID, name string) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectVariablePrefix,
		sanitizeToken(moduleID), sanitizeToken(implementationID), sanitizeToken(name))
}

// BuildReadySubject builds the COMMS subject a module announces readiness on.
func BuildReadySubject(moduleID string) string {
	return fmt.Sprintf("%s.%s", SubjectReadyPrefix, sanitizeToken(moduleID))
}
