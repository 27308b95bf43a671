package mesh

import (
	"fmt"

	"github.com/meshgrid/modulemesh/pkg/manifest"
)

// Requirement identifies one declared capability relationship of a module.
// The pair is a lookup key only and is never mutated after construction.
type Requirement struct {
	ImplementationID string
	Slot             int
}

// PeerAddress is the concrete peer a requirement slot resolves to.
type PeerAddress struct {
	ModuleID         string
	ImplementationID string
}

// Resolver maps (implementation_id, slot) pairs to concrete peer addresses
// using the requirement connections declared in the main config. A single
// requirement name may fan out to multiple slots; slot indices address the
// fulfillment list in declaration order.
type Resolver struct {
	moduleID    string
	connections map[string][]manifest.Fulfillment
}

// NewResolver creates a Resolver for one module's declared connections.
func NewResolver(moduleID string, connections map[string][]manifest.Fulfillment) *Resolver {
	return &Resolver{moduleID: moduleID, connections: connections}
}

// Resolve returns the peer address for a requirement slot.
func (r *Resolver) Resolve(implementationID string, slot int) (PeerAddress, error) {
	if slot < 0 {
		return PeerAddress{}, NewMeshError(CodeInvalidArgument,
			fmt.Sprintf("negative requirement slot %d for %q", slot, implementationID))
	}

	fulfillments, ok := r.connections[implementationID]
	if !ok {
		return PeerAddress{}, NewMeshError(CodeUnknownRequirement,
			fmt.Sprintf("module %q declares no requirement %q", r.moduleID, implementationID))
	}
	if slot >= len(fulfillments) {
		return PeerAddress{}, NewMeshError(CodeUnknownRequirement,
			fmt.Sprintf("requirement %q of module %q has %d slot(s), slot %d requested",
				implementationID, r.moduleID, len(fulfillments), slot))
	}

	f := fulfillments[slot]
	return PeerAddress{ModuleID: f.ModuleID, ImplementationID: f.ImplementationID}, nil
}

// Slots returns how many fulfillments are connected to a requirement name.
func (r *Resolver) Slots(implementationID string) int {
	return len(r.connections[implementationID])
}
