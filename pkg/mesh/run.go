package mesh

import (
	"fmt"
	"log/slog"
)

const runLogPrefix = "mesh:run"

// Handlers is the generic handler surface of a module: it deals in
// implementation ids, command/variable names, and structured payloads.
// Strongly typed application abstractions are layered on top of it by the
// embedding application.
type Handlers interface {
	// HandleCommand serves a command name on implementationID with the given
	// arguments. The return value is sent back as the call result.
	HandleCommand(implementationID, name string, args map[string]interface{}) (interface{}, error)

	// HandleVariable receives a value of the variable name published by the
	// peer connected to the requirement implementationID.
	HandleVariable(implementationID, name string, value interface{})

	// OnReady runs exactly once when the module signals ready.
	OnReady()
}

// Run wires a Handlers implementation to everything the module's manifest
// declares: it initializes the transport, provides every command of every
// provided interface, subscribes to every variable of every connected
// requirement, and signals ready. It returns the module's manifest document.
//
// Requirements with no connection in the main config are skipped; whether a
// missing connection is an error was decided upstream when the config was
// validated.
func (m *Module) Run(h Handlers) (map[string]interface{}, error) {
	manifestDoc, err := m.Initialize()
	if err != nil {
		return nil, err
	}

	for implementationID, binding := range m.docs.Manifest.Provides {
		def, ok := m.docs.InterfaceDef(binding.Interface)
		if !ok {
			return nil, NewMeshError(CodeNotFound,
				fmt.Sprintf("interface %q of provided implementation %q not loaded", binding.Interface, implementationID))
		}
		for name := range def.Cmds {
			implID, cmd := implementationID, name
			err := m.ProvideCommand(implID, cmd, func(args map[string]interface{}) (interface{}, error) {
				return h.HandleCommand(implID, cmd, args)
			})
			if err != nil {
				return nil, err
			}
		}
	}

	for requirementName, binding := range m.docs.Manifest.Requires {
		def, ok := m.docs.InterfaceDef(binding.Interface)
		if !ok {
			return nil, NewMeshError(CodeNotFound,
				fmt.Sprintf("interface %q of requirement %q not loaded", binding.Interface, requirementName))
		}
		slots := m.resolver.Slots(requirementName)
		if slots == 0 {
			slog.Info(fmt.Sprintf("%s - Requirement %s of %s has no connection, skipping variable subscriptions",
				runLogPrefix, requirementName, m.moduleID))
			continue
		}
		for name := range def.Vars {
			for slot := 0; slot < slots; slot++ {
				reqID, variable := requirementName, name
				err := m.SubscribeVariableSlot(reqID, slot, variable, func(value interface{}) {
					h.HandleVariable(reqID, variable, value)
				})
				if err != nil {
					return nil, err
				}
			}
		}
	}

	if err := m.SignalReady(h.OnReady); err != nil {
		return nil, err
	}
	return manifestDoc, nil
}
