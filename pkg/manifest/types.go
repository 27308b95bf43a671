// Package manifest loads the pre-validated mesh configuration documents:
// the main config (module instances and their requirement connections),
// per-module-type manifests, and per-interface definition documents.
package manifest

// Fulfillment is one concrete peer satisfying a requirement slot.
type Fulfillment struct {
	ModuleID         string `json:"module_id"`
	ImplementationID string `json:"implementation_id"`
}

// ModuleEntry is one module instance in the main config.
type ModuleEntry struct {
	Module                string                            `json:"module"`
	Connections           map[string][]Fulfillment          `json:"connections,omitempty"`
	ConfigModule          map[string]interface{}            `json:"config_module,omitempty"`
	ConfigImplementations map[string]map[string]interface{} `json:"config_implementations,omitempty"`
}

// MainConfig is the root mesh configuration document.
type MainConfig struct {
	ActiveModules map[string]ModuleEntry `json:"active_modules"`
}

// Binding ties a provided implementation or a declared requirement to an interface.
type Binding struct {
	Interface   string `json:"interface"`
	Description string `json:"description,omitempty"`
}

// Manifest describes one module type: what it provides and what it requires.
type Manifest struct {
	Description          string             `json:"description,omitempty"`
	CompatibleAPIVersion string             `json:"compatibleApiVersion,omitempty"`
	Provides             map[string]Binding `json:"provides,omitempty"`
	Requires             map[string]Binding `json:"requires,omitempty"`
}

// Interface is an interface definition document: the commands and variables
// any implementation of the interface exposes. Command and variable entries
// carry their argument/return schemas as opaque documents; schema validation
// happens upstream.
type Interface struct {
	Description string                            `json:"description,omitempty"`
	Cmds        map[string]map[string]interface{} `json:"cmds,omitempty"`
	Vars        map[string]map[string]interface{} `json:"vars,omitempty"`
}
