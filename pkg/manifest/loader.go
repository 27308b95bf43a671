package manifest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
)

const logPrefix = "manifest:loader"

// SupportedAPIVersion is the mesh API version this runtime speaks. Manifests
// declaring a compatibleApiVersion constraint must match it.
const SupportedAPIVersion = "1.0.0"

// Resolved holds all documents a single module instance needs, loaded once at
// construction time and read-only thereafter.
type Resolved struct {
	ModuleID   string
	ModuleType string
	Entry      ModuleEntry
	Manifest   Manifest

	manifestDoc map[string]interface{}
	ifaceDocs   map[string]map[string]interface{}
	ifaceDefs   map[string]Interface
}

// Load reads the main config at configFile, finds the entry for moduleID, and
// loads its manifest plus every interface referenced by the manifest from the
// prefix directory layout:
//
//	<prefix>/manifests/<module_type>.json
//	<prefix>/interfaces/<interface_name>.json
//
// Any missing or unparsable document is fatal; the communication layer assumes
// its inputs are validated before a module is constructed.
func Load(prefix, configFile, moduleID string) (*Resolved, error) {
	cfg, err := LoadMainConfig(configFile)
	if err != nil {
		return nil, err
	}

	entry, ok := cfg.ActiveModules[moduleID]
	if !ok {
		return nil, fmt.Errorf("%s - module %q not present in main config %s", logPrefix, moduleID, configFile)
	}
	if entry.Module == "" {
		return nil, fmt.Errorf("%s - module %q has no module type in main config", logPrefix, moduleID)
	}

	r := &Resolved{
		ModuleID:   moduleID,
		ModuleType: entry.Module,
		Entry:      entry,
		ifaceDocs:  make(map[string]map[string]interface{}),
		ifaceDefs:  make(map[string]Interface),
	}

	manifestPath := filepath.Join(prefix, "manifests", entry.Module+".json")
	manifestData, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read manifest %s: %w", logPrefix, manifestPath, err)
	}
	if err := json.Unmarshal(manifestData, &r.Manifest); err != nil {
		return nil, fmt.Errorf("%s - failed to parse manifest %s: %w", logPrefix, manifestPath, err)
	}
	if err := json.Unmarshal(manifestData, &r.manifestDoc); err != nil {
		return nil, fmt.Errorf("%s - failed to parse manifest document %s: %w", logPrefix, manifestPath, err)
	}

	if err := checkAPICompatibility(r.Manifest.CompatibleAPIVersion); err != nil {
		return nil, fmt.Errorf("%s - manifest %s: %w", logPrefix, manifestPath, err)
	}

	for implementationID, binding := range r.Manifest.Provides {
		if err := r.loadInterface(prefix, binding.Interface); err != nil {
			return nil, fmt.Errorf("%s - provides %q: %w", logPrefix, implementationID, err)
		}
	}
	for requirementName, binding := range r.Manifest.Requires {
		if err := r.loadInterface(prefix, binding.Interface); err != nil {
			return nil, fmt.Errorf("%s - requires %q: %w", logPrefix, requirementName, err)
		}
	}

	slog.Info(fmt.Sprintf("%s - Loaded documents for module %s (type %s, %d interfaces)",
		logPrefix, moduleID, entry.Module, len(r.ifaceDocs)))
	return r, nil
}

// LoadMainConfig reads and parses the mesh main config document.
func LoadMainConfig(configFile string) (*MainConfig, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read main config %s: %w", logPrefix, configFile, err)
	}

	var cfg MainConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s - failed to parse main config %s: %w", logPrefix, configFile, err)
	}
	return &cfg, nil
}

// checkAPICompatibility validates a manifest's compatibleApiVersion constraint
// against SupportedAPIVersion. An empty constraint is accepted.
func checkAPICompatibility(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid compatibleApiVersion %q: %w", constraint, err)
	}
	v := semver.MustParse(SupportedAPIVersion)
	if !c.Check(v) {
		return fmt.Errorf("compatibleApiVersion %q does not match supported mesh API %s", constraint, SupportedAPIVersion)
	}
	return nil
}

// loadInterface reads one interface definition document, both as a generic
// document and as a typed Interface. Repeat references are loaded once.
func (r *Resolved) loadInterface(prefix, name string) error {
	if name == "" {
		return fmt.Errorf("empty interface name")
	}
	if _, ok := r.ifaceDocs[name]; ok {
		return nil
	}

	path := filepath.Join(prefix, "interfaces", name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read interface %s: %w", path, err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse interface %s: %w", path, err)
	}
	var def Interface
	if err := json.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("failed to parse interface definition %s: %w", path, err)
	}

	r.ifaceDocs[name] = doc
	r.ifaceDefs[name] = def
	return nil
}

// ManifestDoc returns the module's own manifest as a generic document. The
// returned document is a copy; callers may mutate it freely without touching
// the loaded state.
func (r *Resolved) ManifestDoc() map[string]interface{} {
	return copyDoc(r.manifestDoc)
}

// InterfaceDoc returns the definition document for a named interface, as a
// copy the caller owns.
func (r *Resolved) InterfaceDoc(name string) (map[string]interface{}, bool) {
	doc, ok := r.ifaceDocs[name]
	if !ok {
		return nil, false
	}
	return copyDoc(doc), true
}

// copyDoc deep-copies a decoded JSON document, covering the value shapes
// encoding/json produces for generic documents.
func copyDoc(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyDoc(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// InterfaceDef returns the typed definition for a named interface.
func (r *Resolved) InterfaceDef(name string) (Interface, bool) {
	def, ok := r.ifaceDefs[name]
	return def, ok
}

// Connections returns the requirement connections declared for this module.
func (r *Resolved) Connections() map[string][]Fulfillment {
	return r.Entry.Connections
}
