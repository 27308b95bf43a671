package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/meshgrid/modulemesh/pkg/commsutil"
	"github.com/meshgrid/modulemesh/pkg/events"
	"github.com/meshgrid/modulemesh/pkg/manifest"
)

const moduleLogPrefix = "mesh:module"

const (
	defaultCallTimeout        = 10 * time.Second
	defaultDispatchQueueDepth = 256
)

// Config holds module communication settings.
type Config struct {
	// BrokerURL is the COMMS broker the module connects to in Initialize.
	BrokerURL string
	// ConnectionName identifies the module on the broker side. Defaults to
	// the module id.
	ConnectionName string
	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration
	// ReconnectWait is the pause between reconnection attempts.
	ReconnectWait time.Duration
	// MaxReconnects caps reconnection attempts; negative retries forever.
	// Zero uses the commsutil default.
	MaxReconnects int
	// CallTimeout bounds how long an outbound command call blocks.
	CallTimeout time.Duration
	// DispatchQueueDepth bounds the inbound dispatch queue.
	DispatchQueueDepth int
	// Publisher emits lifecycle events. Defaults to announcing readiness on
	// the module's ready subject over the same connection.
	Publisher events.EventPublisher
}

// DefaultConfig returns the default module configuration.
func DefaultConfig() Config {
	return Config{
		BrokerURL:          comms.DefaultURL,
		CallTimeout:        defaultCallTimeout,
		DispatchQueueDepth: defaultDispatchQueueDepth,
	}
}

// NewModuleParams holds parameters for NewModule.
type NewModuleParams struct {
	// ModuleID is this module instance's identity in the main config.
	ModuleID string
	// Prefix is the installation prefix holding manifests/ and interfaces/.
	Prefix string
	// ConfigFile is the path of the main mesh configuration document.
	ConfigFile string
	Config     Config
}

// Module is the façade of the module communication layer. It owns the
// requirement resolver, the command registry, the variable bus, the readiness
// gate, and the single dispatch goroutine started in Initialize.
//
// Identity (module id, prefix, config path) is fixed at construction. All
// configuration documents are loaded and validated in NewModule; a module
// that constructs successfully will not fail later for configuration reasons.
type Module struct {
	moduleID   string
	prefix     string
	configFile string
	config     Config

	docs     *manifest.Resolved
	resolver *Resolver
	disp     *dispatcher

	nc        *comms.Conn
	commands  *CommandRegistry
	variables *VariableBus
	publisher events.EventPublisher

	mu          sync.Mutex
	initialized bool
	ready       bool
}

// NewModule loads the module's configuration documents and constructs the
// façade. The transport is not touched until Initialize.
func NewModule(params NewModuleParams) (*Module, error) {
	if params.ModuleID == "" {
		return nil, NewMeshError(CodeInvalidArgument, "module id is required")
	}

	cfg := params.Config
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = comms.DefaultURL
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.DispatchQueueDepth <= 0 {
		cfg.DispatchQueueDepth = defaultDispatchQueueDepth
	}

	docs, err := manifest.Load(params.Prefix, params.ConfigFile, params.ModuleID)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load configuration documents: %w", moduleLogPrefix, err)
	}

	return &Module{
		moduleID:   params.ModuleID,
		prefix:     params.Prefix,
		configFile: params.ConfigFile,
		config:     cfg,
		docs:       docs,
		resolver:   NewResolver(params.ModuleID, docs.Connections()),
		disp:       newDispatcher(cfg.DispatchQueueDepth),
	}, nil
}

// Initialize connects to the broker, starts the dispatch goroutine, and
// returns this module's own manifest document so the embedding application
// can self-validate against its expected interface. Registrations made after
// Initialize stay dormant until SignalReady opens delivery.
func (m *Module) Initialize() (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil, NewMeshError(CodeAlreadyInitialized,
			fmt.Sprintf("module %q already initialized", m.moduleID))
	}

	name := m.config.ConnectionName
	if name == "" {
		name = m.moduleID
	}
	nc, err := commsutil.Connect(m.config.BrokerURL, name, &commsutil.ConnectOpts{
		Timeout:       m.config.ConnectTimeout,
		ReconnectWait: m.config.ReconnectWait,
		MaxReconnects: m.config.MaxReconnects,
	})
	if err != nil {
		return nil, &MeshError{Code: CodeUnreachable,
			Message: fmt.Sprintf("failed to reach broker at %s", m.config.BrokerURL), Details: err.Error()}
	}

	m.nc = nc
	m.commands = newCommandRegistry(m.moduleID, nc, m.resolver, m.disp, m.config.CallTimeout)
	m.variables = newVariableBus(m.moduleID, nc, m.resolver, m.disp)

	m.publisher = m.config.Publisher
	if m.publisher == nil {
		m.publisher = events.NewCommsPublisher(nc, nil)
	}

	m.disp.start()
	m.initialized = true

	slog.Info(fmt.Sprintf("%s - Module %s (type %s) initialized", moduleLogPrefix, m.moduleID, m.docs.ModuleType))
	return m.docs.ManifestDoc(), nil
}

// GetInterface returns the definition document for a named interface. It is a
// pure lookup, independent of any live connection.
func (m *Module) GetInterface(name string) (map[string]interface{}, error) {
	doc, ok := m.docs.InterfaceDoc(name)
	if !ok {
		return nil, NewMeshError(CodeNotFound, fmt.Sprintf("unknown interface %q", name))
	}
	return doc, nil
}

// SignalReady transitions the module from registering capabilities to actively
// serving. The onReady callback runs exactly once, synchronously, before
// delivery opens. A second call is a programming error.
func (m *Module) SignalReady(onReady func()) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return NewMeshError(CodeNotInitialized, "SignalReady before Initialize")
	}
	if m.ready {
		m.mu.Unlock()
		return NewMeshError(CodeAlreadyReady,
			fmt.Sprintf("module %q already signalled ready", m.moduleID))
	}
	m.ready = true
	m.mu.Unlock()

	if onReady != nil {
		onReady()
	}

	event := &events.ModuleReadyEvent{
		ModuleID:   m.moduleID,
		ModuleType: m.docs.ModuleType,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.publisher.PublishReady(context.Background(), event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to announce readiness of %s: %v", moduleLogPrefix, m.moduleID, err))
	}

	m.disp.openGate()
	slog.Info(fmt.Sprintf("%s - Module %s is ready", moduleLogPrefix, m.moduleID))
	return nil
}

// ProvideCommand registers a handler serving this module's own
// (implementationID, name) command.
func (m *Module) ProvideCommand(implementationID, name string, handler CommandHandler) error {
	if err := m.requireInitialized(); err != nil {
		return err
	}
	return m.commands.Provide(implementationID, name, handler)
}

// SubscribeVariable subscribes to the variable stream of the peer filling
// slot 0 of the named requirement.
func (m *Module) SubscribeVariable(implementationID, name string, handler VariableHandler) error {
	return m.SubscribeVariableSlot(implementationID, 0, name, handler)
}

// SubscribeVariableSlot subscribes to a specific requirement slot.
func (m *Module) SubscribeVariableSlot(implementationID string, slot int, name string, handler VariableHandler) error {
	if err := m.requireInitialized(); err != nil {
		return err
	}
	return m.variables.Subscribe(implementationID, slot, name, handler)
}

// CallCommand calls a command on the peer filling slot 0 of the named
// requirement, blocking until a response or the configured timeout.
func (m *Module) CallCommand(implementationID, name string, args map[string]interface{}) (interface{}, error) {
	return m.CallCommandSlot(implementationID, 0, name, args)
}

// CallCommandSlot calls a command on a specific requirement slot.
func (m *Module) CallCommandSlot(implementationID string, slot int, name string, args map[string]interface{}) (interface{}, error) {
	if err := m.requireInitialized(); err != nil {
		return nil, err
	}
	return m.commands.Call(implementationID, slot, name, args)
}

// PublishVariable publishes a value under this module's own
// (implementationID, name) identity, fire-and-forget.
func (m *Module) PublishVariable(implementationID, name string, value interface{}) error {
	if err := m.requireInitialized(); err != nil {
		return err
	}
	return m.variables.Publish(implementationID, name, value)
}

// ModuleID returns this module's identity.
func (m *Module) ModuleID() string {
	return m.moduleID
}

// Connected reports whether the broker connection is up.
func (m *Module) Connected() bool {
	m.mu.Lock()
	nc := m.nc
	m.mu.Unlock()
	return nc != nil && nc.IsConnected()
}

// Ping verifies the broker connection with a full round trip, bounded by ctx.
func (m *Module) Ping(ctx context.Context) error {
	m.mu.Lock()
	nc := m.nc
	initialized := m.initialized
	m.mu.Unlock()

	if !initialized || nc == nil || !nc.IsConnected() {
		return NewMeshError(CodeUnreachable, "broker connection is down")
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return &MeshError{Code: CodeUnreachable, Message: "broker round trip failed", Details: err.Error()}
	}
	return nil
}

// Ready reports whether SignalReady has been called.
func (m *Module) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Close drains subscriptions, stops the dispatch goroutine, and closes the
// broker connection. Safe to call on a never-initialized module.
//
// The lock is released before the dispatch goroutine is joined: a handler
// still running on it may call back into the façade, and must not find Close
// holding the lock it needs. Such a handler observes NOT_INITIALIZED and
// finishes; its message is lost, which is what shutdown means.
func (m *Module) Close() {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = false
	commands, variables, nc := m.commands, m.variables, m.nc
	m.mu.Unlock()

	commands.close()
	variables.close()
	m.disp.stop()
	if err := nc.Drain(); err != nil {
		slog.Warn(fmt.Sprintf("%s - drain: %v", moduleLogPrefix, err))
	}
	slog.Info(fmt.Sprintf("%s - Module %s closed", moduleLogPrefix, m.moduleID))
}

func (m *Module) requireInitialized() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return NewMeshError(CodeNotInitialized,
			fmt.Sprintf("module %q used before Initialize", m.moduleID))
	}
	return nil
}
