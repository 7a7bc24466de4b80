package plugin

import (
	"context"
	"log/slog"
	"maps"
	"sync"
)

// A plugin instance may implement any subset of the interfaces below; none is
// required. A hook method with any other signature is a protocol violation.

// LoadHook is invoked once after instantiation.
type LoadHook interface {
	OnLoad() *Completion
}

// StartHook is invoked when the plugin is started.
type StartHook interface {
	OnStart() *Completion
}

// StopHook is invoked when the plugin is stopped.
type StopHook interface {
	OnStop() *Completion
}

// ConfigurationProvider lists the configuration files a plugin ships with
// defaults for.
type ConfigurationProvider interface {
	GetConfigurationFiles() []string
}

// Environment variable names seeded into every plugin context.
const (
	EnvCategory = "category"
	EnvName     = "name"
)

// Resource keys under which the host exposes its services.
const (
	ResourceSettings   = "host:settings"
	ResourceNotifier   = "host:notifier"
	ResourceTranslator = "host:translator"
	ResourceLogger     = "host:logger"

	// ResourceMusicSources is registered by hosts that expose a music source registry.
	ResourceMusicSources = "host:musicSources"
)

// Context is handed to a plugin constructor. It exposes the host services and
// the plugin's environment variables.
type Context struct {
	// C is the host context the plugin was loaded under.
	C context.Context
	// Resources exposes shared services supplied by the host application.
	Resources map[string]any

	mu  sync.RWMutex
	env map[string]string
}

// SetEnvVariable sets a named environment variable.
func (c *Context) SetEnvVariable(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.env == nil {
		c.env = make(map[string]string)
	}
	c.env[key] = value
}

// EnvVariable returns a named environment variable or "".
func (c *Context) EnvVariable(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.env[key]
}

// Category returns the plugin category the context was built for.
func (c *Context) Category() string { return c.EnvVariable(EnvCategory) }

// Name returns the plugin name the context was built for.
func (c *Context) Name() string { return c.EnvVariable(EnvName) }

// Resource returns a host service by key.
func (c *Context) Resource(key string) (any, bool) {
	v, ok := c.Resources[key]
	return v, ok
}

// Settings returns the host settings store, if one was provided.
func (c *Context) Settings() ConfigStore {
	store, _ := c.Resources[ResourceSettings].(ConfigStore)
	return store
}

// Logger returns a logger scoped to the plugin.
func (c *Context) Logger() *slog.Logger {
	base, ok := c.Resources[ResourceLogger].(*slog.Logger)
	if !ok || base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("category", c.Category()), slog.String("name", c.Name()))
}

// ContextFactory builds a fresh Context for every plugin instantiation.
type ContextFactory struct {
	base      context.Context
	mu        sync.RWMutex
	resources map[string]any
}

// NewContextFactory returns a factory whose contexts derive from base.
func NewContextFactory(base context.Context) *ContextFactory {
	if base == nil {
		base = context.Background()
	}
	return &ContextFactory{base: base, resources: make(map[string]any)}
}

// Register exposes a host service to every context built afterwards.
func (f *ContextFactory) Register(key string, value any) {
	if key == "" || value == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[key] = value
}

// New builds a context for the given plugin. Each context owns a copy of the
// resource map so plugins cannot see each other's mutations.
func (f *ContextFactory) New(category, name string) *Context {
	f.mu.RLock()
	resources := maps.Clone(f.resources)
	f.mu.RUnlock()
	ctx := &Context{C: f.base, Resources: resources}
	ctx.SetEnvVariable(EnvCategory, category)
	ctx.SetEnvVariable(EnvName, name)
	return ctx
}
