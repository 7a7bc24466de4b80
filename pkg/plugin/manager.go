package plugin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Manager owns the plugin pipelines of the host and boots them in order.
type Manager struct {
	cfg       ManagerConfig
	svc       Services
	pipelines []*Pipeline
	byName    map[string]*Pipeline
	runID     string
}

// Option configures the manager.
type Option func(*Manager)

// WithResource exposes a host service to every plugin context.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		m.svc.Contexts.Register(key, value)
	}
}

// WithLogger overrides the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.svc.Logger = l
		}
	}
}

// WithObserver registers an observer for lifecycle outcomes.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.svc.Observer = o
		}
	}
}

// NewManager constructs a manager using the supplied configuration, services
// and options.
func NewManager(cfg ManagerConfig, svc Services, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	if svc.Contexts == nil {
		svc.Contexts = NewContextFactory(context.Background())
	}
	if svc.ConfigurationFolder == "" {
		svc.ConfigurationFolder = cfg.ConfigurationFolder
	}
	m := &Manager{
		cfg:    cfg,
		svc:    svc,
		byName: make(map[string]*Pipeline),
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.svc = m.svc.withDefaults()
	m.svc.Logger = m.svc.Logger.With(slog.String("run", m.runID))
	for _, name := range cfg.PipelineNames() {
		pc := cfg.Pipelines[name]
		p, err := NewPipeline(PipelineOptions{
			Scope: Scope{
				Pipeline:                 name,
				Namespace:                pc.Namespace,
				NotifyProtocolViolations: pc.NotifyProtocolViolations,
			},
			SearchPaths:          pc.SearchPaths,
			SequentialPriorities: cfg.SequentialPriorities,
		}, m.svc)
		if err != nil {
			return nil, fmt.Errorf("build pipeline %s: %w", name, err)
		}
		m.pipelines = append(m.pipelines, p)
		m.byName[name] = p
	}
	return m, nil
}

// RunID identifies this manager instance in logs.
func (m *Manager) RunID() string { return m.runID }

// Pipelines returns the pipelines in boot order.
func (m *Manager) Pipelines() []*Pipeline { return append([]*Pipeline(nil), m.pipelines...) }

// Pipeline returns a pipeline by name.
func (m *Manager) Pipeline(name string) (*Pipeline, bool) {
	p, ok := m.byName[name]
	return p, ok
}

// StartPlugins boots each pipeline in boot order. A pipeline's start pass is
// issued once all of its candidates are registered, and the next pipeline
// follows without waiting for any hook. Each plugin's OnStart still waits for
// its own OnLoad, so a hook that never settles only holds back its plugin.
// The returned completion settles once every hook of the boot has settled
// and never fails.
func (m *Manager) StartPlugins(ctx context.Context) *Completion {
	return Go(func() error {
		var branches []*Completion
		for _, p := range m.pipelines {
			m.banner(fmt.Sprintf("%s plugins startup", p.Name()))
			pass := p.BeginLoad(ctx)
			// Wait only fails once ctx is cancelled.
			if pass.Registered.Wait(ctx) != nil {
				break
			}
			branches = append(branches, pass.Loaded, p.StartAll(ctx))
		}
		_ = settle(branches).Wait(ctx)
		return nil
	})
}

// StopPlugins issues the stop pass of each pipeline in reverse boot order
// without waiting for earlier passes, so a hung OnStop only holds back its
// own plugin. The returned completion settles once every OnStop has settled
// and never fails.
func (m *Manager) StopPlugins(ctx context.Context) *Completion {
	branches := make([]*Completion, 0, len(m.pipelines))
	for i := len(m.pipelines) - 1; i >= 0; i-- {
		p := m.pipelines[i]
		m.banner(fmt.Sprintf("%s plugins shutdown", p.Name()))
		branches = append(branches, p.StopAll(ctx))
	}
	return settle(branches)
}

func (m *Manager) banner(title string) {
	m.svc.Logger.Info("-------------------------------------------")
	m.svc.Logger.Info(title)
	m.svc.Logger.Info("-------------------------------------------")
}

// Lookup finds a plugin across pipelines in boot order.
func (m *Manager) Lookup(category, name string) (*Entry, *Pipeline, bool) {
	for _, p := range m.pipelines {
		if e, ok := p.Registry().Get(category, name); ok {
			return e, p, true
		}
	}
	return nil, nil, false
}

// GetPlugin returns the plugin instance registered under category and name.
// It is nil for unknown plugins and for plugins that failed to load.
func (m *Manager) GetPlugin(category, name string) any {
	e, _, ok := m.Lookup(category, name)
	if !ok {
		return nil
	}
	return e.Instance
}

// StartPlugin starts a single plugin. Unknown plugins yield a completed
// signal.
func (m *Manager) StartPlugin(ctx context.Context, category, name string) *Completion {
	_, p, ok := m.Lookup(category, name)
	if !ok {
		return Completed()
	}
	m.svc.Logger.Info("PLUGIN START: "+name, slog.String("category", category), slog.String("pipeline", p.Name()))
	return p.Start(ctx, category, name)
}

// StopPlugin stops a single plugin. Unknown plugins yield a completed signal.
func (m *Manager) StopPlugin(ctx context.Context, category, name string) *Completion {
	_, p, ok := m.Lookup(category, name)
	if !ok {
		return Completed()
	}
	m.svc.Logger.Info("PLUGIN STOP: "+name, slog.String("category", category), slog.String("pipeline", p.Name()))
	return p.Stop(ctx, category, name)
}

// PluginState is a registry entry flattened for reporting.
type PluginState struct {
	Pipeline string `json:"pipeline"`
	Category string `json:"category"`
	Name     string `json:"name"`
	Folder   string `json:"folder"`
	Version  string `json:"version,omitempty"`
	Loaded   bool   `json:"loaded"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// States reports every registered plugin across pipelines.
func (m *Manager) States(ctx context.Context) []PluginState {
	var out []PluginState
	for _, p := range m.pipelines {
		for _, e := range p.Registry().Entries() {
			st := PluginState{
				Pipeline: p.Name(),
				Category: e.Category,
				Name:     e.Name,
				Folder:   e.Folder,
				Loaded:   e.Instance != nil,
			}
			if e.Manifest != nil {
				st.Version = e.Manifest.Version
			}
			if e.LoadErr != nil {
				st.Error = e.LoadErr.Error()
			}
			if status, err := p.Status(ctx, e.Category, e.Name); err == nil {
				st.Status = status
			}
			out = append(out, st)
		}
	}
	return out
}

// Plans returns the most recent load plan of each pipeline.
func (m *Manager) Plans() map[string]*LoadPlan {
	out := make(map[string]*LoadPlan, len(m.pipelines))
	for _, p := range m.pipelines {
		if plan := p.Plan(); plan != nil {
			out[p.Name()] = plan
		}
	}
	return out
}
