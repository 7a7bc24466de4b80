package plugin

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Pipeline is one discover/load/start/stop chain with its own registry and
// search paths. The host runs one for core plugins and one for extensions.
type Pipeline struct {
	scope       Scope
	searchPaths []string
	sequential  bool

	registry   *Registry
	discoverer *Discoverer
	loader     *Loader
	driver     *Driver
	svc        Services

	mu       sync.RWMutex
	lastPlan *LoadPlan
}

// PipelineOptions parametrizes a pipeline.
type PipelineOptions struct {
	Scope       Scope
	SearchPaths []string
	// SequentialPriorities awaits each priority bucket before the next.
	SequentialPriorities bool
}

// NewPipeline wires a pipeline over fresh registry state.
func NewPipeline(opts PipelineOptions, svc Services) (*Pipeline, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	svc = svc.withDefaults()
	registry := NewRegistry()
	driver := NewDriver(opts.Scope, registry, svc)
	return &Pipeline{
		scope:       opts.Scope,
		searchPaths: slices.Clone(opts.SearchPaths),
		sequential:  opts.SequentialPriorities,
		registry:    registry,
		discoverer:  NewDiscoverer(svc.Manifests, svc.MusicSources, svc.Logger),
		loader:      NewLoader(opts.Scope, registry, driver, svc),
		driver:      driver,
		svc:         svc,
	}, nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.scope.Pipeline }

// SearchPaths returns the roots the pipeline discovers plugins under.
func (p *Pipeline) SearchPaths() []string { return slices.Clone(p.searchPaths) }

// Registry returns the pipeline's registry.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Plan returns the plan of the most recent discovery pass, or nil.
func (p *Pipeline) Plan() *LoadPlan {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPlan
}

// Discover runs a discovery pass over the search paths.
func (p *Pipeline) Discover(ctx context.Context) *DiscoveryResult {
	for _, root := range p.searchPaths {
		p.svc.Logger.Info("loading plugins from folder",
			slog.String("pipeline", p.scope.Pipeline), slog.String("path", root))
	}
	res := p.discoverer.Discover(ctx, p.searchPaths)
	p.mu.Lock()
	p.lastPlan = res.Plan
	p.mu.Unlock()
	return res
}

// BeginLoad discovers every plugin and dispatches their loads.
func (p *Pipeline) BeginLoad(ctx context.Context) *LoadPass {
	res := p.Discover(ctx)
	return p.loader.LoadAll(ctx, res.Plan, p.sequential)
}

// LoadAll discovers and loads every plugin and completes once every OnLoad
// hook has settled. It never fails.
func (p *Pipeline) LoadAll(ctx context.Context) *Completion { return p.BeginLoad(ctx).Loaded }

// StartAll starts every registered plugin. It never fails.
func (p *Pipeline) StartAll(ctx context.Context) *Completion { return p.driver.StartAll(ctx) }

// StopAll stops every registered plugin. It never fails.
func (p *Pipeline) StopAll(ctx context.Context) *Completion { return p.driver.StopAll(ctx) }

// Start starts a single plugin.
func (p *Pipeline) Start(ctx context.Context, category, name string) *Completion {
	return p.driver.Start(ctx, category, name)
}

// Stop stops a single plugin.
func (p *Pipeline) Stop(ctx context.Context, category, name string) *Completion {
	return p.driver.Stop(ctx, category, name)
}

// Status returns the persisted status of a plugin.
func (p *Pipeline) Status(ctx context.Context, category, name string) (string, error) {
	return p.driver.Status(ctx, category, name)
}
