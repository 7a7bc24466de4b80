package plugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
)

// Loader turns candidate folders into registry entries.
type Loader struct {
	scope    Scope
	registry *Registry
	driver   *Driver
	svc      Services
}

// NewLoader returns a loader that registers into registry and runs OnLoad
// through driver. svc must carry a Store.
func NewLoader(scope Scope, registry *Registry, driver *Driver, svc Services) *Loader {
	svc = svc.withDefaults()
	if driver == nil {
		driver = NewDriver(scope, registry, svc)
	}
	return &Loader{scope: scope, registry: registry, driver: driver, svc: svc}
}

// Load loads the plugin in folder. Disabled plugins are skipped without a
// registry entry. An enabled plugin is always registered, with a nil
// instance when it could not be constructed. The returned completion is the
// one of the plugin's OnLoad hook.
func (l *Loader) Load(ctx context.Context, folder string) *Completion {
	return l.load(ctx, folder, func() {})
}

// load runs Load and calls registered once the entry is in the registry.
func (l *Loader) load(ctx context.Context, folder string, registered func()) *Completion {
	manifest, err := l.svc.Manifests.ReadManifest(folder)
	if err != nil {
		l.svc.Logger.Warn("plugin manifest unreadable", slog.String("pipeline", l.scope.Pipeline),
			slog.String("path", folder), slog.Any("error", err))
		l.svc.Observer.ObserveLoad(l.scope.Pipeline, folder, LoadSkipped)
		return Completed()
	}
	category, name := manifest.Category(), manifest.Name
	log := l.svc.Logger.With(
		slog.String("pipeline", l.scope.Pipeline),
		slog.String("category", category),
		slog.String("name", name),
	)

	if !l.enabled(ctx, log, category, name) {
		log.Info("plugin is not enabled")
		l.svc.Observer.ObserveLoad(l.scope.Pipeline, manifest.Key(), LoadDisabled)
		return Completed()
	}

	log.Info("loading plugin", slog.String("path", folder))
	entry := &Entry{Category: category, Name: name, Folder: folder, Manifest: manifest, loaded: NewCompletion()}
	instance, err := l.instantiate(category, name, folder, manifest)
	if err == nil {
		entry.Instance = instance
		err = l.provision(manifest, instance, folder, log)
	}
	if err != nil {
		entry.LoadErr = &InstantiationError{Category: category, Name: name, Err: err}
		l.contain(ctx, log, entry)
		l.svc.Observer.ObserveLoad(l.scope.Pipeline, entry.Key(), LoadFailed)
	} else {
		l.svc.Observer.ObserveLoad(l.scope.Pipeline, entry.Key(), LoadLoaded)
	}

	l.registry.Set(entry)
	registered()
	c := l.driver.Invoke(ctx, entry, HookLoad)
	go func() {
		<-c.Done()
		entry.loaded.Resolve()
	}()
	return c
}

func (l *Loader) enabled(ctx context.Context, log *slog.Logger, category, name string) bool {
	v, err := l.svc.Store.Get(ctx, l.scope.SettingKey(category, name, settingEnabled))
	if err != nil {
		log.Warn("read plugin enabled flag", slog.Any("error", err))
		return false
	}
	enabled, ok := v.(bool)
	return ok && enabled
}

func (l *Loader) instantiate(category, name, folder string, manifest *Manifest) (instance any, err error) {
	defer func() {
		if r := recover(); r != nil {
			instance, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	ctor, err := l.svc.Resolver.Resolve(folder, manifest)
	if err != nil {
		return nil, err
	}
	pctx := l.svc.Contexts.New(category, name)
	instance, err = ctor(pctx)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, ErrNoInstance
	}
	return instance, nil
}

// provision installs the configuration files the plugin declares, taken from
// the instance or, failing that, from its manifest.
func (l *Loader) provision(manifest *Manifest, instance any, folder string, log *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	var files []string
	if p, ok := instance.(ConfigurationProvider); ok {
		files = p.GetConfigurationFiles()
	} else {
		files = manifest.VolumioInfo.ConfigurationFiles
	}
	if len(files) == 0 {
		return nil
	}
	configFolder := filepath.Join(l.svc.ConfigurationFolder, manifest.Category(), manifest.Name)
	required := filepath.Join(folder, RequiredConfigurationFile)
	for _, file := range files {
		clean := filepath.Clean("/" + file)
		dest := filepath.Join(configFolder, clean)
		copied, err := l.svc.Provisioner.CopyIfMissing(filepath.Join(folder, clean), dest)
		if err != nil {
			return err
		}
		if copied {
			continue
		}
		if _, err := os.Stat(required); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		log.Info("applying required configuration parameters", slog.String("file", dest))
		if err := l.svc.Provisioner.ApplyRequiredParameters(required, dest); err != nil {
			return err
		}
	}
	return nil
}

// contain reports a failed load and marks the plugin stopped.
func (l *Loader) contain(ctx context.Context, log *slog.Logger, entry *Entry) {
	attrs := []any{slog.Any("error", entry.LoadErr)}
	if stack := stackOf(entry.LoadErr); stack != "" {
		attrs = append(attrs, slog.String("stack", stack))
	}
	log.Error("plugin failed to load, setting it to stopped", attrs...)
	l.driver.notifyFailure(ctx, entry)
	l.driver.writeStatus(ctx, entry, StatusStopped)
}

// LoadPass tracks one LoadAll pass.
type LoadPass struct {
	// Registered settles once every candidate has been registered or skipped.
	Registered *Completion
	// Loaded settles once every OnLoad hook has settled.
	Loaded *Completion
}

// LoadAll loads every folder of plan. By default every folder is dispatched
// at once; with sequential set, each priority bucket's OnLoad hooks are
// awaited before the next bucket is issued, so Registered only settles once
// the last bucket has been registered. Neither completion ever fails.
func (l *Loader) LoadAll(ctx context.Context, plan *LoadPlan, sequential bool) *LoadPass {
	if !sequential {
		var regs, loads []*Completion
		for _, prio := range plan.Priorities() {
			for _, folder := range plan.Folders(prio) {
				reg, load := l.dispatch(ctx, folder)
				regs, loads = append(regs, reg), append(loads, load)
			}
		}
		return &LoadPass{Registered: settle(regs), Loaded: settle(loads)}
	}

	registered := NewCompletion()
	loaded := Go(func() error {
		defer registered.Resolve()
		prios := plan.Priorities()
		var regs []*Completion
		for i, prio := range prios {
			folders := plan.Folders(prio)
			loads := make([]*Completion, 0, len(folders))
			for _, folder := range folders {
				reg, load := l.dispatch(ctx, folder)
				regs, loads = append(regs, reg), append(loads, load)
			}
			if i == len(prios)-1 {
				<-settle(regs).Done()
				registered.Resolve()
			}
			<-settle(loads).Done()
		}
		return nil
	})
	return &LoadPass{Registered: registered, Loaded: loaded}
}

func (l *Loader) dispatch(ctx context.Context, folder string) (registered, loaded *Completion) {
	registered = NewCompletion()
	loaded = Go(func() error {
		defer registered.Resolve()
		return l.load(ctx, folder, registered.Resolve).Wait(context.Background())
	})
	return registered, loaded
}
