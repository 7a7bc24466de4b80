package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"time"
)

// Driver invokes lifecycle hooks on the entries of one registry.
type Driver struct {
	scope    Scope
	registry *Registry
	svc      Services
}

// NewDriver returns a driver over registry. svc must carry a Store.
func NewDriver(scope Scope, registry *Registry, svc Services) *Driver {
	return &Driver{scope: scope, registry: registry, svc: svc.withDefaults()}
}

type hookKind int

const (
	hookAbsent hookKind = iota
	hookConforming
	hookViolating
)

// Invoke runs hook on entry and returns its completion. A missing instance
// or hook yields a completed signal. A hook that does not hand back a
// Completion is a protocol violation: it is logged and replaced by a
// completed signal. For start and stop the status is written once the hook
// has been called, whatever its outcome.
func (d *Driver) Invoke(ctx context.Context, entry *Entry, hook Hook) *Completion {
	if entry == nil || entry.Instance == nil {
		return Completed()
	}
	log := d.svc.Logger.With(
		slog.String("pipeline", d.scope.Pipeline),
		slog.String("category", entry.Category),
		slog.String("name", entry.Name),
		slog.String("hook", string(hook)),
	)

	began := time.Now()
	c, kind := callHook(entry.Instance, hook)
	switch kind {
	case hookAbsent:
		c = Completed()
		d.svc.Observer.ObserveHook(d.scope.Pipeline, entry.Key(), hook, HookAbsent, 0)
	case hookViolating:
		log.Error(fmt.Sprintf("plugin does not return a completion from %s: please update", hook),
			slog.Any("error", ErrProtocolViolation))
		if hook == HookStart && d.scope.NotifyProtocolViolations {
			d.notifyFailure(ctx, entry)
		}
		c = Completed()
		d.svc.Observer.ObserveHook(d.scope.Pipeline, entry.Key(), hook, HookViolation, time.Since(began))
	case hookConforming:
		go d.watch(log, entry.Key(), hook, c, began)
	}

	switch hook {
	case HookStart:
		d.writeStatus(ctx, entry, StatusStarted)
	case HookStop:
		d.writeStatus(ctx, entry, StatusStopped)
	}
	return c
}

func (d *Driver) watch(log *slog.Logger, key string, hook Hook, c *Completion, began time.Time) {
	<-c.Done()
	outcome := HookSucceeded
	if err := c.Err(); err != nil {
		outcome = HookRejected
		attrs := []any{slog.Any("error", err)}
		if stack := stackOf(err); stack != "" {
			attrs = append(attrs, slog.String("stack", stack))
		}
		log.Error("plugin hook failed", attrs...)
	}
	d.svc.Observer.ObserveHook(d.scope.Pipeline, key, hook, outcome, time.Since(began))
}

// callHook calls hook on instance. Conformance is decided by the method
// signature; a same-named method with another signature is still called.
func callHook(instance any, hook Hook) (c *Completion, kind hookKind) {
	defer func() {
		if r := recover(); r != nil {
			c, kind = Failed(&PanicError{Value: r, Stack: debug.Stack()}), hookConforming
		}
	}()
	switch hook {
	case HookLoad:
		if h, ok := instance.(LoadHook); ok {
			return conforming(h.OnLoad())
		}
	case HookStart:
		if h, ok := instance.(StartHook); ok {
			return conforming(h.OnStart())
		}
	case HookStop:
		if h, ok := instance.(StopHook); ok {
			return conforming(h.OnStop())
		}
	}
	method := reflect.ValueOf(instance).MethodByName(string(hook))
	if !method.IsValid() {
		return nil, hookAbsent
	}
	if t := method.Type(); t.NumIn() == 0 {
		method.Call(nil)
	}
	return nil, hookViolating
}

func conforming(c *Completion) (*Completion, hookKind) {
	if c == nil || c.done == nil {
		return nil, hookViolating
	}
	return c, hookConforming
}

func (d *Driver) writeStatus(ctx context.Context, entry *Entry, status string) {
	key := d.scope.SettingKey(entry.Category, entry.Name, settingStatus)
	if err := d.svc.Store.Set(ctx, key, status); err != nil {
		d.svc.Logger.Error("persist plugin status",
			slog.String("pipeline", d.scope.Pipeline),
			slog.String("key", key),
			slog.Any("error", err))
		return
	}
	d.svc.Audit.Info("plugin status",
		slog.String("pipeline", d.scope.Pipeline),
		slog.String("category", entry.Category),
		slog.String("name", entry.Name),
		slog.String("status", status))
}

func (d *Driver) notifyFailure(ctx context.Context, entry *Entry) {
	n := Notification{
		Level:    LevelError,
		Title:    entry.Name + " Plugin",
		Message:  d.svc.Translator.Translate(MessagePluginStartError),
		Category: entry.Category,
		Name:     entry.Name,
	}
	if err := d.svc.Notifier.Notify(ctx, n); err != nil {
		d.svc.Logger.Warn("notify plugin failure",
			slog.String("category", entry.Category),
			slog.String("name", entry.Name),
			slog.Any("error", err))
	}
}

// Start runs OnStart on the plugin registered under category and name. An
// unknown plugin yields a completed signal.
func (d *Driver) Start(ctx context.Context, category, name string) *Completion {
	entry, ok := d.registry.Get(category, name)
	if !ok {
		return Completed()
	}
	return d.Invoke(ctx, entry, HookStart)
}

// Stop runs OnStop on the plugin registered under category and name.
func (d *Driver) Stop(ctx context.Context, category, name string) *Completion {
	entry, ok := d.registry.Get(category, name)
	if !ok {
		return Completed()
	}
	return d.Invoke(ctx, entry, HookStop)
}

// StartAll starts every registered plugin and completes once all of them
// have. Each plugin is started once its own OnLoad hook has settled, so a
// pending OnLoad only holds back that plugin. It never fails.
func (d *Driver) StartAll(ctx context.Context) *Completion {
	return d.fanOut(func(e *Entry) *Completion {
		select {
		case <-e.loadDone():
		case <-ctx.Done():
			return Completed()
		}
		return d.Start(ctx, e.Category, e.Name)
	})
}

// StopAll stops every registered plugin and completes once all of them have.
// It never fails.
func (d *Driver) StopAll(ctx context.Context) *Completion {
	return d.fanOut(func(e *Entry) *Completion { return d.Stop(ctx, e.Category, e.Name) })
}

// fanOut dispatches fn for every entry on its own goroutine, so a hook that
// blocks before returning only stalls its own branch.
func (d *Driver) fanOut(fn func(*Entry) *Completion) *Completion {
	entries := d.registry.Entries()
	branches := make([]*Completion, 0, len(entries))
	for _, e := range entries {
		branches = append(branches, Go(func() error {
			return fn(e).Wait(context.Background())
		}))
	}
	return settle(branches)
}

// Status reads the persisted status of a plugin.
func (d *Driver) Status(ctx context.Context, category, name string) (string, error) {
	v, err := d.svc.Store.Get(ctx, d.scope.SettingKey(category, name, settingStatus))
	if err != nil || v == nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}
