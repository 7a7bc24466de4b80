package plugin

import (
	"context"
	"time"
)

// Hook names a lifecycle hook. The value is the Go method name looked up on a
// plugin instance.
type Hook string

const (
	// HookLoad runs once, right after a plugin has been instantiated.
	HookLoad Hook = "OnLoad"
	// HookStart activates a loaded plugin.
	HookStart Hook = "OnStart"
	// HookStop deactivates a running plugin.
	HookStop Hook = "OnStop"
)

// Status values persisted under "<category>.<name>.status".
const (
	StatusStarted = "STARTED"
	StatusStopped = "STOPPED"
)

// Setting fields read or written per plugin.
const (
	settingEnabled = "enabled"
	settingStatus  = "status"
)

// LoadOutcome describes how a load attempt ended.
type LoadOutcome string

const (
	LoadLoaded   LoadOutcome = "loaded"
	LoadDisabled LoadOutcome = "disabled"
	LoadFailed   LoadOutcome = "failed"
	LoadSkipped  LoadOutcome = "skipped"
)

// HookOutcome describes how a hook invocation ended.
type HookOutcome string

const (
	HookSucceeded HookOutcome = "succeeded"
	HookRejected  HookOutcome = "rejected"
	HookViolation HookOutcome = "violation"
	HookAbsent    HookOutcome = "absent"
)

// ConfigStore is the persistent key/value settings store. Get returns a nil
// value and no error for unknown keys.
type ConfigStore interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any) error
}

// Notification is a user-facing message pushed by the host.
type Notification struct {
	Level    string
	Title    string
	Message  string
	Category string
	Name     string
}

// Notification levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notifier delivers notifications to users.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Translator resolves message keys into localized strings.
type Translator interface {
	Translate(key string) string
}

// Message keys used by the host.
const (
	MessagePluginStartError = "PLUGINS.PLUGIN_START_ERROR"
)

// Observer receives lifecycle outcomes, typically to feed metrics.
type Observer interface {
	ObserveLoad(pipeline, key string, outcome LoadOutcome)
	ObserveHook(pipeline, key string, hook Hook, outcome HookOutcome, elapsed time.Duration)
}

// MusicSourceRegistrar collects manifests that declare a music source.
type MusicSourceRegistrar interface {
	AddMusicSource(manifest *Manifest)
}

type keyTranslator struct{}

func (keyTranslator) Translate(key string) string { return key }

type nopObserver struct{}

func (nopObserver) ObserveLoad(string, string, LoadOutcome) {}

func (nopObserver) ObserveHook(string, string, Hook, HookOutcome, time.Duration) {}
