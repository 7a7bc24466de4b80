package plugin

import (
	"context"
	"errors"
	"log/slog"

	"PluginHost/pkg/logger"
)

// Services bundles the host collaborators shared by every pipeline.
type Services struct {
	// Store holds the enabled flags and persisted statuses. Required.
	Store ConfigStore
	// Notifier surfaces failures to users. Defaults to dropping them.
	Notifier Notifier
	// Translator resolves user-facing messages. Defaults to echoing keys.
	Translator Translator
	// Provisioner installs configuration files. Defaults to FileProvisioner.
	Provisioner Provisioner
	// Resolver maps manifests to constructors. Defaults to GoPluginResolver.
	Resolver Resolver
	// Manifests reads plugin descriptors. Defaults to JSONManifestReader.
	Manifests ManifestReader
	// MusicSources collects music source plugins. Optional.
	MusicSources MusicSourceRegistrar
	// Observer receives lifecycle outcomes. Optional.
	Observer Observer
	// Contexts builds plugin contexts. Defaults to a factory exposing the
	// services above.
	Contexts *ContextFactory
	// Logger and Audit default to the process loggers.
	Logger *slog.Logger
	Audit  *slog.Logger
	// ConfigurationFolder is where plugin configuration files are installed.
	ConfigurationFolder string
}

// Validate reports missing mandatory services.
func (s Services) Validate() error {
	if s.Store == nil {
		return errors.New("plugin services: config store is required")
	}
	return nil
}

func (s Services) withDefaults() Services {
	if s.Notifier == nil {
		s.Notifier = nopNotifier{}
	}
	if s.Translator == nil {
		s.Translator = keyTranslator{}
	}
	if s.Provisioner == nil {
		s.Provisioner = FileProvisioner{}
	}
	if s.Resolver == nil {
		s.Resolver = GoPluginResolver{}
	}
	if s.Manifests == nil {
		s.Manifests = JSONManifestReader{}
	}
	if s.Observer == nil {
		s.Observer = nopObserver{}
	}
	if s.Logger == nil {
		s.Logger = logger.Named("plugin")
	}
	if s.Audit == nil {
		s.Audit = logger.Audit()
	}
	if s.Contexts == nil {
		s.Contexts = NewContextFactory(context.Background())
	}
	s.Contexts.Register(ResourceSettings, s.Store)
	s.Contexts.Register(ResourceNotifier, s.Notifier)
	s.Contexts.Register(ResourceTranslator, s.Translator)
	s.Contexts.Register(ResourceLogger, s.Logger)
	return s
}

// Scope identifies one pipeline instantiation.
type Scope struct {
	// Pipeline names the pipeline in logs and metrics.
	Pipeline string
	// Namespace prefixes every settings key. Empty means plain keys.
	Namespace string
	// NotifyProtocolViolations pushes a notification when OnStart violates
	// the completion protocol.
	NotifyProtocolViolations bool
}

// SettingKey returns "[ns.]<category>.<name>.<field>".
func (s Scope) SettingKey(category, name, field string) string {
	key := Key(category, name) + "." + field
	if s.Namespace == "" {
		return key
	}
	return s.Namespace + "." + key
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) error { return nil }
