package plugin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type storeOp struct {
	Write bool
	Key   string
	Value any
}

type recordingStore struct {
	mu     sync.Mutex
	values map[string]any
	ops    []storeOp
}

func newRecordingStore(values map[string]any) *recordingStore {
	if values == nil {
		values = map[string]any{}
	}
	return &recordingStore{values: values}
}

func (s *recordingStore) Get(_ context.Context, key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, storeOp{Key: key})
	return s.values[key], nil
}

func (s *recordingStore) Set(_ context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, storeOp{Write: true, Key: key, Value: value})
	s.values[key] = value
	return nil
}

func (s *recordingStore) value(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

func (s *recordingStore) opsFor(key string) []storeOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storeOp
	for _, op := range s.ops {
		if op.Key == key {
			out = append(out, op)
		}
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

type recordingObserver struct {
	mu    sync.Mutex
	loads map[string]LoadOutcome
	hooks map[string]HookOutcome
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{loads: map[string]LoadOutcome{}, hooks: map[string]HookOutcome{}}
}

func (o *recordingObserver) ObserveLoad(_ string, key string, outcome LoadOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loads[key] = outcome
}

func (o *recordingObserver) ObserveHook(_ string, key string, hook Hook, outcome HookOutcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hooks[key+"/"+string(hook)] = outcome
}

func (o *recordingObserver) hook(key string, hook Hook) HookOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hooks[key+"/"+string(hook)]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServices(store ConfigStore, notifier Notifier, resolver Resolver) Services {
	return Services{
		Store:               store,
		Notifier:            notifier,
		Resolver:            resolver,
		Logger:              discardLogger(),
		Audit:               discardLogger(),
		ConfigurationFolder: "",
	}
}

type manifestSpec struct {
	Category  string
	Name      string
	Priority  *int
	MyMusic   bool
	ConfFiles []string
}

func intPtr(v int) *int { return &v }

// writePlugin lays out <root>/<category>/<name>/package.json.
func writePlugin(t *testing.T, root string, spec manifestSpec) string {
	t.Helper()
	folder := filepath.Join(root, spec.Category, spec.Name)
	require.NoError(t, os.MkdirAll(folder, 0o755))
	m := Manifest{
		Name:    spec.Name,
		Version: "1.0.0",
		Main:    "plugin.so",
		VolumioInfo: VolumioInfo{
			PluginType:         spec.Category,
			BootPriority:       spec.Priority,
			IsMyMusicPlugin:    spec.MyMusic,
			ConfigurationFiles: spec.ConfFiles,
		},
	}
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(folder, ManifestFile), raw, 0o644))
	return folder
}

func waitFor(t *testing.T, c *Completion) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-c.Done():
		return c.Err()
	case <-ctx.Done():
		t.Fatalf("completion did not settle in time")
		return nil
	}
}

// Plugin doubles.

type bare struct{}

type conformingPlugin struct {
	mu     sync.Mutex
	calls  []Hook
	result func(Hook) *Completion
}

func (p *conformingPlugin) record(h Hook) *Completion {
	p.mu.Lock()
	p.calls = append(p.calls, h)
	p.mu.Unlock()
	if p.result != nil {
		return p.result(h)
	}
	return Completed()
}

func (p *conformingPlugin) OnLoad() *Completion  { return p.record(HookLoad) }
func (p *conformingPlugin) OnStart() *Completion { return p.record(HookStart) }
func (p *conformingPlugin) OnStop() *Completion  { return p.record(HookStop) }

func (p *conformingPlugin) hooks() []Hook {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Hook(nil), p.calls...)
}

type errorStarter struct{ called bool }

func (p *errorStarter) OnStart() error {
	p.called = true
	return nil
}

type nilStarter struct{}

func (nilStarter) OnStart() *Completion { return nil }

type panicStarter struct{}

func (panicStarter) OnStart() *Completion { panic("kaboom") }
