package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestPipeline(t *testing.T, roots []string, svc Services, sequential bool) *Pipeline {
	t.Helper()
	p, err := NewPipeline(PipelineOptions{
		Scope:                Scope{Pipeline: PipelineCore, NotifyProtocolViolations: true},
		SearchPaths:          roots,
		SequentialPriorities: sequential,
	}, svc)
	require.NoError(t, err)
	return p
}

func TestAlphaBetaScenario(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, manifestSpec{Category: "audio", Name: "alpha", Priority: intPtr(10)})
	writePlugin(t, root, manifestSpec{Category: "audio", Name: "beta"})

	store := newRecordingStore(map[string]any{
		"audio.alpha.enabled": true,
		"audio.beta.enabled":  false,
	})
	alpha := &bare{}
	var betaBuilt atomic.Bool
	resolver := NewFactoryResolver()
	resolver.Register("audio", "alpha", func(*Context) (any, error) { return alpha, nil })
	resolver.Register("audio", "beta", func(*Context) (any, error) {
		betaBuilt.Store(true)
		return &bare{}, nil
	})

	p := newTestPipeline(t, []string{root}, testServices(store, nil, resolver), false)
	require.NoError(t, waitFor(t, p.LoadAll(context.Background())))

	entries := p.Registry().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "audio.alpha", entries[0].Key())
	assert.Same(t, alpha, entries[0].Instance)
	assert.False(t, betaBuilt.Load())

	betaOps := store.opsFor("audio.beta.enabled")
	require.Len(t, betaOps, 1)
	assert.False(t, betaOps[0].Write)
	assert.Empty(t, store.opsFor("audio.beta.status"))

	require.NoError(t, waitFor(t, p.StartAll(context.Background())))
	assert.Equal(t, StatusStarted, store.value("audio.alpha.status"))
}

func TestGammaConstructorFailure(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, manifestSpec{Category: "video", Name: "gamma"})
	writePlugin(t, root, manifestSpec{Category: "video", Name: "delta"})

	store := newRecordingStore(map[string]any{
		"video.gamma.enabled": true,
		"video.delta.enabled": true,
	})
	notifier := &recordingNotifier{}
	delta := &conformingPlugin{}
	resolver := NewFactoryResolver()
	resolver.Register("video", "gamma", func(*Context) (any, error) { panic("boom") })
	resolver.Register("video", "delta", func(*Context) (any, error) { return delta, nil })

	p := newTestPipeline(t, []string{root}, testServices(store, notifier, resolver), false)
	require.NoError(t, waitFor(t, p.LoadAll(context.Background())))

	gamma, ok := p.Registry().Get("video", "gamma")
	require.True(t, ok)
	assert.Nil(t, gamma.Instance)
	assert.ErrorIs(t, gamma.LoadErr, ErrInstantiation)
	assert.Contains(t, gamma.LoadErr.Error(), "boom")
	assert.Equal(t, StatusStopped, store.value("video.gamma.status"))

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Title, "gamma")
	assert.Equal(t, LevelError, sent[0].Level)

	// The sibling loads as if gamma had never been there.
	d, ok := p.Registry().Get("video", "delta")
	require.True(t, ok)
	assert.Same(t, delta, d.Instance)
	assert.Equal(t, []Hook{HookLoad}, delta.hooks())

	// Lifecycle calls on the failed plugin are no-ops.
	require.NoError(t, waitFor(t, p.Start(context.Background(), "video", "gamma")))
	assert.Equal(t, StatusStopped, store.value("video.gamma.status"))
}

func TestConstructorErrorsAreContained(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, manifestSpec{Category: "audio", Name: "nil"})
	writePlugin(t, root, manifestSpec{Category: "audio", Name: "err"})
	writePlugin(t, root, manifestSpec{Category: "audio", Name: "unknown"})

	store := newRecordingStore(map[string]any{
		"audio.nil.enabled":     true,
		"audio.err.enabled":     true,
		"audio.unknown.enabled": true,
	})
	resolver := NewFactoryResolver()
	resolver.Register("audio", "nil", func(*Context) (any, error) { return nil, nil })
	resolver.Register("audio", "err", func(*Context) (any, error) { return nil, errors.New("bad config") })

	p := newTestPipeline(t, []string{root}, testServices(store, nil, resolver), false)
	require.NoError(t, waitFor(t, p.LoadAll(context.Background())))

	require.Equal(t, 3, p.Registry().Len())
	for name, want := range map[string]error{"nil": ErrNoInstance, "unknown": ErrEntryPointNotFound} {
		e, ok := p.Registry().Get("audio", name)
		require.True(t, ok, name)
		assert.ErrorIs(t, e.LoadErr, want, name)
	}
	for _, name := range []string{"nil", "err", "unknown"} {
		assert.Equal(t, StatusStopped, store.value("audio."+name+".status"), name)
	}
}

func TestEnabledMustBeExactlyTrue(t *testing.T) {
	root := t.TempDir()
	values := map[string]any{
		"audio.str.enabled":  "true",
		"audio.one.enabled":  1,
		"audio.nope.enabled": false,
	}
	var built atomic.Int32
	resolver := NewFactoryResolver()
	for _, name := range []string{"str", "one", "nope", "missing"} {
		writePlugin(t, root, manifestSpec{Category: "audio", Name: name})
		resolver.Register("audio", name, func(*Context) (any, error) {
			built.Add(1)
			return &bare{}, nil
		})
	}

	p := newTestPipeline(t, []string{root}, testServices(newRecordingStore(values), nil, resolver), false)
	require.NoError(t, waitFor(t, p.LoadAll(context.Background())))
	assert.Zero(t, p.Registry().Len())
	assert.Zero(t, built.Load())
}

func TestContextCarriesIdentityAndServices(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, manifestSpec{Category: "audio", Name: "alpha"})
	writePlugin(t, root, manifestSpec{Category: "audio", Name: "beta"})
	store := newRecordingStore(map[string]any{"audio.alpha.enabled": true, "audio.beta.enabled": true})

	var mu sync.Mutex
	seen := map[string]*Context{}
	ctor := func(ctx *Context) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		seen[ctx.Name()] = ctx
		ctx.Resources["scratch"] = ctx.Name()
		return &bare{}, nil
	}
	resolver := NewFactoryResolver()
	resolver.Register("audio", "alpha", ctor)
	resolver.Register("audio", "beta", ctor)

	p := newTestPipeline(t, []string{root}, testServices(store, nil, resolver), false)
	require.NoError(t, waitFor(t, p.LoadAll(context.Background())))

	require.Len(t, seen, 2)
	for name, ctx := range seen {
		assert.Equal(t, "audio", ctx.Category())
		assert.Equal(t, name, ctx.EnvVariable(EnvName))
		assert.Same(t, store, ctx.Settings())
		assert.Equal(t, name, ctx.Resources["scratch"])
		assert.NotNil(t, ctx.Logger())
	}
}

func TestNoCrossTalkBetweenEntries(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, manifestSpec{Category: "audio", Name: "alpha", Priority: intPtr(5)})
	writePlugin(t, root, manifestSpec{Category: "audio", Name: "beta", Priority: intPtr(5)})
	store := newRecordingStore(map[string]any{"audio.alpha.enabled": true, "audio.beta.enabled": true})

	alpha, beta := &conformingPlugin{}, &conformingPlugin{}
	resolver := NewFactoryResolver()
	resolver.Register("audio", "alpha", func(*Context) (any, error) { return alpha, nil })
	resolver.Register("audio", "beta", func(*Context) (any, error) { return beta, nil })

	p := newTestPipeline(t, []string{root}, testServices(store, nil, resolver), false)
	require.NoError(t, waitFor(t, p.LoadAll(context.Background())))
	betaBefore := *mustGet(t, p.Registry(), "audio", "beta")

	require.NoError(t, waitFor(t, p.Start(context.Background(), "audio", "alpha")))
	require.NoError(t, waitFor(t, p.Stop(context.Background(), "audio", "alpha")))

	assert.Equal(t, []Hook{HookLoad, HookStart, HookStop}, alpha.hooks())
	assert.Equal(t, []Hook{HookLoad}, beta.hooks())
	assert.Equal(t, betaBefore, *mustGet(t, p.Registry(), "audio", "beta"))
	assert.Empty(t, store.opsFor("audio.beta.status"))
}

func mustGet(t *testing.T, r *Registry, category, name string) *Entry {
	t.Helper()
	e, ok := r.Get(category, name)
	require.True(t, ok)
	return e
}

func TestLoadAllIssuesEveryBucketAtOnce(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, manifestSpec{Category: "a", Name: "early", Priority: intPtr(1)})
	writePlugin(t, root, manifestSpec{Category: "a", Name: "late", Priority: intPtr(2)})
	store := newRecordingStore(map[string]any{"a.early.enabled": true, "a.late.enabled": true})

	gate := NewCompletion()
	late := &conformingPlugin{}
	resolver := NewFactoryResolver()
	resolver.Register("a", "early", func(*Context) (any, error) {
		return &conformingPlugin{result: func(Hook) *Completion { return gate }}, nil
	})
	resolver.Register("a", "late", func(*Context) (any, error) { return late, nil })

	p := newTestPipeline(t, []string{root}, testServices(store, nil, resolver), false)
	all := p.LoadAll(context.Background())

	require.Eventually(t, func() bool { return len(late.hooks()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, all.Settled())
	gate.Resolve()
	require.NoError(t, waitFor(t, all))
}

func TestRegisteredSettlesBeforePendingOnLoad(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, manifestSpec{Category: "a", Name: "pending"})
	writePlugin(t, root, manifestSpec{Category: "a", Name: "off"})
	store := newRecordingStore(map[string]any{"a.pending.enabled": true})

	gate := NewCompletion()
	resolver := NewFactoryResolver()
	resolver.Register("a", "pending", func(*Context) (any, error) {
		return &conformingPlugin{result: func(Hook) *Completion { return gate }}, nil
	})

	p := newTestPipeline(t, []string{root}, testServices(store, nil, resolver), false)
	pass := p.BeginLoad(context.Background())

	require.NoError(t, waitFor(t, pass.Registered))
	assert.Equal(t, 1, p.Registry().Len())
	assert.False(t, pass.Loaded.Settled())
	gate.Resolve()
	require.NoError(t, waitFor(t, pass.Loaded))
}

func TestSequentialPrioritiesAwaitEachBucket(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, manifestSpec{Category: "a", Name: "early", Priority: intPtr(1)})
	writePlugin(t, root, manifestSpec{Category: "a", Name: "late", Priority: intPtr(2)})
	store := newRecordingStore(map[string]any{"a.early.enabled": true, "a.late.enabled": true})

	gate := NewCompletion()
	var lateBuilt atomic.Bool
	resolver := NewFactoryResolver()
	resolver.Register("a", "early", func(*Context) (any, error) {
		return &conformingPlugin{result: func(Hook) *Completion { return gate }}, nil
	})
	resolver.Register("a", "late", func(*Context) (any, error) {
		lateBuilt.Store(true)
		return &bare{}, nil
	})

	p := newTestPipeline(t, []string{root}, testServices(store, nil, resolver), true)
	all := p.LoadAll(context.Background())

	time.Sleep(30 * time.Millisecond)
	assert.False(t, lateBuilt.Load())
	gate.Resolve()
	require.NoError(t, waitFor(t, all))
	assert.True(t, lateBuilt.Load())
}

type provisioned struct{ files []string }

func (p provisioned) GetConfigurationFiles() []string { return p.files }

func TestLoadProvisionsConfiguration(t *testing.T) {
	root := t.TempDir()
	confRoot := t.TempDir()
	folder := writePlugin(t, root, manifestSpec{Category: "music_service", Name: "radio"})
	require.NoError(t, os.WriteFile(filepath.Join(folder, "config.json"), []byte(`{"bitrate":{"value":128}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, RequiredConfigurationFile), []byte(`{"timeout":{"value":10}}`), 0o644))

	store := newRecordingStore(map[string]any{"music_service.radio.enabled": true})
	resolver := NewFactoryResolver()
	resolver.Register("music_service", "radio", func(*Context) (any, error) {
		return provisioned{files: []string{"config.json"}}, nil
	})
	svc := testServices(store, nil, resolver)
	svc.ConfigurationFolder = confRoot

	dest := filepath.Join(confRoot, "music_service", "radio", "config.json")

	// First boot copies the bundled defaults.
	p := newTestPipeline(t, []string{root}, svc, false)
	require.NoError(t, waitFor(t, p.LoadAll(context.Background())))
	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bitrate":{"value":128}}`, string(raw))

	// Later boots keep user values and add required parameters.
	require.NoError(t, os.WriteFile(dest, []byte(`{"bitrate":{"value":320}}`), 0o644))
	p = newTestPipeline(t, []string{root}, svc, false)
	require.NoError(t, waitFor(t, p.LoadAll(context.Background())))
	raw, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(320), gjson.GetBytes(raw, "bitrate.value").Int())
	assert.Equal(t, int64(10), gjson.GetBytes(raw, "timeout.value").Int())
	assert.Nil(t, mustGet(t, p.Registry(), "music_service", "radio").LoadErr)
}

func TestProvisioningFailureKeepsInstance(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, manifestSpec{Category: "audio", Name: "alpha"})
	store := newRecordingStore(map[string]any{"audio.alpha.enabled": true})
	notifier := &recordingNotifier{}
	instance := &struct{ provisioned }{provisioned{files: []string{"missing.json"}}}
	resolver := NewFactoryResolver()
	resolver.Register("audio", "alpha", func(*Context) (any, error) { return instance, nil })
	svc := testServices(store, notifier, resolver)
	svc.ConfigurationFolder = t.TempDir()

	p := newTestPipeline(t, []string{root}, svc, false)
	require.NoError(t, waitFor(t, p.LoadAll(context.Background())))

	e := mustGet(t, p.Registry(), "audio", "alpha")
	assert.Same(t, instance, e.Instance)
	assert.ErrorIs(t, e.LoadErr, ErrInstantiation)
	assert.Equal(t, StatusStopped, store.value("audio.alpha.status"))
	assert.Len(t, notifier.all(), 1)
}

func TestManifestConfigurationFilesFallback(t *testing.T) {
	root := t.TempDir()
	confRoot := t.TempDir()
	folder := writePlugin(t, root, manifestSpec{Category: "audio", Name: "alpha", ConfFiles: []string{"config.json"}})
	require.NoError(t, os.WriteFile(filepath.Join(folder, "config.json"), []byte(`{}`), 0o644))
	store := newRecordingStore(map[string]any{"audio.alpha.enabled": true})
	resolver := NewFactoryResolver()
	resolver.Register("audio", "alpha", func(*Context) (any, error) { return &bare{}, nil })
	svc := testServices(store, nil, resolver)
	svc.ConfigurationFolder = confRoot

	p := newTestPipeline(t, []string{root}, svc, false)
	require.NoError(t, waitFor(t, p.LoadAll(context.Background())))
	assert.FileExists(t, filepath.Join(confRoot, "audio", "alpha", "config.json"))
}
