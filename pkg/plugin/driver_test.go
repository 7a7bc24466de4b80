package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(store ConfigStore, notifier Notifier, scope Scope) (*Driver, *Registry, *recordingObserver) {
	registry := NewRegistry()
	svc := testServices(store, notifier, nil)
	obs := newRecordingObserver()
	svc.Observer = obs
	return NewDriver(scope, registry, svc), registry, obs
}

func TestInvokeWithoutInstanceIsNoop(t *testing.T) {
	store := newRecordingStore(nil)
	d, _, _ := newTestDriver(store, nil, Scope{Pipeline: "core"})

	entry := &Entry{Category: "audio", Name: "alpha"}
	require.NoError(t, waitFor(t, d.Invoke(context.Background(), entry, HookStart)))
	assert.Empty(t, store.opsFor("audio.alpha.status"))
}

func TestStartWithoutHookWritesStatus(t *testing.T) {
	store := newRecordingStore(nil)
	d, registry, obs := newTestDriver(store, nil, Scope{Pipeline: "core"})
	registry.Set(&Entry{Category: "audio", Name: "alpha", Instance: &bare{}})

	require.NoError(t, waitFor(t, d.Start(context.Background(), "audio", "alpha")))
	assert.Equal(t, StatusStarted, store.value("audio.alpha.status"))
	assert.Equal(t, HookAbsent, obs.hook("audio.alpha", HookStart))

	require.NoError(t, waitFor(t, d.Stop(context.Background(), "audio", "alpha")))
	assert.Equal(t, StatusStopped, store.value("audio.alpha.status"))
}

func TestStartUnknownPluginIsNoop(t *testing.T) {
	store := newRecordingStore(nil)
	d, _, _ := newTestDriver(store, nil, Scope{})
	require.NoError(t, waitFor(t, d.Start(context.Background(), "audio", "ghost")))
	assert.Empty(t, store.opsFor("audio.ghost.status"))
}

func TestProtocolViolationIsSubstituted(t *testing.T) {
	store := newRecordingStore(nil)
	notifier := &recordingNotifier{}
	d, registry, obs := newTestDriver(store, notifier, Scope{Pipeline: "core", NotifyProtocolViolations: true})
	starter := &errorStarter{}
	registry.Set(&Entry{Category: "audio", Name: "alpha", Instance: starter})

	require.NoError(t, waitFor(t, d.StartAll(context.Background())))
	assert.True(t, starter.called)
	assert.Equal(t, StatusStarted, store.value("audio.alpha.status"))
	assert.Equal(t, HookViolation, obs.hook("audio.alpha", HookStart))

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "alpha Plugin", sent[0].Title)
	assert.Equal(t, MessagePluginStartError, sent[0].Message)
}

func TestProtocolViolationWithoutNotification(t *testing.T) {
	notifier := &recordingNotifier{}
	d, registry, _ := newTestDriver(newRecordingStore(nil), notifier, Scope{Pipeline: "extension"})
	registry.Set(&Entry{Category: "audio", Name: "alpha", Instance: &errorStarter{}})

	require.NoError(t, waitFor(t, d.Start(context.Background(), "audio", "alpha")))
	assert.Empty(t, notifier.all())
}

func TestNilCompletionIsViolation(t *testing.T) {
	store := newRecordingStore(nil)
	d, registry, obs := newTestDriver(store, nil, Scope{})
	registry.Set(&Entry{Category: "audio", Name: "alpha", Instance: nilStarter{}})

	require.NoError(t, waitFor(t, d.Start(context.Background(), "audio", "alpha")))
	assert.Equal(t, HookViolation, obs.hook("audio.alpha", HookStart))
	assert.Equal(t, StatusStarted, store.value("audio.alpha.status"))
}

func TestPanickingHookFailsItsCompletion(t *testing.T) {
	store := newRecordingStore(nil)
	d, registry, _ := newTestDriver(store, nil, Scope{})
	registry.Set(&Entry{Category: "audio", Name: "alpha", Instance: panicStarter{}})

	err := waitFor(t, d.Start(context.Background(), "audio", "alpha"))
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusStarted, store.value("audio.alpha.status"))
}

func TestStatusWrittenBeforeHookSettles(t *testing.T) {
	store := newRecordingStore(nil)
	d, registry, _ := newTestDriver(store, nil, Scope{})
	pending := NewCompletion()
	registry.Set(&Entry{Category: "audio", Name: "alpha", Instance: &conformingPlugin{
		result: func(Hook) *Completion { return pending },
	}})

	c := d.Start(context.Background(), "audio", "alpha")
	assert.False(t, c.Settled())
	assert.Equal(t, StatusStarted, store.value("audio.alpha.status"))

	pending.Reject(errors.New("late failure"))
	assert.Error(t, waitFor(t, c))
}

func TestStartAllDoesNotShortCircuit(t *testing.T) {
	store := newRecordingStore(nil)
	d, registry, _ := newTestDriver(store, nil, Scope{})
	failing := &conformingPlugin{result: func(Hook) *Completion { return Failed(errors.New("nope")) }}
	slow := NewCompletion()
	waiting := &conformingPlugin{result: func(Hook) *Completion { return slow }}
	ok := &conformingPlugin{}
	registry.Set(&Entry{Category: "a", Name: "failing", Instance: failing})
	registry.Set(&Entry{Category: "a", Name: "waiting", Instance: waiting})
	registry.Set(&Entry{Category: "a", Name: "ok", Instance: ok})

	all := d.StartAll(context.Background())
	select {
	case <-all.Done():
		t.Fatal("StartAll completed before the slow hook")
	case <-time.After(30 * time.Millisecond):
	}

	slow.Resolve()
	require.NoError(t, waitFor(t, all))
	assert.Equal(t, []Hook{HookStart}, ok.hooks())
	assert.Equal(t, []Hook{HookStart}, failing.hooks())
	for _, name := range []string{"failing", "waiting", "ok"} {
		assert.Equal(t, StatusStarted, store.value("a."+name+".status"), name)
	}
}

func TestNamespacedStatusKeys(t *testing.T) {
	store := newRecordingStore(nil)
	d, registry, _ := newTestDriver(store, nil, Scope{Namespace: "myvolumio"})
	registry.Set(&Entry{Category: "audio", Name: "alpha", Instance: &bare{}})

	require.NoError(t, waitFor(t, d.Start(context.Background(), "audio", "alpha")))
	assert.Equal(t, StatusStarted, store.value("myvolumio.audio.alpha.status"))
	assert.Nil(t, store.value("audio.alpha.status"))

	status, err := d.Status(context.Background(), "audio", "alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, status)
}
