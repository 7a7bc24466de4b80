package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	apperrors "PluginHost/internal/errors"
)

type fakeHash struct {
	data map[string]map[string]string
	err  error
}

func (f *fakeHash) HGet(_ context.Context, key, field string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	value, ok := f.data[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeHash) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	if f.data == nil {
		f.data = make(map[string]map[string]string)
	}
	if f.data[key] == nil {
		f.data[key] = make(map[string]string)
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.data[key][values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func TestRedisStoreStoresJSONInHash(t *testing.T) {
	ctx := context.Background()
	client := &fakeHash{}
	store := newRedisStore(client, "")

	if err := store.Set(ctx, "audio.alpha.enabled", true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if raw := client.data["pluginhost:settings"]["audio.alpha.enabled"]; raw != "true" {
		t.Fatalf("unexpected raw value %q", raw)
	}
	got, err := store.Get(ctx, "audio.alpha.enabled")
	if err != nil || got != true {
		t.Fatalf("unexpected value %v err %v", got, err)
	}
	got, err = store.Get(ctx, "audio.beta.enabled")
	if err != nil || got != nil {
		t.Fatalf("missing field should be nil, got %v err %v", got, err)
	}
}

func TestRedisStoreWrapsBackendErrors(t *testing.T) {
	store := newRedisStore(&fakeHash{err: errors.New("connection reset")}, "custom")
	_, err := store.Get(context.Background(), "audio.alpha.status")
	if apperrors.CodeOf(err) != apperrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	err = store.Set(context.Background(), "audio.alpha.status", "STOPPED")
	if !apperrors.RetryableError(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close without client: %v", err)
	}
}
