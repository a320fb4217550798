package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTypedString(t *testing.T) *Typed[string] {
	t.Helper()
	c, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	typed, err := NewTyped[string](c, nil)
	if err != nil {
		t.Fatal(err)
	}
	return typed
}

func userKey(id int) (string, error) { return fmt.Sprintf("user:%d", id), nil }

func TestCached_HitSkipsOperation(t *testing.T) {
	var calls atomic.Int32
	fn := Cached(newTypedString(t), userKey, time.Minute, func(_ context.Context, id int) (string, error) {
		calls.Add(1)
		return fmt.Sprintf("user-%d", id), nil
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := fn(ctx, 7)
		if err != nil || got != "user-7" {
			t.Fatalf("call %d = %q, %v", i, got, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("operation called %d times, want 1", calls.Load())
	}
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("upstream down")
	fn := Cached(newTypedString(t), userKey, time.Minute, func(context.Context, int) (string, error) {
		if calls.Add(1) == 1 {
			return "", boom
		}
		return "ok", nil
	})
	ctx := context.Background()

	if _, err := fn(ctx, 1); !errors.Is(err, boom) {
		t.Fatalf("first call error = %v, want %v", err, boom)
	}
	if got, err := fn(ctx, 1); err != nil || got != "ok" {
		t.Fatalf("second call = %q, %v; want ok", got, err)
	}
	if calls.Load() != 2 {
		t.Errorf("operation called %d times, want 2", calls.Load())
	}
}

func TestCached_KeyErrorRunsUncached(t *testing.T) {
	var calls atomic.Int32
	badKey := func(int) (string, error) { return "", errors.New("no key") }
	fn := Cached(newTypedString(t), badKey, time.Minute, func(context.Context, int) (string, error) {
		calls.Add(1)
		return "v", nil
	})

	_, _ = fn(context.Background(), 1)
	_, _ = fn(context.Background(), 1)
	if calls.Load() != 2 {
		t.Errorf("operation called %d times, want 2", calls.Load())
	}
}

func TestCached_CoalescesConcurrentMisses(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	fn := Cached(newTypedString(t), userKey, time.Minute, func(context.Context, int) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	})

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = fn(context.Background(), 42)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("operation called %d times, want 1", got)
	}
	for i, r := range results {
		if r != "shared" {
			t.Errorf("result[%d] = %q", i, r)
		}
	}
}

func TestKeyFromKeyer(t *testing.T) {
	key := KeyFromKeyer[map[string]any](NewDefaultKeyer(), "search")
	a, err := key(map[string]any{"q": "go", "page": 1})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := key(map[string]any{"page": 1, "q": "go"})
	if a != b {
		t.Errorf("keys differ: %s vs %s", a, b)
	}
}

func TestCached_CancelledCallerDoesNotFailSharedCall(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var (
		opErr atomic.Value
		once  sync.Once
	)
	fn := Cached(newTypedString(t), userKey, time.Minute, func(ctx context.Context, id int) (string, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
			opErr.Store(ctx.Err())
			return "", ctx.Err()
		}
		return fmt.Sprintf("user-%d", id), nil
	})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := fn(first, 3)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := fn(context.Background(), 3)
		second <- result{v, err}
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}
	close(release)

	got := <-second
	if got.err != nil || got.v != "user-3" {
		t.Fatalf("second caller = %q, %v; want user-3", got.v, got.err)
	}
	if err := opErr.Load(); err != nil {
		t.Errorf("shared operation saw cancellation: %v", err)
	}
}
