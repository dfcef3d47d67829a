package looper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func startLoop(t *testing.T, opts ...Option) *Looper {
	t.Helper()
	l := New(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("loop did not stop")
		}
	})
	return l
}

// recorder collects values appended from the loop goroutine.
type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) add(s string) func() {
	return func() {
		r.mu.Lock()
		r.got = append(r.got, s)
		r.mu.Unlock()
	}
}

func (r *recorder) values() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestLooperOrdersByTimeThenPostOrder(t *testing.T) {
	t.Parallel()
	clk := NewManualClock(epoch)
	l := startLoop(t, WithClock(clk))
	ctx := context.Background()

	var rec recorder
	require.True(t, l.PostDelayed(nil, 2*time.Second, rec.add("c")))
	require.True(t, l.PostDelayed(nil, time.Second, rec.add("a")))
	require.True(t, l.PostDelayed(nil, time.Second, rec.add("b")))
	require.True(t, l.Post(rec.add("now")))

	require.NoError(t, l.Sync(ctx))
	assert.Equal(t, []string{"now"}, rec.values())

	clk.Advance(time.Second)
	require.NoError(t, l.Sync(ctx))
	assert.Equal(t, []string{"now", "a", "b"}, rec.values())

	clk.Advance(time.Second)
	require.NoError(t, l.Sync(ctx))
	assert.Equal(t, []string{"now", "a", "b", "c"}, rec.values())
	assert.Equal(t, 0, l.Len())
}

func TestLooperRemoveByOwner(t *testing.T) {
	t.Parallel()
	clk := NewManualClock(epoch)
	l := startLoop(t, WithClock(clk))

	type owner struct{ name string }
	a, b := &owner{"a"}, &owner{"b"}

	var rec recorder
	l.PostDelayed(a, time.Second, rec.add("a1"))
	l.PostDelayed(a, 2*time.Second, rec.add("a2"))
	l.PostDelayed(b, time.Second, rec.add("b1"))

	assert.True(t, l.Has(a))
	assert.Equal(t, 2, l.Remove(a))
	assert.False(t, l.Has(a))
	assert.Equal(t, 0, l.Remove(a))
	assert.Equal(t, 0, l.Remove(nil))
	assert.True(t, l.Has(b))

	clk.Advance(3 * time.Second)
	require.NoError(t, l.Sync(context.Background()))
	assert.Equal(t, []string{"b1"}, rec.values())
}

func TestLooperSurvivesPanickingMessage(t *testing.T) {
	t.Parallel()
	l := startLoop(t)

	var rec recorder
	l.Post(func() { panic("boom") })
	l.Post(rec.add("after"))
	require.NoError(t, l.Sync(context.Background()))

	assert.Equal(t, []string{"after"}, rec.values())
	_, panics := l.Stats()
	assert.Equal(t, uint64(1), panics)
}

func TestLooperDropsPostsAfterQuit(t *testing.T) {
	t.Parallel()
	l := New()
	assert.True(t, l.Alive())
	assert.True(t, l.Post(func() {}))

	l.Quit()
	l.Quit()

	assert.False(t, l.Alive())
	assert.Equal(t, 0, l.Len())
	assert.False(t, l.Post(func() {}))
	assert.False(t, l.PostDelayed("x", time.Second, func() {}))
	assert.ErrorIs(t, l.Run(context.Background()), ErrQuit)
	assert.ErrorIs(t, l.Sync(context.Background()), ErrQuit)

	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed after Quit")
	}
}

func TestLooperQuitsWhenContextEnds(t *testing.T) {
	t.Parallel()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.NoError(t, l.Sync(context.Background()))
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, l.Alive())
}

func TestLooperRunTwice(t *testing.T) {
	t.Parallel()
	l := startLoop(t)
	require.NoError(t, l.Sync(context.Background()))
	assert.ErrorIs(t, l.Run(context.Background()), ErrRunning)
}

func TestLooperCallRunsOnLoop(t *testing.T) {
	t.Parallel()
	l := startLoop(t)

	n := 0
	for i := 0; i < 10; i++ {
		go l.Post(func() { n++ })
	}
	require.Eventually(t, func() bool {
		got := -1
		if err := l.Call(context.Background(), func() { got = n }); err != nil {
			return false
		}
		return got == 10
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLooperWakesForEarlierMessage(t *testing.T) {
	t.Parallel()
	l := startLoop(t)

	fired := make(chan struct{})
	l.PostDelayed(nil, time.Hour, func() {})
	require.NoError(t, l.Sync(context.Background()))
	l.PostDelayed(nil, 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not wake for the earlier message")
	}
}
