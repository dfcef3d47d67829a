package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticktock/internal/eventbus"
	"ticktock/internal/task/timer"
	logx "ticktock/pkg/logx"
)

func openTestStore(t *testing.T, driver string, maxEntries int) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "tickd.db"), MaxEntries: maxEntries}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		assert.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestStoreAppendAndRecent(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openTestStore(t, driver, 100)
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

			for i := 0; i < 5; i++ {
				tag := "a"
				if i%2 == 1 {
					tag = "b"
				}
				require.NoError(t, st.Append(ctx, Entry{
					ID: fmt.Sprintf("id-%d", i), At: base.Add(time.Duration(i) * time.Second),
					Tag: tag, Kind: "loop", Event: "fired", Fires: uint64(i),
				}))
			}
			require.NoError(t, st.Append(ctx, Entry{
				ID: "id-err", At: base.Add(10 * time.Second), Tag: "a", Kind: "loop",
				Event: "failed", Hook: "on_complete", Error: "boom",
			}))

			all, err := st.Recent(ctx, Query{Limit: 3})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "id-err", all[0].ID)
			assert.Equal(t, "boom", all[0].Error)
			assert.Equal(t, "on_complete", all[0].Hook)
			assert.Equal(t, "id-4", all[1].ID)
			assert.True(t, all[1].At.Equal(base.Add(4*time.Second)))

			onlyB, err := st.Recent(ctx, Query{Tag: "b"})
			require.NoError(t, err)
			require.Len(t, onlyB, 2)
			assert.Equal(t, "id-3", onlyB[0].ID)
			assert.Equal(t, "id-1", onlyB[1].ID)
		})
	}
}

func TestFileStoreCompacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t, "file", 10)

	for i := 0; i < 25; i++ {
		require.NoError(t, st.Append(ctx, Entry{ID: fmt.Sprint(i), Tag: "x", Event: "fired"}))
	}
	fs := st.(*fileStore)
	assert.LessOrEqual(t, fs.lines, 11)

	got, err := st.Recent(ctx, Query{Limit: 100})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), 11)
	assert.Equal(t, "24", got[0].ID)
}

func TestFileStoreReopenKeepsEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tickd.db")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Append(ctx, Entry{ID: "1", Tag: "x", Event: "started"}))
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.Append(ctx, Entry{ID: "2", Tag: "x"}), ErrClosed)

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, err := st.Recent(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "started", got[0].Event)
}

func TestEntryFromEvent(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)
	e, ok := EntryFromEvent(eventbus.Event{
		Type: timer.EventFailed,
		Time: at,
		Data: timer.TaskEvent{Tag: "cd", Kind: timer.KindCountDown, Remaining: 3, Fires: 2, Hook: "on_tick", Error: errors.New("bad")},
	})
	require.True(t, ok)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, Entry{
		ID: e.ID, At: at, Tag: "cd", Kind: "countdown", Event: "failed",
		Remaining: 3, Fires: 2, Hook: "on_tick", Error: "bad",
	}, e)

	_, ok = EntryFromEvent(eventbus.Event{Type: "other", Data: 42})
	assert.False(t, ok)
}

func TestRecorderWritesBusEvents(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, "file", 100)
	bus := eventbus.New()
	rec := NewRecorder(st, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	bus.Publish(eventbus.Event{Type: timer.EventStarted, Data: timer.TaskEvent{Tag: "job", Kind: timer.KindLoop}})
	bus.Publish(eventbus.Event{Type: "config.reloaded"})
	bus.Publish(eventbus.Event{Type: timer.EventFired, Data: timer.TaskEvent{Tag: "job", Kind: timer.KindLoop, Fires: 1}})

	require.Eventually(t, func() bool {
		got, err := st.Recent(context.Background(), Query{Tag: "job"})
		return err == nil && len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	got, err := st.Recent(context.Background(), Query{Tag: "job"})
	require.NoError(t, err)
	assert.Equal(t, "fired", got[0].Event)
	assert.Equal(t, "started", got[1].Event)
}
