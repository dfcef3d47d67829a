package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticktock/internal/config"
	"ticktock/internal/storage"
	"ticktock/internal/task/timer"
	logx "ticktock/pkg/logx"
)

const testConfig = `
logging:
  level: error
  file: { enabled: true, path: %q }
storage: { driver: file, path: %q }
scheduler: { failure_log_every: 1s }
tasks:
  - tag: countdown
    policy: countdown
    period: 20ms
    take_while: 2
    on_tick: { type: log, level: debug, message: "{tag} {remaining}" }
    on_complete: { type: start, target: later }
  - tag: later
    policy: delay
    initial_delay: 10ms
    manual: true
    on_complete: { type: log, message: "later fired" }
  - tag: heartbeat
    policy: loop
    period: 15ms
    on_complete: { type: log, level: debug, message: "beat" }
`

type notifications struct {
	mu     sync.Mutex
	states []string
}

func (n *notifications) notify(state string) (bool, error) {
	n.mu.Lock()
	n.states = append(n.states, state)
	n.mu.Unlock()
	return true, nil
}

func (n *notifications) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.states...)
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "tickd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newTestApp(t *testing.T) (*App, *notifications, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tickd.db")
	path := writeConfig(t, dir, fmt.Sprintf(testConfig, filepath.Join(dir, "tickd.log"), dbPath))

	n := &notifications{}
	a, err := NewApp(path, WithNotifier(n.notify))
	require.NoError(t, err)
	return a, n, dbPath
}

func journal(t *testing.T, dbPath string, q storage.Query) []storage.Entry {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: dbPath, MaxEntries: 1000}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	out, err := st.Recent(context.Background(), q)
	require.NoError(t, err)
	return out
}

func events(entries []storage.Entry) []string {
	out := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].Event)
	}
	return out
}

func TestAppRunsDeclaredTasks(t *testing.T) {
	a, n, dbPath := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	// countdown completes and its on_complete starts the manual task.
	assert.Eventually(t, func() bool {
		info, ok, err := a.Scheduler().Lookup(ctx, "heartbeat")
		if err != nil || !ok || info.Fires < 3 {
			return false
		}
		_, running, _ := a.Scheduler().Lookup(ctx, "countdown")
		entries, err := a.History(ctx, storage.Query{Tag: "later"})
		return err == nil && !running && len(entries) > 0 && entries[0].Event == "completed"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, a.LogStatus(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	require.NoError(t, a.Err())

	assert.Equal(t,
		[]string{"started", "fired", "fired", "fired", "completed"},
		events(journal(t, dbPath, storage.Query{Tag: "countdown"})))
	assert.Equal(t,
		[]string{"started", "fired", "completed"},
		events(journal(t, dbPath, storage.Query{Tag: "later"})))

	beats := journal(t, dbPath, storage.Query{Tag: "heartbeat", Limit: 1})
	require.Len(t, beats, 1)
	assert.Equal(t, "cancelled", beats[0].Event)

	states := n.all()
	require.NotEmpty(t, states)
	assert.True(t, strings.HasPrefix(states[0], "READY=1"))
	assert.Equal(t, "STOPPING=1", states[len(states)-1])
}

func TestStartTaskUnknownTag(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(context.Background(), StopAppStop)

	err := a.StartTask("heartbeet")
	require.ErrorIs(t, err, ErrUnknownTask)
	assert.Contains(t, err.Error(), `did you mean "heartbeat"`)

	err = a.StartTask("zzzzzzzzzz")
	require.ErrorIs(t, err, ErrUnknownTask)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestApplyConfigRestartsChangedTasks(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(context.Background(), StopAppStop)

	old := a.cfgm.Get()
	next := *old
	next.Tasks = []config.TaskConfig{
		old.Tasks[0], // countdown, unchanged
		{
			Tag:        "later",
			Policy:     "delay",
			Manual:     true,
			OnComplete: &config.ActionConfig{Type: "log", Message: "changed"},
		},
		{
			Tag:        "ping",
			Policy:     "loop",
			Period:     "1h",
			OnComplete: &config.ActionConfig{Type: "log", Message: "ping"},
		},
	}
	require.NoError(t, config.Validate(&next))

	reloaded, unsubscribe := a.Bus().Subscribe(4, EventConfigReloaded)
	defer unsubscribe()
	a.applyConfig(old, &next)

	select {
	case ev := <-reloaded:
		changes, ok := ev.Data.(config.TaskChanges)
		require.True(t, ok)
		assert.Equal(t, []string{"ping"}, changes.Added)
		assert.Equal(t, []string{"heartbeat"}, changes.Removed)
		assert.Equal(t, []string{"later"}, changes.Changed)
	case <-time.After(time.Second):
		t.Fatal("no reload event")
	}

	require.NoError(t, a.Scheduler().Sync(ctx))
	_, ok, err := a.Scheduler().Lookup(ctx, "heartbeat")
	require.NoError(t, err)
	assert.False(t, ok)

	info, ok, err := a.Scheduler().Lookup(ctx, "ping")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, timer.KindLoop, info.Kind)
	assert.Equal(t, time.Hour, info.Period)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
tasks:
  - tag: tickd.mine
    policy: loop
    period: 1s
    on_complete: { type: log, message: x }
`)
	_, err := NewApp(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	_, enabled, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}})
	assert.ErrorContains(t, err, "storage.path is required")

	sc, enabled, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "x.db"}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	sc, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"}})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, sc.BusyTimeout)
}
