package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(Component("timer"), Tag("first"))

	log.Info("fired", Tag("second"), Int64("remaining", 3), Err(errors.New("boom")), Err(nil), Stack(" "))
	log.Trace("hidden")

	recs := records(t, buf.Bytes())
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, "fired", r["message"])
	assert.Equal(t, "info", r["level"])
	assert.Equal(t, "timer", r["comp"])
	assert.Equal(t, "second", r["tag"])
	assert.Equal(t, float64(3), r["remaining"])
	assert.Equal(t, "boom", r["err"])
	assert.NotContains(t, r, "stack")
	assert.True(t, strings.HasPrefix(r["caller"].(string), "logx_test.go:"), r["caller"])
}

func TestLogByName(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "info")
	log.Log("WARNING", "a")
	log.Log("debug", "b")
	log.Log("nonsense", "c")

	recs := records(t, buf.Bytes())
	require.Len(t, recs, 2)
	assert.Equal(t, "warn", recs[0]["level"])
	assert.Equal(t, "info", recs[1]["level"])
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" Warning ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.TraceLevel, ParseLevel("TRACE", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("", zerolog.InfoLevel))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("loud", zerolog.ErrorLevel))

	assert.True(t, ValidLevel(""))
	assert.True(t, ValidLevel("error"))
	assert.False(t, ValidLevel("loud"))
}

func TestZeroAndNopLoggers(t *testing.T) {
	t.Parallel()
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Error("dropped")
	assert.False(t, zero.Enabled(zerolog.ErrorLevel) && zero.Enabled(zerolog.TraceLevel))

	nop := Nop()
	assert.False(t, nop.IsZero())
	nop.With(Component("x")).Info("dropped")
}

func TestServiceApplySwapsOutputs(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a", "tickd.log")
	second := filepath.Join(dir, "b.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	defer svc.Close()
	derived := log.With(Component("app"))

	derived.Debug("below level")
	derived.Info("one")

	require.NoError(t, svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: second}}))
	assert.Equal(t, "debug", svc.Config().Level)
	derived.Debug("two")

	b, err := os.ReadFile(first)
	require.NoError(t, err)
	recs := records(t, b)
	require.Len(t, recs, 1)
	assert.Equal(t, "one", recs[0]["message"])
	assert.Equal(t, "app", recs[0]["comp"])

	b, err = os.ReadFile(second)
	require.NoError(t, err)
	recs = records(t, b)
	require.Len(t, recs, 1)
	assert.Equal(t, "two", recs[0]["message"])
}

func TestServiceApplyReportsBadFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	var console bytes.Buffer
	svc := &Service{stdout: &console}
	err := svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: filepath.Join(blocker, "x.log")}})
	require.Error(t, err)

	svc.Logger().Info("still logged")
	assert.Contains(t, console.String(), "still logged")
}
