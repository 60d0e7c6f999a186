package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-agent-coordinator/internal/eventbus"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func decode(t *testing.T, out *bytes.Buffer) map[string]any {
	t.Helper()
	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got), out.String())
	return got
}

func TestRunInProcess(t *testing.T) {
	path := writeConfig(t, `
log:
  level: error
memory:
  initial:
    user:
      name: Alice
`)
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"--config", path, "-q", "I live in NYC."}, &out, &errOut)
	require.NoError(t, err, errOut.String())

	got := decode(t, &out)
	assert.Equal(t, "Noted: I live in NYC.", got["answer"])
	mem := got["memory"].(map[string]any)
	assert.Equal(t, map[string]any{"name": "Alice"}, mem["user"])
	assert.Equal(t, map[string]any{"last_request": "I live in NYC."}, mem["conversation"])
	assert.NotEmpty(t, got["correlation_id"])
	assert.Greater(t, got["traces"], float64(0))

	stats := got["stats"].(map[string]any)
	assert.Equal(t, float64(0), stats["Failures"])
}

func TestRunWithRedis(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	path := writeConfig(t, `
log:
  level: error
redis:
  enabled: true
  addr: `+s.Addr()+`
  memory_key: test:memory
tracer:
  sink: redis
`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := eventbus.NewRedisBus(&redis.Options{Addr: s.Addr()}, nil)
	defer bus.Close()
	traces, err := bus.SubscribePattern(ctx, "coordinator.trace.*")
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	require.NoError(t, run(ctx, []string{"--config", path}, &out, &errOut), errOut.String())

	select {
	case rec := <-traces:
		assert.NotEmpty(t, rec.Kind)
	case <-time.After(time.Second):
		t.Fatal("no trace record published")
	}
	assert.Greater(t, decode(t, &out)["traces"], float64(0))

	value := s.HGet("test:memory", "value")
	require.NotEmpty(t, value, "working memory should be mirrored")
	var mirrored map[string]any
	require.NoError(t, json.Unmarshal([]byte(value), &mirrored))
	assert.Contains(t, mirrored, "conversation")
}

func TestRunRejectsUnknownRoute(t *testing.T) {
	path := writeConfig(t, `
log:
  level: error
routes:
  - kind: user.request
    agents: [nobody]
`)
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"--config", path}, &out, &errOut)
	assert.ErrorContains(t, err, "nobody")
}

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"--help"}, &out, &errOut)
	assert.Error(t, err)
	assert.Contains(t, errOut.String(), "--config")
}

func TestRunLoadsEnvFile(t *testing.T) {
	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte("COORDINATOR_TRACER_SINK=none\nCOORDINATOR_LOG_LEVEL=error\n"), 0o600))
	// godotenv never overrides a variable that is already set, even to "".
	t.Setenv("COORDINATOR_TRACER_SINK", "")
	t.Setenv("COORDINATOR_LOG_LEVEL", "")
	os.Unsetenv("COORDINATOR_TRACER_SINK")
	os.Unsetenv("COORDINATOR_LOG_LEVEL")

	var out, errOut bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--env-file", env}, &out, &errOut), errOut.String())
	got := decode(t, &out)
	assert.NotContains(t, got, "traces", "the none sink keeps no records")
}
