package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"

	"pathsched/internal/lifecycle"
	"pathsched/internal/pathsvc"
	"pathsched/internal/rpc"
	"pathsched/internal/schedule"
	"pathsched/internal/storage"
	"pathsched/internal/task/scheduler"
	logx "pathsched/pkg/logx"
)

func newNode(t *testing.T) string {
	t.Helper()
	store := storage.New(storage.NewMemory(), logx.Nop())
	eng := scheduler.New(scheduler.Config{Timezone: "UTC"}, store, nil, logx.Nop())
	f := lifecycle.New(lifecycle.Config{}, eng, store, pathsvc.NewMemory(logx.Nop()), logx.Nop())
	eng.SetLifecycle(f.Hooks())
	srv := rpc.NewServer(rpc.Config{Version: "test"}, f, func() rpc.NodeStatus { return rpc.NodeStatus{} }, logx.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts.URL
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, Execute(append([]string{"pathsched"}, args...), &out))
	return out.String()
}

func TestSetupQueryCancel(t *testing.T) {
	url := newNode(t)

	out := run(t, "--rpc", url, "setup", "-w", "3", "--at", "22:30",
		"devA", "devB", "0", "backup", "04-03-2024", "45")
	assert.Contains(t, out, "scheduled devA/backup")
	assert.Contains(t, out, "2024-03-06 22:30")

	out = run(t, "--rpc", url, "query", "--id", "devA/backup")
	assert.Contains(t, out, "startDate          : 04-03-2024")
	assert.Contains(t, out, "lspStatus          : SCHEDULED_NONE")
	assert.Contains(t, out, "lsp duration       : 45")
	assert.Contains(t, out, "repeat Pattern     : WEEKLY")
	assert.Contains(t, out, "day of week        : WEDNESDAY")

	assert.Contains(t, run(t, "--rpc", url, "query", "devA/missing"), "Path does not exist.")

	assert.Contains(t, run(t, "--rpc", url, "cancel", "devA/backup"), "cancelled devA/backup")
	assert.Contains(t, run(t, "--rpc", url, "cancel", "devA/backup"), "Path does not exist.")
	assert.Contains(t, run(t, "--rpc", url, "query"), "No scheduled paths.")
	assert.Contains(t, run(t, "--rpc", url, "failed"), "No failed paths.")
}

func TestDisplayMonthly(t *testing.T) {
	var buf bytes.Buffer
	display(&buf, lifecycle.PathStatus{
		Key:             "devA/m",
		StartDate:       "31-01-2024",
		Status:          schedule.StatusActive,
		TunnelState:     pathsvc.StateEstablished,
		DurationMinutes: 60,
		Rule:            schedule.RuleSpec{Pattern: schedule.PatternMonthly, Time: "09:00", Day: 31},
		NextFire:        time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC),
	})
	out := buf.String()
	assert.Contains(t, out, "lspStatus          : ACTIVE_ESTABLISHED")
	assert.Contains(t, out, "repeat date        : 31")
	assert.Contains(t, out, "next fire          : 2024-02-29 09:00 UTC")
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("storage:\n  driver: memory\n"), 0o644))
	assert.Contains(t, run(t, "--config", good, "check-config"), "good.yaml: ok")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"leader": {"mode": "raft"}}`), 0o644))

	exitCode := -1
	prev := cli.OsExiter
	cli.OsExiter = func(code int) { exitCode = code }
	t.Cleanup(func() { cli.OsExiter = prev })
	cli.ErrWriter = &bytes.Buffer{}

	err := Execute([]string{"pathsched", "--config", bad, "check-config"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader.mode")
	assert.Equal(t, 2, exitCode)
}
