package rpc

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pathsched/internal/lifecycle"
	"pathsched/internal/pathsvc"
	"pathsched/internal/storage"
	"pathsched/internal/task/scheduler"
	logx "pathsched/pkg/logx"
)

const testToken = "test-rpc-secret"

func newTestServer(t *testing.T, token string) (*httptest.Server, *Client) {
	t.Helper()
	store := storage.New(storage.NewMemory(), logx.Nop())
	eng := scheduler.New(scheduler.Config{Timezone: "UTC"}, store, nil, logx.Nop())
	f := lifecycle.New(lifecycle.Config{}, eng, store, pathsvc.NewMemory(logx.Nop()), logx.Nop())
	eng.SetLifecycle(f.Hooks())

	srv := NewServer(Config{Token: token, Version: "test", Node: "n1"}, f, func() NodeStatus {
		return NodeStatus{Leader: eng.Active()}
	}, logx.Nop())
	ts := httptest.NewServer(srv.Handler())
	c := Dial(ts.URL, token, 5*time.Second)
	t.Cleanup(func() {
		_ = c.Close()
		ts.Close()
		srv.Close()
	})
	return ts, c
}

func setupReq(name string) lifecycle.SetupRequest {
	return lifecycle.SetupRequest{
		Source:          "devA",
		Destination:     "devB",
		Name:            name,
		StartDate:       "01-03-2024",
		DurationMinutes: 60,
		Daily:           "09:00",
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, c := newTestServer(t, testToken)

	v, err := c.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, "test", v.Version)
	require.Equal(t, "n1", v.Node)
	require.False(t, v.Status.Leader)

	res, err := c.Setup(ctx, setupReq("p1"))
	require.NoError(t, err)
	require.Equal(t, "devA/p1", res.Key)
	require.True(t, res.NextFire.Equal(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)))

	paths, err := c.Query(ctx, "")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, "SCHEDULED_NONE", paths[0].LspStatus())

	failed, err := c.Failed(ctx)
	require.NoError(t, err)
	require.Empty(t, failed.Paths)

	found, err := c.Cancel(ctx, "devA/p1")
	require.NoError(t, err)
	require.True(t, found)

	found, err = c.Cancel(ctx, "devA/p1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestErrorCodes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, c := newTestServer(t, testToken)

	bad := setupReq("p1")
	bad.Mode = 7
	_, err := c.Setup(ctx, bad)
	require.Error(t, err)
	require.True(t, IsInvalid(err), "err = %v", err)

	_, err = c.Query(ctx, "devA/none")
	require.True(t, IsNotFound(err), "err = %v", err)

	_, err = c.Cancel(ctx, "")
	require.True(t, IsInvalid(err), "err = %v", err)
}

func TestRequireToken(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, testToken)
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"system.version"}`)

	for _, tc := range []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"no prefix", testToken, http.StatusUnauthorized},
		{"ok", "Bearer " + testToken, http.StatusOK},
	} {
		req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, tc.want, resp.StatusCode, tc.name)
	}
}

func TestNoTokenAllowsAll(t *testing.T) {
	t.Parallel()
	_, c := newTestServer(t, "")
	_, err := c.Version(context.Background())
	require.NoError(t, err)
}
