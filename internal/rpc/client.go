package rpc

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"

	"pathsched/internal/lifecycle"
)

// Client calls a pathsched node.
type Client struct {
	cli *jrpc2.Client
}

// Dial returns a client for the JSON-RPC endpoint at url. No connection is
// made until the first call.
func Dial(url, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	ch := jhttp.NewChannel(url, &jhttp.ChannelOptions{Client: bearerClient{c: hc, token: token}})
	return &Client{cli: jrpc2.NewClient(ch, nil)}
}

func (c *Client) Close() error { return c.cli.Close() }

func (c *Client) Version(ctx context.Context) (VersionResult, error) {
	var out VersionResult
	err := c.cli.CallResult(ctx, "system.version", nil, &out)
	return out, err
}

func (c *Client) Setup(ctx context.Context, req lifecycle.SetupRequest) (SetupResult, error) {
	var out SetupResult
	err := c.cli.CallResult(ctx, "schedule.setup", req, &out)
	return out, err
}

func (c *Client) Query(ctx context.Context, id string) ([]lifecycle.PathStatus, error) {
	var out QueryResult
	if err := c.cli.CallResult(ctx, "schedule.query", IDParams{ID: id}, &out); err != nil {
		return nil, err
	}
	return out.Paths, nil
}

func (c *Client) Cancel(ctx context.Context, id string) (bool, error) {
	var out CancelResult
	if err := c.cli.CallResult(ctx, "schedule.cancel", IDParams{ID: id}, &out); err != nil {
		return false, err
	}
	return out.Found, nil
}

func (c *Client) Failed(ctx context.Context) (FailedResult, error) {
	var out FailedResult
	err := c.cli.CallResult(ctx, "schedule.failed", nil, &out)
	return out, err
}

// IsNotFound reports whether err is the remote not-found error.
func IsNotFound(err error) bool { return hasCode(err, codeNotFound) }

// IsInvalid reports whether the server rejected the request as invalid.
func IsInvalid(err error) bool { return hasCode(err, codeInvalidParams) }

func hasCode(err error, code jrpc2.Code) bool {
	var e *jrpc2.Error
	return errors.As(err, &e) && e.Code == code
}

type bearerClient struct {
	c     *http.Client
	token string
}

func (b bearerClient) Do(req *http.Request) (*http.Response, error) {
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	return b.c.Do(req)
}
