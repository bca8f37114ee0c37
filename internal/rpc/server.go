// Package rpc exposes the path lifecycle operations as JSON-RPC 2.0 over HTTP
// and provides the matching client used by the CLI.
package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"

	"pathsched/internal/lifecycle"
	"pathsched/internal/schedule"
	logx "pathsched/pkg/logx"
)

// Error codes beyond the JSON-RPC reserved set.
const (
	codeNotFound      = jrpc2.Code(-32001)
	codeInvalidParams = jrpc2.Code(-32602)
	codeInternal      = jrpc2.Code(-32603)
)

// Facade is the lifecycle surface served over RPC.
type Facade interface {
	Setup(ctx context.Context, req lifecycle.SetupRequest) (schedule.Record, error)
	Query(ctx context.Context, id string) ([]lifecycle.PathStatus, error)
	Cancel(ctx context.Context, id string) (bool, error)
	FailedPaths(ctx context.Context) ([]schedule.FailedPathRecord, error)
}

type Config struct {
	Token   string // empty: no authentication
	Version string
	Node    string
}

// StatusFunc reports node diagnostics for system.version.
type StatusFunc func() NodeStatus

type NodeStatus struct {
	Leader      bool `json:"leader"`
	ArmedTimers int  `json:"armed_timers"`
	QueueLen    int  `json:"queue_len"`
}

type VersionResult struct {
	Version string     `json:"version"`
	Node    string     `json:"node,omitempty"`
	Status  NodeStatus `json:"status"`
}

type SetupResult struct {
	Key      string          `json:"key"`
	Status   schedule.Status `json:"status"`
	NextFire time.Time       `json:"next_fire"`
}

type IDParams struct {
	ID string `json:"id,omitempty"`
}

type QueryResult struct {
	Paths []lifecycle.PathStatus `json:"paths"`
}

type CancelResult struct {
	Found bool `json:"found"`
}

type FailedResult struct {
	Paths []schedule.FailedPathRecord `json:"paths"`
}

// Server is the JSON-RPC endpoint.
type Server struct {
	cfg    Config
	facade Facade
	status StatusFunc
	log    logx.Logger
	bridge jhttp.Bridge
}

func NewServer(cfg Config, f Facade, status StatusFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, facade: f, status: status, log: log}
	methods := handler.Map{
		"system.version":  handler.New(s.systemVersion),
		"schedule.setup":  handler.New(s.scheduleSetup),
		"schedule.query":  handler.New(s.scheduleQuery),
		"schedule.cancel": handler.New(s.scheduleCancel),
		"schedule.failed": handler.New(s.scheduleFailed),
	}
	s.bridge = jhttp.NewBridge(methods, nil)
	return s
}

// Handler serves JSON-RPC POSTs, guarded by the bearer token if one is set.
func (s *Server) Handler() http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.bridge.ServeHTTP(w, r)
	})
	if s.cfg.Token == "" {
		return h
	}
	return requireToken(s.cfg.Token, h)
}

// Close releases the bridge goroutines.
func (s *Server) Close() { s.bridge.Close() }

func (s *Server) systemVersion(_ context.Context) (*VersionResult, error) {
	res := &VersionResult{Version: s.cfg.Version, Node: s.cfg.Node}
	if s.status != nil {
		res.Status = s.status()
	}
	return res, nil
}

func (s *Server) scheduleSetup(ctx context.Context, p *lifecycle.SetupRequest) (*SetupResult, error) {
	rec, err := s.facade.Setup(ctx, *p)
	if err != nil {
		return nil, s.toRPCError("schedule.setup", err)
	}
	return &SetupResult{Key: rec.Key().String(), Status: rec.Status, NextFire: rec.NextFire}, nil
}

func (s *Server) scheduleQuery(ctx context.Context, p *IDParams) (*QueryResult, error) {
	paths, err := s.facade.Query(ctx, p.ID)
	if err != nil {
		return nil, s.toRPCError("schedule.query", err)
	}
	return &QueryResult{Paths: paths}, nil
}

func (s *Server) scheduleCancel(ctx context.Context, p *IDParams) (*CancelResult, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: id"}
	}
	found, err := s.facade.Cancel(ctx, p.ID)
	if err != nil {
		return nil, s.toRPCError("schedule.cancel", err)
	}
	return &CancelResult{Found: found}, nil
}

func (s *Server) scheduleFailed(ctx context.Context) (*FailedResult, error) {
	paths, err := s.facade.FailedPaths(ctx)
	if err != nil {
		return nil, s.toRPCError("schedule.failed", err)
	}
	return &FailedResult{Paths: paths}, nil
}

func (s *Server) toRPCError(method string, err error) error {
	var ve *lifecycle.ValidationError
	switch {
	case errors.As(err, &ve):
		data, _ := json.Marshal(map[string]string{"field": ve.Field})
		return &jrpc2.Error{Code: codeInvalidParams, Message: ve.Error(), Data: data}
	case errors.Is(err, lifecycle.ErrNotFound):
		return &jrpc2.Error{Code: codeNotFound, Message: err.Error()}
	}
	s.log.Error("rpc call failed", logx.String("method", method), logx.Err(err))
	return &jrpc2.Error{Code: codeInternal, Message: err.Error()}
}

// requireToken rejects requests without the bearer token with a JSON-RPC
// error body.
func requireToken(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ValidToken(secret, r.Header.Get("Authorization")) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"error": map[string]any{
					"code":    -32600,
					"message": "Unauthorized",
				},
				"id": nil,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ValidToken reports whether header carries "Bearer <secret>".
func ValidToken(secret, header string) bool {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
