package app

import (
	"net/http"
	hpprof "net/http/pprof"

	"pathsched/internal/rpc"
)

const pprofPrefix = "/debug/pprof/"

// mountDebug adds /healthz and, when enabled, the pprof handlers.
func (a *App) mountDebug(mux *http.ServeMux, token string, pprof bool) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if a.sup != nil && a.sup.Err() != nil {
			http.Error(w, a.sup.Err().Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if !pprof {
		return
	}

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		if token == "" {
			return h
		}
		return func(w http.ResponseWriter, r *http.Request) {
			if !rpc.ValidToken(token, r.Header.Get("Authorization")) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc(pprofPrefix, wrap(hpprof.Index))
	mux.HandleFunc(pprofPrefix+"cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(pprofPrefix+"profile", wrap(hpprof.Profile))
	mux.HandleFunc(pprofPrefix+"symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(pprofPrefix+"trace", wrap(hpprof.Trace))
}
