// Package api serves a small read-only HTTP status API: proxy-wide
// counters and the list of connected miners.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"stratumproxy/config"
	"stratumproxy/internal/core"
	errs "stratumproxy/internal/errors"
	"stratumproxy/internal/metrics"
	"stratumproxy/util"
)

const (
	requestTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Source is what the API reports on.  *core.Proxy implements it.
type Source interface {
	Miners(ctx context.Context) ([]core.MinerInfo, error)
	Metrics() *metrics.Collector
}

var _ Source = (*core.Proxy)(nil)

// Server provides the HTTP interface.
type Server struct {
	cfg     config.APIConfig
	src     Source
	version string
	router  *httprouter.Router
	log     *util.Logger

	ready chan struct{}
	addr  net.Addr
}

// Summary is the body of GET /1/summary.
type Summary struct {
	Version    string         `json:"version"`
	Uptime     string         `json:"uptime"`
	Miners     MinerCounts    `json:"miners"`
	Shares     ShareCounts    `json:"shares"`
	BytesIn    int64          `json:"bytes_in"`
	BytesOut   int64          `json:"bytes_out"`
	Errors     int64          `json:"errors"`
	LastError  string         `json:"last_error,omitempty"`
	States     map[string]int `json:"states"`
	Restricted bool           `json:"restricted"`
}

// MinerCounts groups connection counters.
type MinerCounts struct {
	Now      int64 `json:"now"`
	Total    int64 `json:"total"`
	Rejected int64 `json:"rejected"`
}

// ShareCounts groups share counters.
type ShareCounts struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

// New creates an API server for src.
func New(cfg config.APIConfig, src Source, version string, log *util.Logger) *Server {
	if log == nil {
		log = util.NewLogger(0)
	}
	s := &Server{
		cfg:     cfg,
		src:     src,
		version: version,
		router:  httprouter.New(),
		log:     log.WithPrefix("api"),
		ready:   make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or nil before Ready.
func (s *Server) Addr() net.Addr { return s.addr }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	close(s.ready)

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: requestTimeout,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(sctx) //nolint:errcheck
	}()

	s.log.Info("listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.GET("/1/summary", s.auth(s.handleSummary))
	s.router.GET("/1/workers", s.auth(s.handleWorkers))
	s.router.GET("/1/workers/:id", s.auth(s.handleWorker))
	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// auth enforces the bearer access token when one is configured.
func (s *Server) auth(h httprouter.Handle) httprouter.Handle {
	if s.cfg.AccessToken == "" {
		return h
	}
	want := []byte("Bearer " + s.cfg.AccessToken)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, errs.ErrUnauthorized.Error())
			return
		}
		h(w, r, ps)
	}
}

// ── Handlers ─────────────────────────────────────────────────────────

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	miners, ok := s.miners(w, r)
	if !ok {
		return
	}
	snap := s.src.Metrics().Snapshot()

	states := map[string]int{}
	for _, m := range miners {
		states[m.State]++
	}
	writeJSON(w, http.StatusOK, Summary{
		Version: s.version,
		Uptime:  snap.Uptime,
		Miners: MinerCounts{
			Now:      int64(len(miners)),
			Total:    snap.MinersTotal,
			Rejected: snap.MinersRejected,
		},
		Shares:     ShareCounts{Accepted: snap.SharesAccepted, Rejected: snap.SharesRejected},
		BytesIn:    snap.BytesIn,
		BytesOut:   snap.BytesOut,
		Errors:     snap.ErrorsTotal,
		LastError:  snap.LastErrorMessage,
		States:     states,
		Restricted: s.cfg.Restricted,
	})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	miners, ok := s.miners(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": miners})
}

func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid worker id")
		return
	}
	miners, ok := s.miners(w, r)
	if !ok {
		return
	}
	for _, m := range miners {
		if m.ID == id {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}
	writeError(w, http.StatusNotFound, "worker not found")
}

// miners fetches the miner list, hiding addresses on a restricted API.
func (s *Server) miners(w http.ResponseWriter, r *http.Request) ([]core.MinerInfo, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	miners, err := s.src.Miners(ctx)
	if err != nil {
		s.log.Warn("list miners: %v", err)
		writeError(w, http.StatusServiceUnavailable, "proxy unavailable")
		return nil, false
	}
	if s.cfg.Restricted {
		for i := range miners {
			miners[i].IP = ""
		}
	}
	return miners, true
}

// ── Encoding ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
