package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"folio/internal/backtest"
	"folio/internal/domain"
	"folio/internal/engine"
	"folio/internal/rotation"
	"folio/internal/signal"
	"folio/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server serves the engine over HTTP.
type Server struct {
	engine  *engine.Engine
	metrics http.Handler
	log     *slog.Logger
}

// NewServer creates a new HTTP API server. metrics may be nil, in which case
// /metrics is not registered.
func NewServer(e *engine.Engine, metrics http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{engine: e, metrics: metrics, log: log.With("component", "httpapi")}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
	mux.HandleFunc("GET /api/backtest/{symbol}", s.handleBacktest)
	mux.HandleFunc("GET /api/compare/{symbol}", s.handleCompare)
	mux.HandleFunc("GET /api/recommend/{symbol}", s.handleRecommend)
	mux.HandleFunc("POST /api/rotation", s.handleRotation)
	mux.HandleFunc("POST /api/walk-forward", s.handleWalkForward)
	mux.HandleFunc("POST /api/robustness", s.handleRobustness)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("PUT /api/watchlist/{symbol}", s.handleAddWatchlist)
	mux.HandleFunc("DELETE /api/watchlist/{symbol}", s.handleRemoveWatchlist)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns an http.Handler with CORS and request logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", sw.status, "elapsed", time.Since(began))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeEngineError maps engine errors onto HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backtest.ErrInvalidParams),
		errors.Is(err, rotation.ErrInvalidParams),
		errors.Is(err, engine.ErrEmptyPool):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, signal.ErrInsufficientHistory):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.log.Error("engine request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// symbolRequest builds a single-symbol request from the path and query.
func symbolRequest(r *http.Request) (engine.SymbolRequest, error) {
	q := r.URL.Query()
	rng, err := parseRange(q.Get("start"), q.Get("end"))
	if err != nil {
		return engine.SymbolRequest{}, err
	}
	return engine.SymbolRequest{
		Symbol:   strings.ToUpper(r.PathValue("symbol")),
		Market:   domain.Market(strings.ToLower(q.Get("market"))),
		Strategy: q.Get("strategy"),
		Range:    rng,
	}, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", Time: time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StrategiesResponse{Strategies: s.engine.Strategies()})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	req, err := symbolRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.engine.Backtest(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	req, err := symbolRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.engine.Compare(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	req, err := symbolRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.engine.Recommend(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleRotation(w http.ResponseWriter, r *http.Request) {
	var body RotationBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pool, err := body.request()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.engine.Rotate(r.Context(), engine.RotationRequest{PoolRequest: pool, Params: body.Params})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleWalkForward(w http.ResponseWriter, r *http.Request) {
	var body WalkForwardBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pool, err := body.request()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.engine.WalkForward(r.Context(), engine.WalkForwardRequest{PoolRequest: pool, Config: body.Config})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleRobustness(w http.ResponseWriter, r *http.Request) {
	var body RobustnessBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pool, err := body.request()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.engine.Robustness(r.Context(), engine.RobustnessRequest{PoolRequest: pool, Config: body.Config})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	runs, err := s.engine.Runs(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, RunsResponse{Runs: runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, run)
}

func (s *Server) market(r *http.Request) domain.Market {
	if m := r.URL.Query().Get("market"); m != "" {
		return domain.Market(strings.ToLower(m))
	}
	return s.engine.Market()
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	wl := s.engine.Watchlist()
	market := s.market(r)
	if wl == nil {
		writeJSON(w, WatchlistResponse{Market: string(market), Symbols: []string{}, Items: []store.WatchItem{}})
		return
	}
	items, err := wl.Watchlist(r.Context(), market)
	if err != nil {
		s.log.Error("listing watchlist", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get watchlist")
		return
	}
	resp := WatchlistResponse{Market: string(market), Symbols: []string{}, Items: items}
	if resp.Items == nil {
		resp.Items = []store.WatchItem{}
	}
	for _, it := range items {
		if it.Active {
			resp.Symbols = append(resp.Symbols, it.Symbol)
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	wl := s.engine.Watchlist()
	if wl == nil {
		writeError(w, http.StatusServiceUnavailable, "watchlist not configured")
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if err := wl.AddSymbol(r.Context(), s.market(r), symbol); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to add %s: %v", symbol, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	wl := s.engine.Watchlist()
	if wl == nil {
		writeError(w, http.StatusServiceUnavailable, "watchlist not configured")
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if err := wl.DeactivateSymbol(r.Context(), s.market(r), symbol); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to remove %s: %v", symbol, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
