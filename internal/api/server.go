// Package api provides the HTTP API for observing a running model.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/engine"
	"github.com/talgya/unrest/internal/persistence"
)

const maxStreamConns = 8

// Server serves the model state over HTTP.
type Server struct {
	Model    *engine.Model
	Eng      *engine.Engine
	DB       *persistence.DB // Optional; history endpoints need it
	RunID    string          // Run whose history /stats/history serves
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// Active SSE and websocket connection count (atomic).
	streamConns int32

	upgrader websocket.Upgrader
	srv      *http.Server
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	gridLimiter := NewRateLimiter(120, time.Minute)

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgent)
	mux.HandleFunc("/api/v1/grid", RateLimitMiddleware(gridLimiter, s.handleGrid))
	mux.HandleFunc("/api/v1/detention", s.handleDetention)

	// Live tick records.
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	mux.HandleFunc("/api/v1/ws", s.handleWS)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{Addr: addr, Handler: s.Handler()}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "history", s.DB != nil)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no UNREST_ADMIN_KEY set)", http.StatusForbidden)
				return
			}

			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p := s.Model.Params()
	status := map[string]any{
		"name":          "unrest",
		"tick":          s.Model.Tick(),
		"max_iters":     p.MaxIters,
		"started":       s.Model.Started(),
		"running":       s.Model.Running(),
		"seed":          p.Seed,
		"grid":          map[string]any{"width": p.Width, "height": p.Height, "wrap": p.Wrap},
		"jail_capacity": p.JailCapacity,
		"run_id":        s.RunID,
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["engine_running"] = s.Eng.Running()
	}
	if last := s.Model.Last(); last != nil {
		status["counts"] = last.Counts
	}
	writeJSON(w, status)
}

// handleStats returns the latest tick record without per-agent snapshots.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	last := s.Model.Last()
	if last == nil {
		http.Error(w, "model not started", http.StatusServiceUnavailable)
		return
	}
	rec := *last
	rec.Agents = nil
	writeJSON(w, rec)
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	runID := s.RunID
	fromTick := uint64(0)
	toTick := uint64(1<<63 - 1) // max int64; the sqlite driver rejects uint64 values with the high bit set
	limit := 100

	q := r.URL.Query()
	if id := q.Get("run"); id != "" {
		runID = id
	}
	if f := q.Get("from"); f != "" {
		if v, err := strconv.ParseUint(f, 10, 64); err == nil {
			fromTick = v
		}
	}
	if t := q.Get("to"); t != "" {
		if v, err := strconv.ParseUint(t, 10, 64); err == nil {
			toTick = v
		}
	}
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	rows, err := s.DB.TickHistory(runID, fromTick, toTick, limit)
	if err != nil {
		slog.Error("stats history query failed", "error", err)
		writeJSON(w, []persistence.StatsRow{})
		return
	}
	if rows == nil {
		rows = []persistence.StatsRow{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	runs, err := s.DB.Runs(limit)
	if err != nil {
		slog.Error("runs query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []persistence.RunInfo{}
	}
	writeJSON(w, runs)
}

type agentSummary struct {
	ID                agents.AgentID `json:"id"`
	Kind              agents.Kind    `json:"kind"`
	X                 int            `json:"x"`
	Y                 int            `json:"y"`
	Condition         string         `json:"condition,omitempty"`
	Detained          bool           `json:"detained,omitempty"`
	ArrestProbability float64        `json:"arrest_probability,omitempty"`
	CanArrest         *bool          `json:"can_arrest,omitempty"`
}

func summarize(a agents.Agent) agentSummary {
	sum := agentSummary{ID: a.ID, Kind: a.Kind, X: a.Position.X, Y: a.Position.Y}
	switch a.Kind {
	case agents.KindResident:
		sum.Condition = a.Resident.Condition.String()
		sum.Detained = a.Resident.Detained
		sum.ArrestProbability = a.Resident.ArrestProbability
	case agents.KindSecurity:
		can := a.Security.CanArrest
		sum.CanArrest = &can
	}
	return sum
}

// handleAgents lists agents, optionally filtered by ?kind= and ?condition=.
// A condition filter implies residents and matches detained ones only for
// condition=detained.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var kind *agents.Kind
	if k := q.Get("kind"); k != "" {
		parsed, err := agents.ParseKind(k)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kind = &parsed
	}

	keep := func(a *agents.Agent) bool { return kind == nil || a.Kind == *kind }
	if c := q.Get("condition"); c != "" {
		if c == "detained" {
			base := keep
			keep = func(a *agents.Agent) bool { return base(a) && a.Detained() }
		} else {
			cond, err := agents.ParseCondition(c)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			base := keep
			keep = func(a *agents.Agent) bool { return base(a) && a.HasCondition(cond) }
		}
	}

	list := s.Model.Agents(keep)
	result := make([]agentSummary, 0, len(list))
	for _, a := range list {
		result = append(result, summarize(a))
	}
	writeJSON(w, result)
}

// handleAgent returns the full state of one agent: GET /api/v1/agent/{id}.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 5 || parts[4] == "" {
		http.Error(w, "missing agent id", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	a, ok := s.Model.Agent(agents.AgentID(id))
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, a)
}

// handleGrid returns the grid as rows of cell symbols, north row first.
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	p := s.Model.Params()
	writeJSON(w, map[string]any{
		"tick":   s.Model.Tick(),
		"width":  p.Width,
		"height": p.Height,
		"wrap":   p.Wrap,
		"legend": map[string]string{
			".": "empty", "q": "quiescent", "a": "active", "d": "deviant",
			"S": "security", "#": "obstacle",
		},
		"rows": s.Model.Layout(),
	})
}

func (s *Server) handleDetention(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Model.Detention())
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// acquireStream reserves one of the shared streaming slots.
func (s *Server) acquireStream() bool {
	if atomic.AddInt32(&s.streamConns, 1) > maxStreamConns {
		atomic.AddInt32(&s.streamConns, -1)
		return false
	}
	return true
}

func (s *Server) releaseStream() {
	atomic.AddInt32(&s.streamConns, -1)
}

// handleStream provides an SSE endpoint streaming tick records.
// ?agents=1 keeps per-agent snapshots in the payload.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.acquireStream() {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseStream()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	withAgents := r.URL.Query().Get("agents") == "1"

	subID, ch := s.Model.Subscribe()
	defer s.Model.Unsubscribe(subID)

	// Catch-up with the latest record.
	if last := s.Model.Last(); last != nil {
		writeSSERecord(w, last, withAgents)
	}
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			writeSSERecord(w, rec, withAgents)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID)
			return
		}
	}
}

// writeSSERecord writes a single tick record in SSE format.
func writeSSERecord(w http.ResponseWriter, rec *engine.TickRecord, withAgents bool) {
	data, err := marshalRecord(rec, withAgents)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: tick\nid: %d\ndata: %s\n\n", rec.Tick, data)
}

func marshalRecord(rec *engine.TickRecord, withAgents bool) ([]byte, error) {
	if !withAgents && rec.Agents != nil {
		c := *rec
		c.Agents = nil
		rec = &c
	}
	return json.Marshal(rec)
}

// handleWS streams tick records over a websocket, one JSON text message
// per record. Client messages are read only to detect disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.acquireStream() {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseStream()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	withAgents := r.URL.Query().Get("agents") == "1"
	subID, ch := s.Model.Subscribe()
	defer s.Model.Unsubscribe(subID)
	slog.Info("websocket client connected", "sub_id", subID)

	// Reader goroutine: closes done when the client goes away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(rec *engine.TickRecord) error {
		data, err := marshalRecord(rec, withAgents)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	if last := s.Model.Last(); last != nil {
		if err := send(last); err != nil {
			return
		}
	}

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "model stopped"),
					time.Now().Add(time.Second))
				return
			}
			if err := send(rec); err != nil {
				return
			}
		case <-done:
			slog.Info("websocket client disconnected", "sub_id", subID)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
