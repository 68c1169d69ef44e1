// Package api provides the HTTP API for observing and nudging companions.
// GET endpoints are read-only views.
// POST endpoints mutate state; they require a bearer token when AdminKey is
// set and are rate limited per client IP.
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
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/tamagochai/internal/clock"
	"github.com/talgya/tamagochai/internal/companion"
	"github.com/talgya/tamagochai/internal/emotion"
	"github.com/talgya/tamagochai/internal/evolution"
	"github.com/talgya/tamagochai/internal/hormone"
	"github.com/talgya/tamagochai/internal/sensors"
)

const (
	defaultLimit = 20
	maxLimit     = 500
	maxBodyBytes = 1 << 20
)

// SensorReader exposes the latest sensor reading.
type SensorReader interface {
	Last() sensors.Reading
}

// Server serves companion state over HTTP.
type Server struct {
	Companion *companion.Companion
	Sensors   SensorReader // nil when sensors are disabled
	Clock     clock.Clock
	Addr      string
	AdminKey  string  // Bearer token for POST endpoints. Empty = no auth.
	Rate      float64 // sustained POST requests per second per IP
	Burst     int

	started time.Time
	srv     *http.Server
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	if s.Clock == nil {
		s.Clock = clock.Real{}
	}
	if s.started.IsZero() {
		s.started = s.Clock.Now()
	}
	rps, burst := s.Rate, s.Burst
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 20
	}
	limiter := NewRateLimiter(rps, burst)
	mutating := func(h http.HandlerFunc) http.HandlerFunc {
		return RateLimitMiddleware(limiter, s.adminOnly(h))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/events", s.handleEventCatalog)
	mux.HandleFunc("GET /api/v1/sensors", s.handleSensors)
	mux.HandleFunc("GET /api/v1/companions", s.handleCompanions)
	mux.HandleFunc("GET /api/v1/companion/{id}", s.handleCompanion)
	mux.HandleFunc("GET /api/v1/companion/{id}/hormones", s.handleHormones)
	mux.HandleFunc("GET /api/v1/companion/{id}/hormones/history", s.handleHormoneHistory)
	mux.HandleFunc("GET /api/v1/companion/{id}/emotion", s.handleEmotion)
	mux.HandleFunc("GET /api/v1/companion/{id}/emotion/trend", s.handleEmotionTrend)
	mux.HandleFunc("GET /api/v1/companion/{id}/summary", s.handleSummary)
	mux.HandleFunc("GET /api/v1/companion/{id}/evolution", s.handleEvolution)
	mux.HandleFunc("GET /api/v1/companion/{id}/evolution/stages", s.handleStages)
	mux.HandleFunc("GET /api/v1/companion/{id}/xp", s.handleXPHistory)
	mux.HandleFunc("GET /api/v1/companion/{id}/celebrations", s.handleCelebrations)

	mux.HandleFunc("POST /api/v1/companions", mutating(s.handleCreate))
	mux.HandleFunc("POST /api/v1/companion/{id}/events", mutating(s.handleApplyEvent))
	mux.HandleFunc("POST /api/v1/companion/{id}/modifiers", mutating(s.handleApplyModifiers))
	mux.HandleFunc("POST /api/v1/companion/{id}/xp", mutating(s.handleGrantXP))
	mux.HandleFunc("POST /api/v1/companion/{id}/messages", mutating(s.handleMessage))
	mux.HandleFunc("POST /api/v1/companion/{id}/decay", mutating(s.handleDecay))
	mux.HandleFunc("POST /api/v1/companion/{id}/reset", mutating(s.handleReset))
	mux.HandleFunc("POST /api/v1/celebrations/{tid}", mutating(s.handleMarkCelebrated))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", s.Addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
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
		"http://localhost:8081":  true,
		"http://localhost:19006": true,
		"http://localhost:3000":  true,
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

// adminOnly requires bearer token auth when an admin key is configured.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey != "" && !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// ── Read views ────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ents, err := s.Companion.Entities(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	now := s.Clock.Now()
	active := 0
	for _, e := range ents {
		if s.Companion.SessionActive(e.ID) {
			active++
		}
	}
	writeJSON(w, map[string]any{
		"name":            "TamagochAI",
		"companions":      len(ents),
		"active_sessions": active,
		"uptime":          strings.TrimSpace(humanize.RelTime(s.started, now, "", "")),
		"mode":            evolutionMode(s.Companion.Evolution().Multiplier),
		"xp_multiplier":   s.Companion.Evolution().Multiplier,
		"sensors":         s.Sensors != nil,
	})
}

func evolutionMode(multiplier float64) evolution.Mode {
	for _, m := range []evolution.Mode{evolution.Production, evolution.Prototype, evolution.Testing} {
		if m.Multiplier() == multiplier {
			return m
		}
	}
	return ""
}

func (s *Server) handleEventCatalog(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name      string             `json:"name"`
		Modifiers []hormone.Modifier `json:"modifiers,omitempty"`
		XPSource  evolution.Source   `json:"xp_source,omitempty"`
	}
	out := make([]entry, 0, len(companion.Events))
	for _, name := range companion.EventNames() {
		spec := companion.Events[name]
		e := entry{Name: name, XPSource: spec.Source}
		if spec.Bundle != "" {
			e.Modifiers, _ = hormone.Bundle(spec.Bundle)
		}
		out = append(out, e)
	}
	writeJSON(w, out)
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	if s.Sensors == nil {
		http.Error(w, "sensors disabled", http.StatusNotFound)
		return
	}
	rd := s.Sensors.Last()
	writeJSON(w, map[string]any{
		"reading": rd,
		"message": rd.Message(),
	})
}

type companionSummary struct {
	companion.Entity
	XP       string `json:"xp_display"`
	Age      string `json:"age"`
	LastSeen string `json:"last_seen"`
}

func (s *Server) summarize(e companion.Entity, now time.Time) companionSummary {
	return companionSummary{
		Entity:   e,
		XP:       humanize.Comma(e.TotalXP) + " XP",
		Age:      strings.TrimSpace(humanize.RelTime(e.CreatedAt, now, "", "")),
		LastSeen: humanize.RelTime(e.LastInteraction, now, "ago", "from now"),
	}
}

func (s *Server) handleCompanions(w http.ResponseWriter, r *http.Request) {
	ents, err := s.Companion.Entities(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	now := s.Clock.Now()
	out := make([]companionSummary, 0, len(ents))
	for _, e := range ents {
		out = append(out, s.summarize(e, now))
	}
	writeJSON(w, out)
}

func (s *Server) handleCompanion(w http.ResponseWriter, r *http.Request) {
	ctx, id := r.Context(), r.PathValue("id")
	e, err := s.Companion.Entity(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	em, err := s.Companion.EmotionState(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	sum, err := s.Companion.Summary(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	progress, err := s.Companion.EvolutionProgress(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"companion":      s.summarize(e, s.Clock.Now()),
		"emotion":        em,
		"feeling":        emotion.Describe(em),
		"polarity":       emotion.PolarityOf(em.Primary),
		"hormones":       sum,
		"progress":       progress,
		"session_active": s.Companion.SessionActive(id),
	})
}

func (s *Server) handleHormones(w http.ResponseWriter, r *http.Request) {
	levels, err := s.Companion.HormoneSnapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	readings := make(map[hormone.Name]hormone.Reading, len(hormone.Names))
	for _, n := range hormone.Names {
		v, _ := levels.Get(n)
		readings[n] = hormone.Interpret(v)
	}
	writeJSON(w, map[string]any{
		"levels":   levels,
		"readings": readings,
		"balance":  hormone.ClassifyBalance(levels),
		"alerts":   hormone.Alerts(levels),
	})
}

func (s *Server) handleHormoneHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Companion.HormoneHistory(r.Context(), r.PathValue("id"), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleEmotion(w http.ResponseWriter, r *http.Request) {
	st, err := s.Companion.EmotionState(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"state":      st,
		"feeling":    emotion.Describe(st),
		"polarity":   emotion.PolarityOf(st.Primary),
		"expression": emotion.ExpressionOf(st.Primary),
	})
}

func (s *Server) handleEmotionTrend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.Companion.Entity(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.Companion.EmotionTrend(id, limitParam(r)))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Companion.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sum)
}

func (s *Server) handleEvolution(w http.ResponseWriter, r *http.Request) {
	p, err := s.Companion.EvolutionProgress(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	info, _ := s.Companion.Evolution().Ladder.Info(p.Stage)
	writeJSON(w, map[string]any{
		"progress":   p,
		"xp_display": humanize.Comma(p.TotalXP) + " XP",
		"info":       info,
	})
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	st, err := s.Companion.StageStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleXPHistory(w http.ResponseWriter, r *http.Request) {
	evs, err := s.Companion.XPHistory(r.Context(), r.PathValue("id"), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, evs)
}

func (s *Server) handleCelebrations(w http.ResponseWriter, r *http.Request) {
	trs, err := s.Companion.PendingCelebrations(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if trs == nil {
		trs = []evolution.Transition{}
	}
	writeJSON(w, trs)
}

// ── Mutations ─────────────────────────────────────────────────────────

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	e, err := s.Companion.Create(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, e)
}

func (s *Server) handleApplyEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := s.Companion.ApplyNamedEvent(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleApplyModifiers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Modifiers []hormone.Modifier `json:"modifiers"`
		Trigger   string             `json:"trigger"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Trigger == "" {
		req.Trigger = "api"
	}
	res, err := s.Companion.ApplyModifiers(r.Context(), r.PathValue("id"), req.Modifiers, req.Trigger)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleGrantXP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source   evolution.Source `json:"source"`
		Metadata map[string]any   `json:"metadata"`
	}
	if !decode(w, r, &req) {
		return
	}
	g, err := s.Companion.GrantXP(r.Context(), r.PathValue("id"), req.Source, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"granted": g != nil,
		"grant":   g,
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	res, err := s.Companion.HandleMessage(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	levels, err := s.Companion.Decay(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, levels)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.Companion.Reset(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkCelebrated(w http.ResponseWriter, r *http.Request) {
	if err := s.Companion.MarkCelebrated(r.Context(), r.PathValue("tid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Helpers ───────────────────────────────────────────────────────────

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, companion.ErrEntityNotFound), errors.Is(err, companion.ErrTransitionNotFound):
		return http.StatusNotFound
	case errors.Is(err, companion.ErrUnknownEvent),
		errors.Is(err, hormone.ErrInvalidHormone),
		errors.Is(err, hormone.ErrInvalidModifier),
		errors.Is(err, evolution.ErrUnknownSource):
		return http.StatusBadRequest
	case errors.Is(err, companion.ErrStaleWrite):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("API request failed", "error", err)
	}
	writeJSONStatus(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
