// Package server exposes the log authority over HTTP: the sync endpoint
// clients push to, diagnostics, and a WebSocket feed of log events.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mkwei/actionsync/internal/authority"
	"github.com/mkwei/actionsync/internal/errors"
	"github.com/mkwei/actionsync/internal/logging"
	"github.com/mkwei/actionsync/internal/models"
)

// Server wires the authority to its HTTP surface.
type Server struct {
	authority *authority.Authority
	hub       *WSHub
	router    *mux.Router
}

// New creates a Server over the given authority.
func New(auth *authority.Authority) *Server {
	s := &Server{
		authority: auth,
		hub:       NewWSHub(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/sync", s.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/records/{origin}", s.handleRecordsByOrigin).Methods(http.MethodGet)
	r.HandleFunc("/api/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/api/ws", handleWebSocket(s.hub)).Methods(http.MethodGet)
	s.router = r

	return s
}

// Router returns the HTTP handler, for embedding and tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe runs the server on addr until it fails.
func (s *Server) ListenAndServe(addr string) error {
	logging.Info("Log authority listening", map[string]any{"addr": addr})
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrInvalidArgument:
		return http.StatusBadRequest
	case errors.ErrInvalidRecord:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req models.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Origin == "" {
		writeError(w, http.StatusBadRequest, "origin is required")
		return
	}

	resp, err := s.authority.SyncRound(&req)
	if err != nil {
		logging.ErrorWithCode("Sync round failed", string(errors.CodeOf(err)), err,
			map[string]any{"origin": req.Origin})
		writeError(w, statusFor(err), err.Error())
		return
	}

	s.hub.Broadcast(EventSyncCompleted, map[string]any{
		"origin":    req.Origin,
		"pushed":    len(req.Records),
		"replayed":  len(resp.Records),
		"watermark": resp.Watermark,
	})

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.authority.Stats()
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"total":   stats.Total,
		"origins": len(stats.ByOrigin),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.authority.Stats()
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRecordsByOrigin(w http.ResponseWriter, r *http.Request) {
	origin := mux.Vars(r)["origin"]

	records, err := s.authority.RecordsByOrigin(origin)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if records == nil {
		records = []models.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"origin":  origin,
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.authority.Reset(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.hub.Broadcast(EventLogReset, map[string]any{})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
