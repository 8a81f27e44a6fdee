/*
handlers.go - Ops HTTP handlers

PURPOSE:
  The domain API (purchase, claim, draw, reset, wallet adjustments) is
  served by the routing layer in front of the engine. This process only
  exposes what operators need to run it:

  GET /healthz         process is up
  GET /readyz          database answers (through the retry executor)
  GET /metrics         Prometheus scrape endpoint
  GET /draws/current   prizes of the latest draw and their winning numbers

ERROR MAPPING:
  WriteError turns any core error into {code, error} with an HTTP status
  derived from lottery.CodeOf. The routing layer reuses it so every
  surface reports the same codes.
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/warp/lottery-engine/lottery"
	"go.uber.org/zap"
)

// Pinger reports whether the store is reachable. sqlstore.Store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the ops endpoints.
type Handler struct {
	svc     *lottery.Service
	db      Pinger
	metrics http.Handler
	log     *zap.Logger
}

// NewHandler creates a handler. metrics may be nil to disable /metrics.
func NewHandler(svc *lottery.Service, db Pinger, metrics http.Handler, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, db: db, metrics: metrics, log: log}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}
	if err := h.db.Ping(r.Context()); err != nil {
		h.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Handler) CurrentDraw(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.CurrentDraw(r.Context())
	if err != nil {
		h.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDrawDTO(d))
}

// WriteError maps err to a status code and an ErrorResponse body.
func (h *Handler) WriteError(w http.ResponseWriter, err error) {
	code := lottery.CodeOf(err)
	status := StatusFor(code)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("code", string(code)), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Code: string(code), Error: err.Error()})
}

// StatusFor maps a core error code to an HTTP status.
func StatusFor(code lottery.Code) int {
	switch code {
	case lottery.CodeOK:
		return http.StatusOK
	case lottery.CodeAccountNotFound, lottery.CodeTicketNotFound:
		return http.StatusNotFound
	case lottery.CodeForbidden, lottery.CodeNotTicketOwner:
		return http.StatusForbidden
	case lottery.CodeRateLimited:
		return http.StatusTooManyRequests
	case lottery.CodeAccountExists, lottery.CodeTicketUnavailable, lottery.CodeAlreadyClaimed:
		return http.StatusConflict
	case lottery.CodeInsufficientFunds, lottery.CodeCeilingExceeded, lottery.CodeNotAWinner,
		lottery.CodePoolInsufficient:
		return http.StatusUnprocessableEntity
	case lottery.CodeInvalidAmount, lottery.CodeInvalidSelection, lottery.CodeInvalidRewards:
		return http.StatusBadRequest
	case lottery.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
