package api

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// requireAdmin guards the admin surface. With no admin key configured the
// endpoints do not exist as far as callers can tell.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.adminKeys == nil || !h.adminKeys.Enabled() {
		http.NotFound(w, r)
		return false
	}
	if err := h.adminKeys.VerifyRequest(r); err != nil {
		h.logger.Warn("admin request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
		writeAdminError(w, http.StatusUnauthorized, "invalid admin key")
		return false
	}
	return true
}

func (h *Handler) handleAdminCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"circuit_breakers": h.breakers.States(),
	})
}

func (h *Handler) handleAdminRateLimit(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"mode":         h.limiter.Mode(),
		"max_requests": h.rateLimitMax,
		"window":       h.rateLimitWindow.String(),
	})
}

func (h *Handler) handleAdminGenerations(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	if h.generationLog == nil {
		writeAdminError(w, http.StatusNotFound, "generation log not configured")
		return
	}

	records, err := h.generationLog.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to query generation log", "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to query generation log")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"generations": records,
		"count":       len(records),
	})
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": message,
	})
}
