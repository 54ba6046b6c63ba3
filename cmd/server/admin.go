package main

import (
	"net/http"

	"signgate/pkg/httpx"
)

// requireAdminKey checks the shared-secret admin header before any admin
// operation runs. A missing configured key disables admin access rather
// than opening it.
func (a *app) requireAdminKey(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("X-Admin-Key")
	if a.cfg.AdminAPIKey == "" || key == "" || key != a.cfg.AdminAPIKey {
		httpx.WriteError(w, 401, httpx.CodeUnauthorized,
			"invalid or missing admin API key, provide X-Admin-Key header", nil)
		return false
	}
	return true
}

func (a *app) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdminKey(w, r) {
		return
	}
	result, err := a.engine.ClearAll(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"request_id": httpx.NewRequestID(),
		"message":    "All signature data cleared successfully",
		"cleanup":    result,
	})
}

func (a *app) handleClearOld(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdminKey(w, r) {
		return
	}
	days, err := httpx.QueryInt(r, "days", 30)
	if err != nil {
		httpx.WriteError(w, 400, httpx.CodeBadRequest, err.Error(), nil)
		return
	}
	if days < 1 || days > 365 {
		httpx.WriteError(w, 400, httpx.CodeBadRequest, "days must be between 1 and 365", nil)
		return
	}
	result, err := a.engine.ClearOlderThan(r.Context(), days)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"request_id": httpx.NewRequestID(),
		"message":    "Cleared data older than the cutoff",
		"cleanup":    result,
	})
}
