package desk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rickgao/gpttools-desk/internal/connection"
	"github.com/rickgao/gpttools-desk/internal/service"
)

type addrRequest struct {
	Addr string `json:"addr"`
}

type sortRequest struct {
	Sort int64 `json:"sort"`
}

type modelRequest struct {
	ModelSlug       string `json:"modelSlug"`
	ReasoningEffort string `json:"reasoningEffort"`
}

type keyRequest struct {
	Name            string `json:"name"`
	ModelSlug       string `json:"modelSlug"`
	ReasoningEffort string `json:"reasoningEffort"`
}

type loginRequest struct {
	Note        string `json:"note"`
	Tags        string `json:"tags"`
	GroupName   string `json:"groupName"`
	WorkspaceID string `json:"workspaceId"`
}

type callbackRequest struct {
	CallbackURL string `json:"callbackUrl"`
}

// Handler returns the renderer's control API. Long-running service
// lifecycle calls and login polling continue in the background after the
// response; their progress arrives on the feed.
func (d *Desk) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"connection":  d.State(),
			"autoRefresh": d.AutoRefreshRunning(),
			"snapshot":    d.store.Snapshot(),
		})
	})

	mux.HandleFunc("POST /api/refresh", func(w http.ResponseWriter, r *http.Request) {
		report, err := d.RefreshAll(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	mux.HandleFunc("POST /api/service/toggle", func(w http.ResponseWriter, r *http.Request) {
		var req addrRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		op, ok := d.conn.TryBusy()
		if !ok {
			writeError(w, ErrBusy)
			return
		}
		d.background(r, func(ctx context.Context) error { return d.toggle(ctx, req.Addr, op) })
		writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
	})

	mux.HandleFunc("POST /api/service/start", func(w http.ResponseWriter, r *http.Request) {
		var req addrRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		if req.Addr == "" {
			req.Addr = d.State().Address
		}
		if _, err := connection.NormalizeAddress(req.Addr); err != nil {
			writeError(w, err)
			return
		}
		d.background(r, func(ctx context.Context) error {
			_, err := d.StartService(ctx, req.Addr)
			return err
		})
		writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
	})

	mux.HandleFunc("POST /api/service/stop", func(w http.ResponseWriter, r *http.Request) {
		d.StopService(r.Context())
		writeJSON(w, http.StatusOK, d.State())
	})

	mux.HandleFunc("PUT /api/accounts/{id}/sort", func(w http.ResponseWriter, r *http.Request) {
		var req sortRequest
		if !decode(w, r, &req) {
			return
		}
		respond(w, d.UpdateAccountSort(r.Context(), r.PathValue("id"), req.Sort))
	})

	mux.HandleFunc("DELETE /api/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		respond(w, d.DeleteAccount(r.Context(), r.PathValue("id")))
	})

	mux.HandleFunc("POST /api/accounts/{id}/usage/refresh", func(w http.ResponseWriter, r *http.Request) {
		snap, err := d.RefreshUsageForAccount(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap})
	})

	mux.HandleFunc("POST /api/apikeys", func(w http.ResponseWriter, r *http.Request) {
		var req keyRequest
		if !decode(w, r, &req) {
			return
		}
		key, err := d.CreateAPIKey(r.Context(), service.CreateKeyRequest(req))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, key)
	})

	mux.HandleFunc("DELETE /api/apikeys/{id}", func(w http.ResponseWriter, r *http.Request) {
		respond(w, d.DeleteAPIKey(r.Context(), r.PathValue("id")))
	})

	mux.HandleFunc("POST /api/apikeys/{id}/toggle", func(w http.ResponseWriter, r *http.Request) {
		enabled, err := d.ToggleAPIKeyStatus(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
	})

	mux.HandleFunc("PUT /api/apikeys/{id}/model", func(w http.ResponseWriter, r *http.Request) {
		var req modelRequest
		if !decode(w, r, &req) {
			return
		}
		respond(w, d.UpdateAPIKeyModel(r.Context(), r.PathValue("id"), req.ModelSlug, req.ReasoningEffort))
	})

	mux.HandleFunc("GET /api/requestlogs", func(w http.ResponseWriter, r *http.Request) {
		logs, err := d.SearchRequestLogs(r.Context(), r.URL.Query().Get("query"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": logs, "count": len(logs)})
	})

	mux.HandleFunc("DELETE /api/requestlogs", func(w http.ResponseWriter, r *http.Request) {
		respond(w, d.ClearRequestLogs(r.Context()))
	})

	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		start, err := d.BeginLogin(r.Context(), service.LoginRequest{
			Note:        req.Note,
			Tags:        req.Tags,
			GroupName:   req.GroupName,
			WorkspaceID: req.WorkspaceID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		d.background(r, func(ctx context.Context) error { return d.WaitForLogin(ctx, start.LoginID) })
		writeJSON(w, http.StatusAccepted, start)
	})

	mux.HandleFunc("POST /api/login/complete", func(w http.ResponseWriter, r *http.Request) {
		var req callbackRequest
		if !decode(w, r, &req) {
			return
		}
		respond(w, d.CompleteLogin(r.Context(), req.CallbackURL))
	})

	return mux
}

// background runs fn detached from the request's cancellation.
func (d *Desk) background(r *http.Request, fn func(ctx context.Context) error) {
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := fn(ctx); err != nil {
			d.logger.Warn("background operation failed", "path", r.URL.Path, "error", err)
		}
	}()
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decode(w, r, v)
}

func respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, ErrNotConnected):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, connection.ErrInvalidAddress),
		errors.Is(err, ErrCallbackEmpty),
		errors.Is(err, ErrCallbackInvalid),
		errors.Is(err, ErrCallbackMissingParam):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
