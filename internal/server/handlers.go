package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"assetforge/internal/planparse"
	"assetforge/internal/prompt"
	"assetforge/internal/queue"
)

// BuildMux wires the batch API routes.
func BuildMux(a *App) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/batches", a.handleCreateBatch)
	mux.HandleFunc("GET /v1/batches/{id}/progress", a.handleProgress)
	mux.HandleFunc("GET /v1/batches/{id}/items", a.handleItems)
	mux.HandleFunc("GET /v1/batches/{id}/log", a.handleLog)
	mux.HandleFunc("POST /v1/batches/{id}/pause", a.handlePause)
	mux.HandleFunc("POST /v1/batches/{id}/resume", a.handleResume)
	mux.HandleFunc("POST /v1/batches/{id}/items/{assetId}/approve", a.handleApprove)
	mux.HandleFunc("POST /v1/batches/{id}/items/{assetId}/reject", a.handleReject)
	mux.HandleFunc("POST /v1/batches/{id}/items/{assetId}/regenerate", a.handleRegenerate)
	mux.HandleFunc("PUT /v1/batches/{id}/items/{assetId}/prompt", a.handleUpdatePrompt)
	mux.HandleFunc("GET /v1/batches/{id}/events", a.handleEventsWS)
	return mux
}

type createBatchRequest struct {
	ProjectID string `json:"projectId"`
	Markdown  string `json:"markdown"`
	Mode      string `json:"mode,omitempty"`
	Style     struct {
		ArtStyle   string `json:"artStyle,omitempty"`
		Palette    string `json:"palette,omitempty"`
		Resolution string `json:"resolution,omitempty"`
	} `json:"style"`
}

func (a *App) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var in createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	mode := planparse.ModeComposite
	if strings.EqualFold(strings.TrimSpace(in.Mode), string(planparse.ModeGranular)) {
		mode = planparse.ModeGranular
	}
	style := prompt.StyleContext{
		ArtStyle:   in.Style.ArtStyle,
		Palette:    in.Style.Palette,
		Resolution: in.Style.Resolution,
	}
	batchID, total, err := a.CreateBatch(in.ProjectID, in.Markdown, mode, style)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"batchId": batchID,
		"total":   total,
	})
}

func (a *App) handleProgress(w http.ResponseWriter, r *http.Request) {
	run, err := a.batch(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run.orch.Progress())
}

type itemView struct {
	Asset        any    `json:"asset"`
	State        string `json:"state"`
	Attempts     int    `json:"attempts"`
	CustomPrompt string `json:"customPrompt,omitempty"`
	Ref          string `json:"ref,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (a *App) handleItems(w http.ResponseWriter, r *http.Request) {
	run, err := a.batch(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	items := run.orch.Items()
	views := make([]itemView, 0, len(items))
	for _, it := range items {
		v := itemView{
			Asset:        it.Asset,
			State:        string(it.State.Phase()),
			Attempts:     it.Attempts,
			CustomPrompt: it.CustomPrompt,
		}
		switch st := it.State.(type) {
		case queue.Approved:
			v.Ref = st.Ref
		case queue.Failed:
			v.Error = st.Message
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (a *App) handleLog(w http.ResponseWriter, r *http.Request) {
	run, err := a.batch(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": run.log.Entries()})
}

func (a *App) handlePause(w http.ResponseWriter, r *http.Request) {
	a.batchOp(w, r, func(run *batchRun, _ string) error { return run.orch.Pause() })
}

func (a *App) handleResume(w http.ResponseWriter, r *http.Request) {
	a.batchOp(w, r, func(run *batchRun, _ string) error { return run.orch.Resume() })
}

func (a *App) handleApprove(w http.ResponseWriter, r *http.Request) {
	a.batchOp(w, r, func(run *batchRun, assetID string) error {
		return run.orch.Approve(r.Context(), assetID)
	})
}

func (a *App) handleReject(w http.ResponseWriter, r *http.Request) {
	a.batchOp(w, r, func(run *batchRun, assetID string) error {
		return run.orch.Reject(assetID)
	})
}

func (a *App) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	a.batchOp(w, r, func(run *batchRun, assetID string) error {
		// The generation outlives this request.
		return run.orch.Regenerate(a.baseCtx, assetID)
	})
}

func (a *App) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	a.batchOp(w, r, func(run *batchRun, assetID string) error {
		return run.orch.UpdatePrompt(assetID, in.Prompt)
	})
}

// batchOp runs one orchestrator operation and replies with the fresh
// progress snapshot.
func (a *App) batchOp(w http.ResponseWriter, r *http.Request, op func(run *batchRun, assetID string) error) {
	run, err := a.batch(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := op(run, r.PathValue("assetId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run.orch.Progress())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var invalid *queue.InvalidTransitionError
	switch {
	case errors.Is(err, ErrBatchNotFound), errors.Is(err, queue.ErrUnknownAsset):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &invalid):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}
