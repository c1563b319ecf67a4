package server

import (
	"net/http"

	"sopdesk/internal/response"
)

type deleteActivityRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1"`
}

func (a *App) handleListActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Activity.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSONMeta(w, entries, len(entries))
}

func (a *App) handleClearActivity(w http.ResponseWriter, r *http.Request) {
	n, err := a.Activity.DeleteAll(r.Context(), SessionFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, map[string]int64{"deleted": n})
}

func (a *App) handleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	var req deleteActivityRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.writeError(w, r, err)
		return
	}
	n, err := a.Activity.Delete(r.Context(), SessionFrom(r.Context()), req.IDs)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, map[string]int64{"deleted": n})
}
