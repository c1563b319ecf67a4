package server

import (
	"io"
	"net/http"

	"sopdesk/internal/response"
)

type checkinRequest struct {
	Force bool `json:"force"`
}

func (a *App) handleCheckin(w http.ResponseWriter, r *http.Request) {
	if a.Replica == nil {
		response.Err(w, "no share database configured", http.StatusNotFound)
		return
	}
	var req checkinRequest
	if err := response.DecodeBody(r, &req); err != nil && err != io.EOF {
		response.Err(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.Replica.Checkin(r.Context(), req.Force); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger().Info("Share database checked in", "username", SessionFrom(r.Context()).Username, "forced", req.Force)
	response.JSON(w, map[string]bool{"checked_in": true})
}

func (a *App) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if a.Replica == nil {
		response.JSON(w, map[string]any{"configured": false})
		return
	}
	response.JSON(w, map[string]any{
		"configured": true,
		"share":      a.Replica.SharePath,
		"stale":      a.Replica.Stale(),
		"pending":    a.Replica.Pending(),
	})
}
