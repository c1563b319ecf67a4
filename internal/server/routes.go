package server

import (
	"net/http"

	"sopdesk/internal/metrics"
	"sopdesk/internal/response"
)

const defaultMaxUploadBytes = 256 << 20

// Handler builds the full HTTP handler: routes plus the middleware chain.
func (a *App) Handler() http.Handler {
	if a.validate == nil {
		a.validate = newValidator()
	}
	if a.MaxUploadBytes == 0 {
		a.MaxUploadBytes = defaultMaxUploadBytes
	}

	mux := http.NewServeMux()
	authed := func(h http.HandlerFunc) http.Handler { return a.RequireSession(h) }
	admin := func(h http.HandlerFunc) http.Handler { return a.RequireSession(RequireAdmin(h)) }

	mux.HandleFunc("POST /auth/login", a.handleLogin)
	mux.HandleFunc("POST /auth/logout", a.handleLogout)
	mux.Handle("GET /auth/me", authed(a.handleMe))

	mux.Handle("GET /api/v1/records", authed(a.handleListRecords))
	mux.Handle("POST /api/v1/records", authed(a.handleCreateRecord))
	mux.Handle("GET /api/v1/records/export", authed(a.handleExportRecords))
	mux.Handle("POST /api/v1/records/delete", authed(a.handleBulkDeleteRecords))
	mux.Handle("GET /api/v1/records/{code}", authed(a.handleGetRecord))
	mux.Handle("DELETE /api/v1/records/{code}", authed(a.handleDeleteRecord))
	mux.Handle("PUT /api/v1/records/{code}/documents/{category}", authed(a.handleUpdateDocument))
	mux.Handle("GET /api/v1/records/{code}/documents/{category}", authed(a.handleDownloadDocument))

	mux.Handle("GET /api/v1/accounts", admin(a.handleListAccounts))
	mux.Handle("POST /api/v1/accounts", admin(a.handleCreateAccount))
	mux.Handle("PUT /api/v1/accounts/{username}", admin(a.handleUpdateAccount))
	mux.Handle("DELETE /api/v1/accounts/{username}", admin(a.handleDeleteAccount))

	mux.Handle("GET /api/v1/activity", authed(a.handleListActivity))
	mux.Handle("DELETE /api/v1/activity", admin(a.handleClearActivity))
	mux.Handle("POST /api/v1/activity/delete", admin(a.handleDeleteActivity))

	mux.Handle("POST /api/v1/sync/checkin", admin(a.handleCheckin))
	mux.Handle("GET /api/v1/sync/status", admin(a.handleSyncStatus))

	if a.Hub != nil {
		mux.Handle("GET /ws", a.RequireSession(a.Hub))
	}
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", a.handleHealth)

	var h http.Handler = mux
	h = GzipMiddleware(h)
	h = LoggingMiddleware(a.logger())(h)
	h = SecurityHeaders(h)
	return h
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.DB.PingContext(r.Context()); err != nil {
		response.Err(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	response.JSON(w, map[string]string{"status": "ok"})
}
