package server

import (
	"errors"
	"net/http"

	"sopdesk/internal/auth"
	"sopdesk/internal/metrics"
	"sopdesk/internal/response"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required"`
}

type sessionView struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	CanAdd    bool   `json:"can_add"`
	CanDelete bool   `json:"can_delete"`
}

func viewOf(s *auth.Session) sessionView {
	return sessionView{Username: s.Username, Role: s.Role, CanAdd: s.MayAdd(), CanDelete: s.MayDelete()}
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.writeError(w, r, err)
		return
	}

	sess, err := auth.Authenticate(r.Context(), a.DB, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			metrics.LoginAttempts.WithLabelValues("failure").Inc()
			a.logger().Info("Login failed", "username", req.Username)
		}
		a.writeError(w, r, err)
		return
	}
	metrics.LoginAttempts.WithLabelValues("success").Inc()

	token, err := a.Sessions.Create(r.Context(), sess.Username)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	a.logger().Info("Login", "username", sess.Username, "role", sess.Role)
	response.JSON(w, viewOf(sess))
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		if err := a.Sessions.Delete(r.Context(), cookie.Value); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	response.JSON(w, map[string]bool{"logged_out": true})
}

func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, viewOf(SessionFrom(r.Context())))
}
