package server

import (
	"context"
	"database/sql"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"sopdesk/internal/accounts"
	"sopdesk/internal/activity"
	"sopdesk/internal/auth"
	"sopdesk/internal/dbsync"
	"sopdesk/internal/records"
	"sopdesk/internal/validation"
	"sopdesk/internal/websocket"
)

// ContextKey is the type used for request context keys.
type ContextKey string

const CtxSession ContextKey = "session"

// SessionCookie is the name of the login cookie.
const SessionCookie = "sopdesk_session"

// App holds shared dependencies for the application.
type App struct {
	DB       *sql.DB
	Sessions *auth.SessionStore
	Records  *records.Service
	Accounts *accounts.Service
	Activity *activity.Log
	Hub      *websocket.Hub
	// Replica is nil when no share database is configured.
	Replica *dbsync.Replica
	Logger  *slog.Logger

	// SecureCookies marks the session cookie Secure (HTTPS deployments).
	SecureCookies bool
	// MaxUploadBytes bounds multipart request bodies.
	MaxUploadBytes int64

	validate *validator.Validate
}

// SessionFrom returns the session stored by RequireSession, or nil.
func SessionFrom(ctx context.Context) *auth.Session {
	s, _ := ctx.Value(CtxSession).(*auth.Session)
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterValidation("productcode", func(fl validator.FieldLevel) bool {
		return validation.ValidProductCode(fl.Field().String())
	})
	return v
}

func (a *App) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}
