package server

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"sopdesk/internal/accounts"
	"sopdesk/internal/attach"
	"sopdesk/internal/auth"
	"sopdesk/internal/dbsync"
	"sopdesk/internal/export"
	"sopdesk/internal/records"
	"sopdesk/internal/response"
	"sopdesk/internal/validation"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *validation.ValidationErrors
	var vv validator.ValidationErrors
	switch {
	case errors.As(err, &ve), errors.As(err, &vv):
		return http.StatusBadRequest
	case errors.Is(err, export.ErrUnknownFormat), errors.Is(err, attach.ErrUnknownCategory):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden),
		errors.Is(err, accounts.ErrSelfModify),
		errors.Is(err, accounts.ErrSelfDelete):
		return http.StatusForbidden
	case errors.Is(err, records.ErrNotFound),
		errors.Is(err, records.ErrNoDocument),
		errors.Is(err, accounts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, records.ErrDuplicateCode),
		errors.Is(err, accounts.ErrDuplicateUsername),
		errors.Is(err, dbsync.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError writes err with the matching status. Internal errors are
// logged and reported without detail.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	switch code {
	case http.StatusBadRequest:
		var ve *validation.ValidationErrors
		var vv validator.ValidationErrors
		if errors.As(err, &ve) || errors.As(err, &vv) {
			response.Invalid(w, err)
			return
		}
	case http.StatusInternalServerError:
		a.logger().Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Err(w, "internal error", code)
		return
	}
	response.Err(w, err.Error(), code)
}
