package server

import (
	"net/http"

	"sopdesk/internal/accounts"
	"sopdesk/internal/response"
	"sopdesk/internal/validation"
)

type createAccountRequest struct {
	Username  string `json:"username" validate:"required,max=255"`
	Password  string `json:"password" validate:"required"`
	Role      string `json:"role" validate:"omitempty,oneof=admin user"`
	CanAdd    bool   `json:"can_add"`
	CanDelete bool   `json:"can_delete"`
	Active    *bool  `json:"active"`
}

// updateAccountRequest leaves omitted fields unchanged.
type updateAccountRequest struct {
	Username  string `json:"username" validate:"max=255"`
	Password  string `json:"password"`
	Role      string `json:"role" validate:"omitempty,oneof=admin user"`
	CanAdd    *bool  `json:"can_add"`
	CanDelete *bool  `json:"can_delete"`
	Active    *bool  `json:"active"`
}

func (a *App) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	order := q.Get("order")
	ve := &validation.ValidationErrors{}
	validation.ValidateEnum(ve, "order", order, validation.ValidSortOrders)
	if err := ve.Err(); err != nil {
		a.writeError(w, r, err)
		return
	}
	list, err := a.Accounts.List(r.Context(), SessionFrom(r.Context()), accounts.Filter{
		Status:     q.Get("filter"),
		Descending: order == "desc",
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSONMeta(w, list, len(list))
}

func (a *App) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.writeError(w, r, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	acct, err := a.Accounts.Create(r.Context(), SessionFrom(r.Context()), accounts.NewAccount{
		Username:  req.Username,
		Password:  req.Password,
		Role:      req.Role,
		CanAdd:    req.CanAdd,
		CanDelete: req.CanDelete,
		Active:    active,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSONStatus(w, http.StatusCreated, acct)
}

func (a *App) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.writeError(w, r, err)
		return
	}
	acct, err := a.Accounts.Update(r.Context(), SessionFrom(r.Context()), r.PathValue("username"), accounts.Update{
		NewUsername: req.Username,
		NewPassword: req.Password,
		Role:        req.Role,
		CanAdd:      req.CanAdd,
		CanDelete:   req.CanDelete,
		Active:      req.Active,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, acct)
}

func (a *App) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if err := a.Accounts.Delete(r.Context(), SessionFrom(r.Context()), username); err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, map[string]string{"deleted": username})
}
