package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/auth"
)

type createTenantRequest struct {
	Name       string `json:"name"`
	OwnerName  string `json:"owner_name"`
	OwnerEmail string `json:"owner_email"`
	OwnerPhone string `json:"owner_phone"`
}

type updateTenantRequest struct {
	Name       *string `json:"name"`
	OwnerName  *string `json:"owner_name"`
	OwnerEmail *string `json:"owner_email"`
	OwnerPhone *string `json:"owner_phone"`
	IsActive   *bool   `json:"is_active"`
}

type createRoleRequest struct {
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type updateUserRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Phone    *string `json:"primary_phone"`
	Status   *string `json:"status"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func list[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Data: items}
}

func (a *API) mountAdmin(r chi.Router) {
	r.Get("/me", a.handleMe)

	r.Route("/tenants", func(r chi.Router) {
		r.Use(RequireRole(auth.RoleSuperAdmin))
		r.Post("/", a.handleCreateTenant)
		r.Get("/", a.handleListTenants)
		r.Get("/{id}", a.handleGetTenant)
		r.Patch("/{id}", a.handleUpdateTenant)
		r.Delete("/{id}", a.handleDeleteTenant)
		r.Get("/{id}/users", a.handleTenantUsers)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin))

		r.Post("/roles", a.handleCreateRole)
		r.Get("/roles", a.handleListRoles)
		r.Get("/roles/{id}", a.handleGetRole)
		r.Patch("/roles/{id}", a.handleUpdateRole)
		r.Delete("/roles/{id}", a.handleDeleteRole)

		r.Get("/users", a.handleListUsers)
		r.Get("/users/{id}", a.handleGetUser)
		r.Patch("/users/{id}", a.handleUpdateUser)
		r.Delete("/users/{id}", a.handleDeleteUser)
		r.Get("/users/{id}/roles", a.handleUserRoles)
		r.Post("/users/{id}/roles", a.handleAssignRole)
		r.Delete("/users/{id}/roles/{roleID}", a.handleRemoveRole)

		r.Get("/audit-logs", a.handleAuditLogs)
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	me, err := a.admin.Me(r.Context(), principal(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

// --- tenants ---

func (a *API) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !bind(w, r, &req) {
		return
	}
	t, err := a.admin.CreateTenant(r.Context(), principal(r), auth.TenantInput{
		Name:       req.Name,
		OwnerName:  req.OwnerName,
		OwnerEmail: req.OwnerEmail,
		OwnerPhone: req.OwnerPhone,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/tenants/%s", t.ID))
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := a.admin.ListTenants(r.Context(), principal(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(tenants))
}

func (a *API) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := a.admin.GetTenant(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	var req updateTenantRequest
	if !bind(w, r, &req) {
		return
	}
	t, err := a.admin.UpdateTenant(r.Context(), principal(r), chi.URLParam(r, "id"), auth.TenantUpdate{
		Name:       req.Name,
		OwnerName:  req.OwnerName,
		OwnerEmail: req.OwnerEmail,
		OwnerPhone: req.OwnerPhone,
		IsActive:   req.IsActive,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.DeleteTenant(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleTenantUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.admin.TenantUsers(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(users))
}

// --- roles ---

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !bind(w, r, &req) {
		return
	}
	role, err := a.admin.CreateRole(r.Context(), principal(r), req.TenantID, req.Name, req.Description)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.admin.ListRoles(r.Context(), principal(r), r.URL.Query().Get("tenant_id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(roles))
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.admin.GetRole(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if !bind(w, r, &req) {
		return
	}
	role, err := a.admin.UpdateRole(r.Context(), principal(r), chi.URLParam(r, "id"), auth.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.DeleteRole(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- users ---

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.admin.ListUsers(r.Context(), principal(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(users))
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.admin.GetUser(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !bind(w, r, &req) {
		return
	}
	user, err := a.admin.UpdateUser(r.Context(), principal(r), chi.URLParam(r, "id"), auth.UserUpdate{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Status:   req.Status,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.DeleteUser(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.admin.UserRoles(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(roles))
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if !bind(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RoleID) == "" {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	ur, err := a.admin.AssignRole(r.Context(), principal(r), chi.URLParam(r, "id"), req.RoleID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ur)
}

func (a *API) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	err := a.admin.RemoveRole(r.Context(), principal(r), chi.URLParam(r, "id"), chi.URLParam(r, "roleID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- audit ---

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := a.admin.ListAuditLogs(r.Context(), principal(r), audit.Filter{
		TenantID:  q.Get("tenant_id"),
		TableName: q.Get("table_name"),
		RecordID:  q.Get("record_id"),
		Limit:     limit,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(entries))
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit must be an integer")
	}
	if val < min || val > max {
		return 0, fmt.Errorf("limit must be between %d and %d", min, max)
	}
	return val, nil
}
