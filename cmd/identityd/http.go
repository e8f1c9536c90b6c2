package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/internal/config"
	"github.com/MrEthical07/goIdentity/metrics/export/prometheus"
	"github.com/MrEthical07/goIdentity/middleware"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/MrEthical07/goIdentity/tenant"
)

const maxBodyBytes = 64 << 10

type api struct {
	engine *goIdentity.Engine
	log    logrus.FieldLogger
}

func newRouter(engine *goIdentity.Engine, hs config.HTTPSettings, log logrus.FieldLogger) http.Handler {
	a := &api{engine: engine, log: log}
	require := func(perm string) func(http.Handler) http.Handler {
		return middleware.Require(engine, goIdentity.RequirePermission(perm))
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer, middleware.ClientIP)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Method(http.MethodGet, "/metrics", prometheus.NewExporter(engine).Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: hs.RequestsPerSecond,
			Burst:             hs.Burst,
		}))
		r.Post("/v1/tenants/{tenantID}/login", a.login)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(engine))
		r.Get("/v1/me", a.me)
		r.With(require(permission.PermPrincipalsRead)).Get("/v1/principals", a.listPrincipals)
		r.With(require(permission.PermPrincipalsWrite)).Post("/v1/principals", a.registerPrincipal)
		r.With(require(permission.PermRolesManage)).Post("/v1/roles", a.createRole)
		r.With(require(permission.PermRolesManage)).Put("/v1/principals/{principalID}/roles/{role}", a.assignRole)
		r.With(require(permission.PermRolesManage)).Delete("/v1/principals/{principalID}/roles/{role}", a.revokeRole)
	})
	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string    `json:"token"`
	PrincipalID string    `json:"principal_id"`
	TenantID    string    `json:"tenant_id"`
	Roles       []string  `json:"roles"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.Login(r.Context(), tenant.ID(chi.URLParam(r, "tenantID")), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:       res.Token,
		PrincipalID: res.PrincipalID,
		TenantID:    res.TenantID,
		Roles:       permission.RoleNames(res.Roles),
		ExpiresAt:   res.ExpiresAt,
	})
}

type meResponse struct {
	PrincipalID string    `json:"principal_id"`
	TenantID    string    `json:"tenant_id"`
	Roles       []string  `json:"roles"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	cred, _ := middleware.CredentialFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{
		PrincipalID: cred.PrincipalID,
		TenantID:    cred.TenantID,
		Roles:       permission.RoleNames(cred.Roles),
		ExpiresAt:   cred.ExpiresAt,
	})
}

type principalJSON struct {
	PrincipalID string    `json:"principal_id"`
	TenantID    string    `json:"tenant_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"created_at"`
}

func toPrincipalJSON(p goIdentity.Principal) principalJSON {
	return principalJSON{
		PrincipalID: p.PrincipalID,
		TenantID:    p.TenantID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		CreatedAt:   p.CreatedAt,
	}
}

func (a *api) listPrincipals(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())
	ps, err := a.engine.ListPrincipals(r.Context(), tc)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]principalJSON, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPrincipalJSON(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type registerRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

func (a *api) registerPrincipal(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	tc, _ := tenant.FromContext(r.Context())
	p, err := a.engine.RegisterPrincipal(r.Context(), tc, goIdentity.RegisterInput{
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    req.Password,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPrincipalJSON(*p))
}

type roleRequest struct {
	Name string `json:"name"`
}

type roleJSON struct {
	RoleID   string `json:"role_id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

func (a *api) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decode(w, r, &req) {
		return
	}
	tc, _ := tenant.FromContext(r.Context())
	role, err := a.engine.CreateRole(r.Context(), tc, permission.Role(req.Name))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, roleJSON{RoleID: role.RoleID, TenantID: role.TenantID, Name: role.Name.String()})
}

func (a *api) assignRole(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())
	err := a.engine.AssignRole(r.Context(), tc, chi.URLParam(r, "principalID"), permission.Role(chi.URLParam(r, "role")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) revokeRole(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())
	err := a.engine.RevokeRole(r.Context(), tc, chi.URLParam(r, "principalID"), permission.Role(chi.URLParam(r, "role")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps engine errors onto status codes. Anything unmapped is logged and
// answered with 500.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, goIdentity.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, goIdentity.ErrLoginRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, goIdentity.ErrLoginThrottleUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, goIdentity.ErrPrincipalExists),
		errors.Is(err, goIdentity.ErrRoleExists),
		errors.Is(err, goIdentity.ErrLastOwner):
		status = http.StatusConflict
	case errors.Is(err, goIdentity.ErrPrincipalInvalid),
		errors.Is(err, goIdentity.ErrPasswordPolicy),
		errors.Is(err, goIdentity.ErrRoleInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, goIdentity.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, goIdentity.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		a.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

type errorBody struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
