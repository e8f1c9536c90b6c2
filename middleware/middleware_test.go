package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/MrEthical07/goIdentity/store"
	"github.com/MrEthical07/goIdentity/tenant"
)

func newEngine(t *testing.T) *goIdentity.Engine {
	t.Helper()
	cfg := goIdentity.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Security.EnableLoginThrottle = false

	e, err := goIdentity.New().WithConfig(cfg).WithStore(store.OpenTestDB(t)).Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func loginAs(t *testing.T, e *goIdentity.Engine, email string, role permission.Role) string {
	t.Helper()
	ctx := context.Background()
	tc, err := tenant.New("t1")
	require.NoError(t, err)

	p, err := e.RegisterPrincipal(ctx, tc, goIdentity.RegisterInput{DisplayName: email, Email: email, Password: "long-password-1"})
	require.NoError(t, err)
	if _, err := e.CreateRole(ctx, tc, role); err != nil {
		require.ErrorIs(t, err, goIdentity.ErrRoleExists)
	}
	require.NoError(t, e.AssignRole(ctx, tc, p.PrincipalID, role))

	res, err := e.Login(ctx, "t1", email, "long-password-1")
	require.NoError(t, err)
	return res.Token
}

func TestGuardAndRequire(t *testing.T) {
	e := newEngine(t)
	managerToken := loginAs(t, e, "m@acme.io", permission.Manager)
	analystToken := loginAs(t, e, "a@acme.io", permission.Analyst)

	var seenTenant tenant.ID
	handler := Guard(e)(Require(e, goIdentity.RequirePermission(permission.PermReportsWrite))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, ok := tenant.FromContext(r.Context())
			require.True(t, ok)
			seenTenant = tc.ID()
			w.WriteHeader(http.StatusNoContent)
		})))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.token", http.StatusUnauthorized},
		{"analyst forbidden", "Bearer " + analystToken, http.StatusForbidden},
		{"manager allowed", "bearer " + managerToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/reports", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
	assert.Equal(t, tenant.ID("t1"), seenTenant)
}

func TestRequireWithoutGuard(t *testing.T) {
	e := newEngine(t)
	handler := Require(e, goIdentity.RequireRole(permission.Admin))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClientIP(t *testing.T) {
	var seen context.Context
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = r.Context() }))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)

	assert.Equal(t, "192.0.2.7", goIdentity.ClientIPFromContext(seen))
}

func TestNilEngineGuard(t *testing.T) {
	rec := httptest.NewRecorder()
	Guard(nil)(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
