package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/tenant"
)

type credentialContextKey struct{}

// CredentialFromContext returns the credential installed by Guard.
func CredentialFromContext(ctx context.Context) (*jwt.Credential, bool) {
	cred, ok := ctx.Value(credentialContextKey{}).(*jwt.Credential)
	return cred, ok && cred != nil
}

// Guard rejects requests without a valid bearer credential. Accepted requests
// carry the credential and its tenant.Context in the request context.
func Guard(engine *goIdentity.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				unauthorized(w)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			cred, err := engine.Validate(r.Context(), token)
			if err != nil {
				unauthorized(w)
				return
			}
			tc, err := tenant.Resolve(cred)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), credentialContextKey{}, cred)
			ctx = tenant.WithContext(ctx, tc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP attaches the remote address to the request context so the login
// throttle can count attempts per IP. Proxies must rewrite RemoteAddr.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		next.ServeHTTP(w, r.WithContext(goIdentity.WithClientIP(r.Context(), host)))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="identity"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
