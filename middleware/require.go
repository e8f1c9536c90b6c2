package middleware

import (
	"net/http"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// Require answers 403 unless the guarded credential satisfies want. It must
// be mounted behind Guard; a request without a credential answers 401.
func Require(engine *goIdentity.Engine, want goIdentity.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := CredentialFromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}
			if d := engine.Authorize(cred, want); !d.Allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
