package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/togetherhq/identity/internal/api/response"
)

// AdminKey returns middleware that gates a route group behind the operator
// API key. The comparison is constant time.
func AdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-Admin-Key")
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				response.WriteError(w, http.StatusUnauthorized, "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
