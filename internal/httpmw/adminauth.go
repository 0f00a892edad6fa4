package httpmw

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/linnemanlabs/toolsdir-web/internal/cryptoutil"
	"github.com/linnemanlabs/toolsdir-web/internal/log"
)

// AdminAuth guards a route with HTTP Basic auth for the single admin
// account. passwordHash is a bcrypt hash. With an empty user or hash every
// request is refused, so a missing credential never opens the routes.
func AdminAuth(user string, passwordHash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || user == "" || len(passwordHash) == 0 {
				unauthorized(w)
				return
			}
			userOK := cryptoutil.ConstantTimeEqual(u, user)
			// always pay the bcrypt cost so a wrong username is not faster
			passOK := bcrypt.CompareHashAndPassword(passwordHash, []byte(p)) == nil
			if !userOK || !passOK {
				log.FromContext(r.Context()).Warn(r.Context(), "admin auth failed")
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="toolsdir admin", charset="UTF-8"`)
	writeJSONError(w, http.StatusUnauthorized, "Unauthorized", "Valid admin credentials are required.")
}
