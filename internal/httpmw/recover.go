package httpmw

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/linnemanlabs/toolsdir-web/internal/log"
	"github.com/linnemanlabs/toolsdir-web/internal/xerrors"
)

// Recover turns a handler panic into a JSON 500 and an error log line.
// onPanic, if set, runs after logging (used for the panic counter).
// http.ErrAbortHandler is re-panicked so net/http can abort the response.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler { //nolint:errorlint // sentinel identity
					panic(v)
				}

				err, ok := v.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", v)
				}
				logger.Error(r.Context(), xerrors.WithStack(err), "panic recovered",
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
					"panic_stack", string(debug.Stack()),
				)
				if onPanic != nil {
					onPanic()
				}
				writeJSONError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred.")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSONError writes the {"error","message"} body used across the API.
func writeJSONError(w http.ResponseWriter, status int, title, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": title, "message": msg})
}
