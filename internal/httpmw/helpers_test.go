package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/linnemanlabs/toolsdir-web/internal/log"
)

type spyEntry struct {
	level string
	msg   string
	err   error
	kv    []any
}

// spyLogger records every call, including attributes added via With.
type spyLogger struct {
	mu      *sync.Mutex
	entries *[]spyEntry
	with    []any
}

func newSpyLogger() *spyLogger {
	return &spyLogger{mu: &sync.Mutex{}, entries: &[]spyEntry{}}
}

func (s *spyLogger) record(level, msg string, err error, kv []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(append([]any{}, s.with...), kv...)
	*s.entries = append(*s.entries, spyEntry{level: level, msg: msg, err: err, kv: all})
}

func (s *spyLogger) With(kv ...any) log.Logger {
	return &spyLogger{mu: s.mu, entries: s.entries, with: append(append([]any{}, s.with...), kv...)}
}
func (s *spyLogger) Debug(_ context.Context, msg string, kv ...any) { s.record("debug", msg, nil, kv) }
func (s *spyLogger) Info(_ context.Context, msg string, kv ...any)  { s.record("info", msg, nil, kv) }
func (s *spyLogger) Warn(_ context.Context, msg string, kv ...any)  { s.record("warn", msg, nil, kv) }
func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.record("error", msg, err, kv)
}
func (s *spyLogger) Sync() error { return nil }

func (s *spyLogger) all() []spyEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spyEntry(nil), *s.entries...)
}

func (e spyEntry) get(key string) (any, bool) {
	for i := 0; i+1 < len(e.kv); i += 2 {
		if e.kv[i] == key {
			return e.kv[i+1], true
		}
	}
	return nil, false
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})
