// Package directoryhttp serves the tools directory JSON API.
package directoryhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/toolsdir-web/internal/directory"
	"github.com/linnemanlabs/toolsdir-web/internal/httpmw"
	"github.com/linnemanlabs/toolsdir-web/internal/log"
	"github.com/linnemanlabs/toolsdir-web/internal/ratelimit"
)

// Store is the part of *directory.Store the API uses.
type Store interface {
	List(ctx context.Context, f directory.ListFilter) ([]directory.Tool, error)
	Count(ctx context.Context) (int, error)
	Get(ctx context.Context, slug string) (directory.Tool, error)
	Create(ctx context.Context, t directory.Tool) (directory.Tool, error)
	Update(ctx context.Context, slug string, t directory.Tool) (directory.Tool, error)
	Delete(ctx context.Context, slug string) error
}

// ToolCounter is told the directory size after every successful write.
type ToolCounter interface {
	SetToolCount(n int)
}

// Options configures the API.
type Options struct {
	Store   Store
	Limiter *ratelimit.Limiter
	Logger  log.Logger

	// AdminUser and AdminPasswordHash (bcrypt) guard the write routes.
	AdminUser         string
	AdminPasswordHash []byte

	// ReadPolicy and WritePolicy default to ratelimit.ReadPolicy and
	// ratelimit.WritePolicy.
	ReadPolicy  ratelimit.Policy
	WritePolicy ratelimit.Policy

	Counter ToolCounter
}

// API implements the /api/tools endpoints.
type API struct {
	store   Store
	limiter *ratelimit.Limiter
	logger  log.Logger
	counter ToolCounter

	adminUser string
	adminHash []byte
	readPol   ratelimit.Policy
	writePol  ratelimit.Policy
}

// NewAPI creates the API. Store and Limiter are required.
func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.ReadPolicy == (ratelimit.Policy{}) {
		opts.ReadPolicy = ratelimit.ReadPolicy
	}
	if opts.WritePolicy == (ratelimit.Policy{}) {
		opts.WritePolicy = ratelimit.WritePolicy
	}
	return &API{
		store:     opts.Store,
		limiter:   opts.Limiter,
		logger:    opts.Logger,
		counter:   opts.Counter,
		adminUser: opts.AdminUser,
		adminHash: opts.AdminPasswordHash,
		readPol:   opts.ReadPolicy,
		writePol:  opts.WritePolicy,
	}
}

// RegisterRoutes attaches the tools endpoints to the router. Write routes
// are rate limited before authentication so password guessing is
// throttled too.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/tools", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(api.limiter.Middleware(api.readPol))
			r.With(httpmw.Scope("tools.list")).Get("/", api.HandleList)
			r.With(httpmw.Scope("tools.get")).Get("/{slug}", api.HandleGet)
		})
		r.Group(func(r chi.Router) {
			r.Use(api.limiter.Middleware(api.writePol))
			r.Use(httpmw.AdminAuth(api.adminUser, api.adminHash))
			r.With(httpmw.Scope("tools.create")).Post("/", api.HandleCreate)
			r.With(httpmw.Scope("tools.update")).Put("/{slug}", api.HandleUpdate)
			r.With(httpmw.Scope("tools.delete")).Delete("/{slug}", api.HandleDelete)
		})
	})
}

// HandleList serves GET /api/tools?category=&featured=&q=&limit=&offset=
func (api *API) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	f := directory.ListFilter{
		Category: q.Get("category"),
		Query:    q.Get("q"),
	}
	if v := q.Get("featured"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			api.writeError(ctx, w, http.StatusBadRequest, "Bad Request", "featured must be true or false", "featured")
			return
		}
		f.Featured = &b
	}
	var ok bool
	if f.Limit, ok = api.intParam(ctx, w, q.Get("limit"), "limit"); !ok {
		return
	}
	if f.Offset, ok = api.intParam(ctx, w, q.Get("offset"), "offset"); !ok {
		return
	}

	tools, err := api.store.List(ctx, f)
	if err != nil {
		api.writeStoreError(ctx, w, err, "list tools")
		return
	}

	limit := f.Limit
	if limit <= 0 {
		limit = directory.DefaultListLimit
	}
	api.writeJSON(ctx, w, http.StatusOK, ListResponse{
		Tools:  tools,
		Count:  len(tools),
		Limit:  min(limit, directory.MaxListLimit),
		Offset: f.Offset,
	})
}

func (api *API) intParam(ctx context.Context, w http.ResponseWriter, v, name string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		api.writeError(ctx, w, http.StatusBadRequest, "Bad Request", name+" must be a non-negative integer", name)
		return 0, false
	}
	return n, true
}

// HandleGet serves GET /api/tools/{slug}.
func (api *API) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := api.store.Get(ctx, chi.URLParam(r, "slug"))
	if err != nil {
		api.writeStoreError(ctx, w, err, "get tool")
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, t)
}

// HandleCreate serves POST /api/tools.
func (api *API) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	in, ok := api.decodeTool(ctx, w, r)
	if !ok {
		return
	}
	t, err := api.store.Create(ctx, in)
	if err != nil {
		api.writeStoreError(ctx, w, err, "create tool")
		return
	}
	api.logger.Info(ctx, "tool created", "slug", t.Slug, "id", t.ID.String())
	api.refreshCount(ctx)
	w.Header().Set("Location", "/api/tools/"+t.Slug)
	api.writeJSON(ctx, w, http.StatusCreated, t)
}

// HandleUpdate serves PUT /api/tools/{slug}.
func (api *API) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	in, ok := api.decodeTool(ctx, w, r)
	if !ok {
		return
	}
	slug := chi.URLParam(r, "slug")
	t, err := api.store.Update(ctx, slug, in)
	if err != nil {
		api.writeStoreError(ctx, w, err, "update tool")
		return
	}
	api.logger.Info(ctx, "tool updated", "slug", slug, "new_slug", t.Slug)
	api.writeJSON(ctx, w, http.StatusOK, t)
}

// HandleDelete serves DELETE /api/tools/{slug}.
func (api *API) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")
	if err := api.store.Delete(ctx, slug); err != nil {
		api.writeStoreError(ctx, w, err, "delete tool")
		return
	}
	api.logger.Info(ctx, "tool deleted", "slug", slug)
	api.refreshCount(ctx)
	w.WriteHeader(http.StatusNoContent)
}

func (api *API) decodeTool(ctx context.Context, w http.ResponseWriter, r *http.Request) (directory.Tool, bool) {
	var t directory.Tool
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			api.writeError(ctx, w, http.StatusRequestEntityTooLarge, "Request Entity Too Large",
				"request body must be at most "+strconv.FormatInt(mbe.Limit, 10)+" bytes", "")
			return t, false
		}
		api.writeError(ctx, w, http.StatusBadRequest, "Bad Request", "request body must be a JSON tool object", "")
		return t, false
	}
	return t, true
}

func (api *API) refreshCount(ctx context.Context) {
	if api.counter == nil {
		return
	}
	n, err := api.store.Count(ctx)
	if err != nil {
		api.logger.Warn(ctx, "failed to refresh tool count", "error", err)
		return
	}
	api.counter.SetToolCount(n)
}

func (api *API) writeStoreError(ctx context.Context, w http.ResponseWriter, err error, op string) {
	var ve *directory.ValidationError
	switch {
	case errors.As(err, &ve):
		api.writeError(ctx, w, http.StatusBadRequest, "Bad Request", ve.Error(), ve.Field)
	case errors.Is(err, directory.ErrNotFound):
		api.writeError(ctx, w, http.StatusNotFound, "Not Found", err.Error(), "")
	case errors.Is(err, directory.ErrConflict):
		api.writeError(ctx, w, http.StatusConflict, "Conflict", err.Error(), "slug")
	default:
		api.logger.Error(ctx, err, op+" failed")
		api.writeError(ctx, w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred.", "")
	}
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, status int, title, msg, field string) {
	api.writeJSON(ctx, w, status, ErrorResponse{Error: title, Message: msg, Field: field})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
