package directory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/toolsdir-web/internal/otelx"
	"github.com/linnemanlabs/toolsdir-web/internal/xerrors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrNotFound = errors.New("tool not found")
	ErrConflict = errors.New("tool slug already exists")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Observer receives one call per store operation. Not-found, conflict and
// validation outcomes are reported as success.
type Observer interface {
	ObserveStoreOp(op string, d time.Duration, err error)
}

// Store keeps tools in a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
	obs Observer
}

type StoreOption func(*Store)

func WithObserver(o Observer) StoreOption {
	return func(s *Store) { s.obs = o }
}

func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at path in WAL mode with a
// busy timeout. Use ":memory:" only for single-connection tests.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, xerrors.Wrap(err, "open database")
	}
	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, xerrors.Wrapf(err, "set pragma %q", pragma)
		}
	}

	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// PingContext lets the store back a readiness probe.
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies embedded migrations not yet recorded in schema_migrations,
// in file name order, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return xerrors.Wrap(err, "create migrations table")
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return xerrors.Wrap(err, "list migrations")
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".sql")
		if applied[version] {
			continue
		}
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return xerrors.Wrapf(err, "read migration %s", version)
		}
		if err := s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return xerrors.Wrapf(err, "execute migration %s", version)
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version)
			return xerrors.Wrapf(err, "record migration %s", version)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, xerrors.Wrap(err, "query migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, xerrors.Wrap(err, "scan migration")
		}
		applied[v] = true
	}
	return applied, xerrors.Wrap(rows.Err(), "iterate migrations")
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return xerrors.Wrap(tx.Commit(), "commit")
}

var tracer = otelx.Tracer("directory")

// begin starts a span for op. The returned func ends it and reports the
// outcome to the Observer.
func (s *Store) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "directory."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.operation", op),
		),
	)
	return ctx, func(err error) {
		if expected(err) {
			err = nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if s.obs != nil {
			s.obs.ObserveStoreOp(op, time.Since(start), err)
		}
	}
}

// expected reports outcomes that are answers, not failures.
func expected(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || IsValidation(err)
}

// ListFilter narrows List. Zero values mean no filter.
type ListFilter struct {
	Category string
	Featured *bool
	// Query matches name or description, case-insensitively.
	Query  string
	Limit  int
	Offset int
}

const toolColumns = `id, slug, name, url, description, category, tags, featured, created_at, updated_at`

// List returns tools ordered featured first, then by name.
func (s *Store) List(ctx context.Context, f ListFilter) (_ []Tool, err error) {
	ctx, end := s.begin(ctx, "list")
	defer func() { end(err) }()

	var where []string
	var args []any
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, strings.ToLower(f.Category))
	}
	if f.Featured != nil {
		where = append(where, "featured = ?")
		args = append(args, boolToInt(*f.Featured))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, `(name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`)
		pat := "%" + escapeLike(q) + "%"
		args = append(args, pat, pat)
	}

	query := "SELECT " + toolColumns + " FROM tools"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY featured DESC, name COLLATE NOCASE ASC LIMIT ? OFFSET ?"
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(err, "list tools")
	}
	defer rows.Close()

	tools := []Tool{}
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, xerrors.Wrap(rows.Err(), "iterate tools")
}

// Count returns the number of stored tools.
func (s *Store) Count(ctx context.Context) (n int, err error) {
	ctx, end := s.begin(ctx, "count")
	defer func() { end(err) }()
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tools").Scan(&n)
	return n, xerrors.Wrap(err, "count tools")
}

// Get returns the tool with slug, or ErrNotFound.
func (s *Store) Get(ctx context.Context, slug string) (_ Tool, err error) {
	ctx, end := s.begin(ctx, "get")
	defer func() { end(err) }()
	row := s.db.QueryRowContext(ctx, "SELECT "+toolColumns+" FROM tools WHERE slug = ?", slug)
	return scanTool(row)
}

// Create validates and inserts t. The ID and timestamps are always assigned
// here; any ID on t is ignored.
func (s *Store) Create(ctx context.Context, t Tool) (_ Tool, err error) {
	ctx, end := s.begin(ctx, "create")
	defer func() { end(err) }()

	t.Normalize()
	if err := Validate(t); err != nil {
		return Tool{}, err
	}
	t.ID = uuid.New()
	now := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	tags, err := encodeTags(t.Tags)
	if err != nil {
		return Tool{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tools (`+toolColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.Slug, t.Name, t.URL, t.Description, t.Category, tags,
		boolToInt(t.Featured), t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return Tool{}, ErrConflict
	}
	if err != nil {
		return Tool{}, xerrors.Wrapf(err, "insert tool %q", t.Slug)
	}
	return t, nil
}

// Update replaces the editable fields of the tool stored under slug. The
// slug itself may change; ID and CreatedAt are preserved.
func (s *Store) Update(ctx context.Context, slug string, t Tool) (_ Tool, err error) {
	ctx, end := s.begin(ctx, "update")
	defer func() { end(err) }()

	t.Normalize()
	if err := Validate(t); err != nil {
		return Tool{}, err
	}
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return Tool{}, err
	}

	var out Tool
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := scanTool(tx.QueryRowContext(ctx, "SELECT "+toolColumns+" FROM tools WHERE slug = ?", slug))
		if err != nil {
			return err
		}
		t.ID, t.CreatedAt, t.UpdatedAt = cur.ID, cur.CreatedAt, s.now().UTC()

		_, err = tx.ExecContext(ctx, `
			UPDATE tools
			SET slug = ?, name = ?, url = ?, description = ?, category = ?, tags = ?,
			    featured = ?, updated_at = ?
			WHERE id = ?`,
			t.Slug, t.Name, t.URL, t.Description, t.Category, tags,
			boolToInt(t.Featured), t.UpdatedAt, t.ID.String(),
		)
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if err != nil {
			return xerrors.Wrapf(err, "update tool %q", slug)
		}
		out = t
		return nil
	})
	return out, err
}

// Delete removes the tool with slug, or returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, slug string) (err error) {
	ctx, end := s.begin(ctx, "delete")
	defer func() { end(err) }()

	res, err := s.db.ExecContext(ctx, "DELETE FROM tools WHERE slug = ?", slug)
	if err != nil {
		return xerrors.Wrapf(err, "delete tool %q", slug)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTool(sc scanner) (Tool, error) {
	var (
		t        Tool
		id, tags string
		featured int
	)
	err := sc.Scan(&id, &t.Slug, &t.Name, &t.URL, &t.Description, &t.Category, &tags, &featured, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Tool{}, ErrNotFound
	}
	if err != nil {
		return Tool{}, xerrors.Wrap(err, "scan tool")
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return Tool{}, xerrors.Wrapf(err, "tool %q has a bad id", t.Slug)
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return Tool{}, xerrors.Wrapf(err, "tool %q has bad tags", t.Slug)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	t.Featured = featured != 0
	return t, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", xerrors.Wrap(err, "encode tags")
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	}
	return n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
