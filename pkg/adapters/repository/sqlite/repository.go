package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
	_ "modernc.org/sqlite" // Local SQLite driver
)

// Timestamps are stored as unix milliseconds so range comparisons stay numeric.
type SQLiteRepository struct {
	db     *sql.DB
	driver string
}

func NewSQLiteRepository(dbURL string) (*SQLiteRepository, error) {
	driverName := "sqlite"
	if strings.Contains(dbURL, "libsql://") || strings.Contains(dbURL, "wss://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, err
	}

	// Each connection to a private in-memory database sees its own copy.
	if isMemory(dbURL) {
		db.SetMaxOpenConns(1)
	}

	if driverName == "sqlite" {
		if err := applyPragmas(db, isMemory(dbURL)); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{db: db, driver: driverName}, nil
}

func isMemory(dbURL string) bool {
	return dbURL == ":memory:" || strings.Contains(dbURL, "mode=memory")
}

func applyPragmas(db *sql.DB, memory bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA foreign_keys = ON",
	}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	return nil
}

var schema = []struct {
	name string
	ddl  string
}{
	{"table page_stats", `
	CREATE TABLE IF NOT EXISTS page_stats (
		page TEXT PRIMARY KEY,
		total_views INTEGER NOT NULL DEFAULT 0,
		total_clicks INTEGER NOT NULL DEFAULT 0,
		registered_users INTEGER NOT NULL DEFAULT 0,
		anonymous_users INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_updated INTEGER NOT NULL
	)`},
	{"index idx_page_stats_views", `CREATE INDEX IF NOT EXISTS idx_page_stats_views ON page_stats(total_views DESC)`},
	{"table unique_visitors", `
	CREATE TABLE IF NOT EXISTS unique_visitors (
		visitor_key TEXT PRIMARY KEY,
		page TEXT NOT NULL,
		is_registered INTEGER NOT NULL DEFAULT 0,
		user_id TEXT,
		session_id TEXT,
		last_visit INTEGER NOT NULL
	)`},
	{"index idx_unique_visitors_last_visit", `CREATE INDEX IF NOT EXISTS idx_unique_visitors_last_visit ON unique_visitors(last_visit)`},
	{"table users", `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		status TEXT NOT NULL DEFAULT 'offline',
		is_active INTEGER NOT NULL DEFAULT 1,
		password_hash TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		last_login INTEGER
	)`},
	{"index idx_users_created_at", `CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at)`},
}

func migrate(db *sql.DB) ([]string, error) {
	results := make([]string, 0, len(schema))
	for _, s := range schema {
		if _, err := db.Exec(s.ddl); err != nil {
			return results, fmt.Errorf("migrate %s: %w", s.name, err)
		}
		results = append(results, s.name+" ready")
	}
	return results, nil
}

func ms(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMS(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// --- Visit deduplication store ---

func (r *SQLiteRepository) UpsertOrRefresh(ctx context.Context, visit *domain.Visit, now time.Time, window time.Duration) (bool, error) {
	existing, err := r.GetVisit(ctx, visit.VisitorKey)
	if err != nil {
		return false, err
	}

	if existing != nil && existing.FreshAt(now, window) {
		_, err := r.db.ExecContext(ctx,
			`UPDATE unique_visitors SET last_visit = ?, page = ? WHERE visitor_key = ?`,
			ms(now), visit.Page, visit.VisitorKey)
		return false, domain.StoreErr("sqlite refresh visit", err)
	}

	// Absent or stale: replace the record. A stale row may still be here
	// because the sweeper has not run yet.
	query := `INSERT INTO unique_visitors (visitor_key, page, is_registered, user_id, session_id, last_visit)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT(visitor_key) DO UPDATE SET
				page = excluded.page,
				is_registered = excluded.is_registered,
				user_id = excluded.user_id,
				session_id = excluded.session_id,
				last_visit = excluded.last_visit`
	_, err = r.db.ExecContext(ctx, query,
		visit.VisitorKey, visit.Page, visit.IsRegistered, nullString(visit.UserID), visit.SessionID, ms(now))
	if err != nil {
		return false, domain.StoreErr("sqlite insert visit", err)
	}
	return true, nil
}

func (r *SQLiteRepository) GetVisit(ctx context.Context, visitorKey string) (*domain.Visit, error) {
	query := `SELECT visitor_key, page, is_registered, user_id, session_id, last_visit
			  FROM unique_visitors WHERE visitor_key = ?`

	v, err := scanVisit(r.db.QueryRowContext(ctx, query, visitorKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StoreErr("sqlite get visit", err)
	}
	return v, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (*domain.Visit, error) {
	var v domain.Visit
	var userID, sessionID sql.NullString
	var lastVisit int64
	if err := row.Scan(&v.VisitorKey, &v.Page, &v.IsRegistered, &userID, &sessionID, &lastVisit); err != nil {
		return nil, err
	}
	v.UserID = userID.String
	v.SessionID = sessionID.String
	v.LastVisit = fromMS(lastVisit)
	return &v, nil
}

func (r *SQLiteRepository) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM unique_visitors WHERE last_visit < ?`, ms(cutoff))
	if err != nil {
		return 0, domain.StoreErr("sqlite sweep visits", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.StoreErr("sqlite sweep visits", err)
	}
	return n, nil
}

func (r *SQLiteRepository) VisitStats(ctx context.Context, sampleSize int) (*domain.VisitStats, error) {
	stats := &domain.VisitStats{Samples: []domain.Visit{}}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM unique_visitors`).Scan(&stats.Count); err != nil {
		return nil, domain.StoreErr("sqlite count visits", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT visitor_key, page, is_registered, user_id, session_id, last_visit
		FROM unique_visitors ORDER BY last_visit DESC LIMIT ?`, sampleSize)
	if err != nil {
		return nil, domain.StoreErr("sqlite sample visits", err)
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, domain.StoreErr("sqlite scan visit", err)
		}
		stats.Samples = append(stats.Samples, *v)
	}
	return stats, domain.StoreErr("sqlite sample visits", rows.Err())
}

// --- Page counter store ---

// ApplyEvent creates the page row or increments it in one statement, so two
// concurrent events for the same page never lose an update.
func (r *SQLiteRepository) ApplyEvent(ctx context.Context, delta domain.PageDelta, now time.Time) error {
	query := `INSERT INTO page_stats (page, total_views, total_clicks, registered_users, anonymous_users, created_at, last_updated)
			  VALUES (?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(page) DO UPDATE SET
				total_views = page_stats.total_views + excluded.total_views,
				total_clicks = page_stats.total_clicks + excluded.total_clicks,
				registered_users = page_stats.registered_users + excluded.registered_users,
				anonymous_users = page_stats.anonymous_users + excluded.anonymous_users,
				last_updated = excluded.last_updated`

	_, err := r.db.ExecContext(ctx, query,
		delta.Page, delta.Views, delta.Clicks, delta.Registered, delta.Anonymous, ms(now), ms(now))
	return domain.StoreErr("sqlite apply page event", err)
}

const pageColumns = `page, total_views, total_clicks, registered_users, anonymous_users, created_at, last_updated`

func scanPage(row rowScanner) (*domain.PageStats, error) {
	var p domain.PageStats
	var createdAt, lastUpdated int64
	if err := row.Scan(&p.Page, &p.TotalViews, &p.TotalClicks, &p.RegisteredUsers, &p.AnonymousUsers, &createdAt, &lastUpdated); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMS(createdAt)
	p.LastUpdated = fromMS(lastUpdated)
	return &p, nil
}

func (r *SQLiteRepository) GetPageStats(ctx context.Context, page string) (*domain.PageStats, error) {
	p, err := scanPage(r.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM page_stats WHERE page = ?`, page))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StoreErr("sqlite get page stats", err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListPageStats(ctx context.Context) ([]domain.PageStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+pageColumns+` FROM page_stats ORDER BY total_views DESC, page ASC`)
	if err != nil {
		return nil, domain.StoreErr("sqlite list page stats", err)
	}
	defer rows.Close()

	pages := []domain.PageStats{}
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, domain.StoreErr("sqlite scan page stats", err)
		}
		pages = append(pages, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreErr("sqlite list page stats", err)
	}
	return pages, nil
}

// --- User directory ---

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT id, email, name, role, status, is_active, password_hash, created_at, last_login
			  FROM users WHERE id = ?`

	var u domain.User
	var createdAt int64
	var lastLogin sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.Name, &u.Role, &u.Status, &u.IsActive, &u.PasswordHash, &createdAt, &lastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, domain.StoreErr("sqlite get user", err)
	}
	u.CreatedAt = fromMS(createdAt)
	if lastLogin.Valid {
		t := fromMS(lastLogin.Int64)
		u.LastLogin = &t
	}
	return &u, nil
}

func (r *SQLiteRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	var lastLogin sql.NullInt64
	if user.LastLogin != nil {
		lastLogin = sql.NullInt64{Int64: ms(*user.LastLogin), Valid: true}
	}

	query := `INSERT INTO users (id, email, name, role, status, is_active, password_hash, created_at, last_login)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
				email = excluded.email,
				name = excluded.name,
				role = excluded.role,
				status = excluded.status,
				is_active = excluded.is_active,
				password_hash = CASE WHEN excluded.password_hash = '' THEN users.password_hash ELSE excluded.password_hash END,
				last_login = excluded.last_login`
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.Role, user.Status, user.IsActive, user.PasswordHash, ms(user.CreatedAt), lastLogin)
	return domain.StoreErr("sqlite save user", err)
}

func (r *SQLiteRepository) CountSignupsSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE created_at >= ?`, ms(since)).Scan(&n)
	return n, domain.StoreErr("sqlite count signups", err)
}

func (r *SQLiteRepository) CountActiveSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE status = ? AND last_login >= ?`, domain.StatusOnline, ms(since)).Scan(&n)
	return n, domain.StoreErr("sqlite count active users", err)
}

// --- Schema ---

func (r *SQLiteRepository) EnsureSchema(ctx context.Context) ([]string, error) {
	return migrate(r.db)
}

// ListIndexes reports the indexes on unique_visitors. Indexes SQLite
// creates for the primary key are listed as protected.
func (r *SQLiteRepository) ListIndexes(ctx context.Context) ([]domain.IndexInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.name, l."unique", l.origin,
			(SELECT group_concat(i.name, ', ') FROM pragma_index_info(l.name) i)
		FROM pragma_index_list('unique_visitors') l
		ORDER BY l.name`)
	if err != nil {
		return nil, domain.StoreErr("sqlite list indexes", err)
	}
	defer rows.Close()

	out := []domain.IndexInfo{}
	for rows.Next() {
		var (
			ix     domain.IndexInfo
			origin string
			keys   sql.NullString
		)
		if err := rows.Scan(&ix.Name, &ix.Unique, &origin, &keys); err != nil {
			return nil, domain.StoreErr("sqlite scan index", err)
		}
		ix.Keys = keys.String
		ix.Protected = origin != "c"
		out = append(out, ix)
	}
	return out, domain.StoreErr("sqlite list indexes", rows.Err())
}

// DropIndex drops a secondary index on unique_visitors. EnsureSchema
// recreates it.
func (r *SQLiteRepository) DropIndex(ctx context.Context, name string) error {
	indexes, err := r.ListIndexes(ctx)
	if err != nil {
		return err
	}
	for _, ix := range indexes {
		if ix.Name != name {
			continue
		}
		if ix.Protected {
			return &domain.ValidationError{Field: "name", Message: "Index " + name + " backs the primary key and cannot be dropped"}
		}
		_, err := r.db.ExecContext(ctx, `DROP INDEX "`+strings.ReplaceAll(name, `"`, `""`)+`"`)
		return domain.StoreErr("sqlite drop index", err)
	}
	return domain.ErrIndexNotFound
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return domain.StoreErr("sqlite ping", r.db.PingContext(ctx))
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure interface compliance
var (
	_ ports.VisitStore       = (*SQLiteRepository)(nil)
	_ ports.PageCounterStore = (*SQLiteRepository)(nil)
	_ ports.UserDirectory    = (*SQLiteRepository)(nil)
	_ ports.SchemaManager    = (*SQLiteRepository)(nil)
	_ ports.IndexManager     = (*SQLiteRepository)(nil)
)
