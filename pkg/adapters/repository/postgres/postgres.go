package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

type PostgresDB struct {
	db *sql.DB
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &PostgresDB{db: db}
	if _, err := p.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return domain.StoreErr("postgres ping", p.db.PingContext(ctx))
}

func (p *PostgresDB) EnsureSchema(ctx context.Context) ([]string, error) {
	queries := []struct {
		name string
		ddl  string
	}{
		{"table page_stats", `CREATE TABLE IF NOT EXISTS page_stats (
			page TEXT PRIMARY KEY,
			total_views BIGINT NOT NULL DEFAULT 0,
			total_clicks BIGINT NOT NULL DEFAULT 0,
			registered_users BIGINT NOT NULL DEFAULT 0,
			anonymous_users BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL
		)`},
		{"table unique_visitors", `CREATE TABLE IF NOT EXISTS unique_visitors (
			visitor_key TEXT PRIMARY KEY,
			page TEXT NOT NULL,
			is_registered BOOLEAN NOT NULL DEFAULT FALSE,
			user_id TEXT,
			session_id TEXT,
			last_visit TIMESTAMPTZ NOT NULL
		)`},
		{"index idx_unique_visitors_last_visit", `CREATE INDEX IF NOT EXISTS idx_unique_visitors_last_visit ON unique_visitors(last_visit)`},
		{"table users", `CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'user',
			status TEXT NOT NULL DEFAULT 'offline',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			password_hash TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			last_login TIMESTAMPTZ
		)`},
	}

	results := make([]string, 0, len(queries))
	for _, q := range queries {
		if _, err := p.db.ExecContext(ctx, q.ddl); err != nil {
			return results, fmt.Errorf("failed to create %s: %w", q.name, err)
		}
		results = append(results, q.name+" ready")
	}
	return results, nil
}

// ListIndexes reports the indexes on unique_visitors. Indexes backing a
// constraint are listed as protected.
func (p *PostgresDB) ListIndexes(ctx context.Context) ([]domain.IndexInfo, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT i.indexname, i.indexdef, x.indisunique,
			EXISTS (SELECT 1 FROM pg_constraint k WHERE k.conindid = c.oid)
		FROM pg_indexes i
		JOIN pg_class c ON c.relname = i.indexname
		JOIN pg_namespace n ON n.oid = c.relnamespace AND n.nspname = i.schemaname
		JOIN pg_index x ON x.indexrelid = c.oid
		WHERE i.tablename = 'unique_visitors' AND i.schemaname = current_schema()
		ORDER BY i.indexname`)
	if err != nil {
		return nil, domain.StoreErr("postgres list indexes", err)
	}
	defer rows.Close()

	out := []domain.IndexInfo{}
	for rows.Next() {
		var ix domain.IndexInfo
		if err := rows.Scan(&ix.Name, &ix.Keys, &ix.Unique, &ix.Protected); err != nil {
			return nil, domain.StoreErr("postgres scan index", err)
		}
		out = append(out, ix)
	}
	return out, domain.StoreErr("postgres list indexes", rows.Err())
}

// DropIndex drops a secondary index on unique_visitors. EnsureSchema
// recreates it.
func (p *PostgresDB) DropIndex(ctx context.Context, name string) error {
	indexes, err := p.ListIndexes(ctx)
	if err != nil {
		return err
	}
	for _, ix := range indexes {
		if ix.Name != name {
			continue
		}
		if ix.Protected {
			return &domain.ValidationError{Field: "name", Message: "Index " + name + " backs a constraint and cannot be dropped"}
		}
		_, err := p.db.ExecContext(ctx, "DROP INDEX "+pq.QuoteIdentifier(name))
		return domain.StoreErr("postgres drop index", err)
	}
	return domain.ErrIndexNotFound
}

func (p *PostgresDB) UpsertOrRefresh(ctx context.Context, visit *domain.Visit, now time.Time, window time.Duration) (bool, error) {
	existing, err := p.GetVisit(ctx, visit.VisitorKey)
	if err != nil {
		return false, err
	}

	if existing != nil && existing.FreshAt(now, window) {
		_, err := p.db.ExecContext(ctx,
			`UPDATE unique_visitors SET last_visit = $1, page = $2 WHERE visitor_key = $3`,
			now, visit.Page, visit.VisitorKey)
		return false, domain.StoreErr("postgres refresh visit", err)
	}

	query := `INSERT INTO unique_visitors (visitor_key, page, is_registered, user_id, session_id, last_visit)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (visitor_key)
	          DO UPDATE SET
	            page = EXCLUDED.page,
	            is_registered = EXCLUDED.is_registered,
	            user_id = EXCLUDED.user_id,
	            session_id = EXCLUDED.session_id,
	            last_visit = EXCLUDED.last_visit`
	_, err = p.db.ExecContext(ctx, query, visit.VisitorKey, visit.Page, visit.IsRegistered,
		sql.NullString{String: visit.UserID, Valid: visit.UserID != ""}, visit.SessionID, now)
	if err != nil {
		return false, domain.StoreErr("postgres insert visit", err)
	}
	return true, nil
}

func (p *PostgresDB) GetVisit(ctx context.Context, visitorKey string) (*domain.Visit, error) {
	query := `SELECT visitor_key, page, is_registered, user_id, session_id, last_visit
	          FROM unique_visitors WHERE visitor_key = $1`

	v, err := scanVisit(p.db.QueryRowContext(ctx, query, visitorKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StoreErr("postgres get visit", err)
	}
	return v, nil
}

func scanVisit(row interface{ Scan(...any) error }) (*domain.Visit, error) {
	var v domain.Visit
	var userID, sessionID sql.NullString
	if err := row.Scan(&v.VisitorKey, &v.Page, &v.IsRegistered, &userID, &sessionID, &v.LastVisit); err != nil {
		return nil, err
	}
	v.UserID = userID.String
	v.SessionID = sessionID.String
	return &v, nil
}

func (p *PostgresDB) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM unique_visitors WHERE last_visit < $1`, cutoff)
	if err != nil {
		return 0, domain.StoreErr("postgres sweep visits", err)
	}
	n, err := res.RowsAffected()
	return n, domain.StoreErr("postgres sweep visits", err)
}

func (p *PostgresDB) VisitStats(ctx context.Context, sampleSize int) (*domain.VisitStats, error) {
	stats := &domain.VisitStats{Samples: []domain.Visit{}}
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM unique_visitors`).Scan(&stats.Count); err != nil {
		return nil, domain.StoreErr("postgres count visits", err)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT visitor_key, page, is_registered, user_id, session_id, last_visit
	          FROM unique_visitors ORDER BY last_visit DESC LIMIT $1`, sampleSize)
	if err != nil {
		return nil, domain.StoreErr("postgres sample visits", err)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, domain.StoreErr("postgres scan visit", err)
		}
		stats.Samples = append(stats.Samples, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreErr("postgres sample visits", err)
	}
	return stats, nil
}

// ApplyEvent is a single INSERT ... ON CONFLICT, atomic under concurrent writers.
func (p *PostgresDB) ApplyEvent(ctx context.Context, delta domain.PageDelta, now time.Time) error {
	query := `INSERT INTO page_stats (page, total_views, total_clicks, registered_users, anonymous_users, created_at, last_updated)
	          VALUES ($1, $2, $3, $4, $5, $6, $6)
	          ON CONFLICT (page)
	          DO UPDATE SET
	            total_views = page_stats.total_views + EXCLUDED.total_views,
	            total_clicks = page_stats.total_clicks + EXCLUDED.total_clicks,
	            registered_users = page_stats.registered_users + EXCLUDED.registered_users,
	            anonymous_users = page_stats.anonymous_users + EXCLUDED.anonymous_users,
	            last_updated = EXCLUDED.last_updated`

	_, err := p.db.ExecContext(ctx, query, delta.Page, delta.Views, delta.Clicks, delta.Registered, delta.Anonymous, now)
	return domain.StoreErr("postgres apply page event", err)
}

func scanPage(row interface{ Scan(...any) error }) (*domain.PageStats, error) {
	var s domain.PageStats
	if err := row.Scan(&s.Page, &s.TotalViews, &s.TotalClicks, &s.RegisteredUsers, &s.AnonymousUsers, &s.CreatedAt, &s.LastUpdated); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresDB) GetPageStats(ctx context.Context, page string) (*domain.PageStats, error) {
	query := `SELECT page, total_views, total_clicks, registered_users, anonymous_users, created_at, last_updated
	          FROM page_stats WHERE page = $1`

	s, err := scanPage(p.db.QueryRowContext(ctx, query, page))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StoreErr("postgres get page stats", err)
	}
	return s, nil
}

func (p *PostgresDB) ListPageStats(ctx context.Context) ([]domain.PageStats, error) {
	query := `SELECT page, total_views, total_clicks, registered_users, anonymous_users, created_at, last_updated
	          FROM page_stats ORDER BY total_views DESC, page ASC`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.StoreErr("postgres list page stats", err)
	}
	defer rows.Close()

	pages := []domain.PageStats{}
	for rows.Next() {
		s, err := scanPage(rows)
		if err != nil {
			return nil, domain.StoreErr("postgres scan page stats", err)
		}
		pages = append(pages, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreErr("postgres list page stats", err)
	}
	return pages, nil
}

func (p *PostgresDB) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT id, email, name, role, status, is_active, password_hash, created_at, last_login
	          FROM users WHERE id = $1`

	var u domain.User
	var lastLogin sql.NullTime
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.Name, &u.Role, &u.Status, &u.IsActive, &u.PasswordHash, &u.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, domain.StoreErr("postgres get user", err)
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return &u, nil
}

func (p *PostgresDB) SaveUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	var lastLogin sql.NullTime
	if user.LastLogin != nil {
		lastLogin = sql.NullTime{Time: *user.LastLogin, Valid: true}
	}

	query := `INSERT INTO users (id, email, name, role, status, is_active, password_hash, created_at, last_login)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (id)
	          DO UPDATE SET
	            email = EXCLUDED.email,
	            name = EXCLUDED.name,
	            role = EXCLUDED.role,
	            status = EXCLUDED.status,
	            is_active = EXCLUDED.is_active,
	            password_hash = COALESCE(NULLIF(EXCLUDED.password_hash, ''), users.password_hash),
	            last_login = EXCLUDED.last_login`
	_, err := p.db.ExecContext(ctx, query, user.ID, user.Email, user.Name, user.Role, user.Status,
		user.IsActive, user.PasswordHash, user.CreatedAt, lastLogin)
	return domain.StoreErr("postgres save user", err)
}

func (p *PostgresDB) CountSignupsSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE created_at >= $1`, since).Scan(&n)
	return n, domain.StoreErr("postgres count signups", err)
}

func (p *PostgresDB) CountActiveSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE status = $1 AND last_login >= $2`, domain.StatusOnline, since).Scan(&n)
	return n, domain.StoreErr("postgres count active users", err)
}

var (
	_ ports.VisitStore       = (*PostgresDB)(nil)
	_ ports.PageCounterStore = (*PostgresDB)(nil)
	_ ports.UserDirectory    = (*PostgresDB)(nil)
	_ ports.SchemaManager    = (*PostgresDB)(nil)
	_ ports.IndexManager     = (*PostgresDB)(nil)
)
