package profilestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/profile-service/internal/model"
)

// SQLiteStore implements Store on an embedded database. It serves local
// development and the CLI commands that run without a warehouse connection.
type SQLiteStore struct {
	db          *sql.DB
	staleWindow time.Duration
}

// NewSQLite opens (and creates if needed) a sqlite database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrapf(err, "profile: open sqlite %s", path)
	}
	return &SQLiteStore{db: conn, staleWindow: DefaultStaleWindow}, nil
}

func (s *SQLiteStore) WithStaleWindow(d time.Duration) *SQLiteStore {
	s.staleWindow = d
	return s
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS consolidated_profiles (
	profile_id            TEXT PRIMARY KEY,
	entity_key            TEXT NOT NULL UNIQUE,
	primary_name          TEXT NOT NULL,
	alternative_names     TEXT,
	financial             TEXT,
	enrichment            TEXT,
	insights              TEXT,
	network               TEXT,
	financial_expires_at  TIMESTAMP,
	enrichment_expires_at TIMESTAMP,
	insights_expires_at   TIMESTAMP,
	network_expires_at    TIMESTAMP,
	industry              TEXT NOT NULL DEFAULT '',
	size_tier             TEXT NOT NULL DEFAULT '',
	performance_rating    REAL NOT NULL DEFAULT 0,
	total_value           REAL NOT NULL DEFAULT 0,
	last_activity_at      TIMESTAMP,
	completeness          INTEGER NOT NULL DEFAULT 0,
	profile_version       INTEGER NOT NULL DEFAULT 1,
	created_at            TIMESTAMP NOT NULL,
	last_updated_at       TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_checkpoints (
	source     TEXT PRIMARY KEY,
	checked_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_profiles_last_updated ON consolidated_profiles(last_updated_at);
CREATE INDEX IF NOT EXISTS idx_profiles_primary_name ON consolidated_profiles(primary_name);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "profile: migrate sqlite")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetByKey(ctx context.Context, entityKey string, includeStale bool) (*model.ConsolidatedProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM consolidated_profiles WHERE entity_key = ?`
	args := []any{entityKey}
	if !includeStale {
		query += ` AND last_updated_at > ?`
		args = append(args, time.Now().UTC().Add(-s.staleWindow))
	}

	p, err := scanSQLiteProfile(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "profile: get %s", entityKey)
	}
	return p, nil
}

func (s *SQLiteStore) Query(ctx context.Context, f Filter, p Page) (*QueryResult, error) {
	where, args := buildSQLiteFilter(f, nil)
	return s.runPagedQuery(ctx, where, args, p, orderClause(p))
}

func (s *SQLiteStore) SearchByText(ctx context.Context, text string, f Filter, p Page) (*QueryResult, error) {
	var args []any
	var where []string
	if text != "" {
		where = append(where, "primary_name LIKE ?")
		args = append(args, "%"+text+"%")
	}
	where, args = buildSQLiteFilter(f, args, where...)

	order := orderClause(p)
	if text != "" {
		order = "(primary_name LIKE ?) DESC, " + order
		args = append(args, text+"%")
	}
	return s.runPagedQuery(ctx, where, args, p, order)
}

func (s *SQLiteStore) runPagedQuery(ctx context.Context, where []string, args []any, p Page, order string) (*QueryResult, error) {
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	// Count args exclude any that belong to the ORDER BY ranking term.
	countArgs := args
	if strings.Contains(order, "?") {
		countArgs = args[:len(args)-1]
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consolidated_profiles`+clause, countArgs...).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "profile: count")
	}

	limit, offset := pageLimits(p)
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM consolidated_profiles`+clause+` ORDER BY `+order+` LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "profile: query")
	}
	defer rows.Close()

	var items []model.ConsolidatedProfile
	for rows.Next() {
		item, err := scanSQLiteProfile(rows)
		if err != nil {
			return nil, eris.Wrap(err, "profile: scan")
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "profile: rows")
	}
	return &QueryResult{Items: items, TotalCount: total}, nil
}

func buildSQLiteFilter(f Filter, args []any, where ...string) ([]string, []any) {
	inClause := func(col string, vals []string) {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
		where = append(where, fmt.Sprintf("%s IN (%s)", col, marks))
		for _, v := range vals {
			args = append(args, v)
		}
	}

	if len(f.EntityKeys) > 0 {
		inClause("entity_key", f.EntityKeys)
	}
	if len(f.Industries) > 0 {
		inClause("industry", f.Industries)
	}
	if len(f.SizeTiers) > 0 {
		inClause("size_tier", f.SizeTiers)
	}
	if f.MinPerformance != nil {
		where = append(where, "performance_rating >= ?")
		args = append(args, *f.MinPerformance)
	}
	if f.MaxPerformance != nil {
		where = append(where, "performance_rating <= ?")
		args = append(args, *f.MaxPerformance)
	}
	if f.MinCompleteness > 0 {
		where = append(where, "completeness >= ?")
		args = append(args, f.MinCompleteness)
	}
	if f.MaxAge > 0 {
		where = append(where, "last_updated_at > ?")
		args = append(args, time.Now().UTC().Add(-f.MaxAge))
	}
	for _, kind := range f.RequireSources {
		if col := slotColumn(kind); col != "" {
			where = append(where, col+" IS NOT NULL")
		}
	}
	return where, args
}

func (s *SQLiteStore) Upsert(ctx context.Context, p *model.ConsolidatedProfile) error {
	altJSON, err := json.Marshal(p.AlternativeNames)
	if err != nil {
		return eris.Wrap(err, "profile: marshal alternative names")
	}
	finJSON, err := marshalSlot(p.Financial)
	if err != nil {
		return err
	}
	enrJSON, err := marshalSlot(p.Enrichment)
	if err != nil {
		return err
	}
	insJSON, err := marshalSlot(p.Insights)
	if err != nil {
		return err
	}
	netJSON, err := marshalSlot(p.Network)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO consolidated_profiles (
			profile_id, entity_key, primary_name, alternative_names,
			financial, enrichment, insights, network,
			financial_expires_at, enrichment_expires_at, insights_expires_at, network_expires_at,
			industry, size_tier, performance_rating, total_value, last_activity_at,
			completeness, profile_version, created_at, last_updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (entity_key) DO UPDATE SET
			primary_name = excluded.primary_name,
			alternative_names = excluded.alternative_names,
			financial = excluded.financial,
			enrichment = excluded.enrichment,
			insights = excluded.insights,
			network = excluded.network,
			financial_expires_at = excluded.financial_expires_at,
			enrichment_expires_at = excluded.enrichment_expires_at,
			insights_expires_at = excluded.insights_expires_at,
			network_expires_at = excluded.network_expires_at,
			industry = excluded.industry,
			size_tier = excluded.size_tier,
			performance_rating = excluded.performance_rating,
			total_value = excluded.total_value,
			last_activity_at = excluded.last_activity_at,
			completeness = excluded.completeness,
			profile_version = excluded.profile_version,
			last_updated_at = excluded.last_updated_at
		WHERE consolidated_profiles.profile_version < excluded.profile_version`,
		p.ProfileID, p.EntityKey, p.PrimaryName, string(altJSON),
		nullableText(finJSON), nullableText(enrJSON), nullableText(insJSON), nullableText(netJSON),
		slotExpiry(p, model.SourceFinancial), slotExpiry(p, model.SourceEnrichment),
		slotExpiry(p, model.SourceInsights), slotExpiry(p, model.SourceNetwork),
		p.QuickAccess.Industry, p.QuickAccess.SizeTier, p.QuickAccess.PerformanceRating,
		p.QuickAccess.TotalValue, p.QuickAccess.LastActivityDate,
		p.Completeness, p.ProfileVersion, p.CreatedAt, p.LastUpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "profile: upsert %s", p.EntityKey)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "profile: upsert result")
	}
	if n == 0 {
		return eris.Errorf("profile: upsert %s: stale version %d", p.EntityKey, p.ProfileVersion)
	}
	return nil
}

func (s *SQLiteStore) NeedingRefresh(ctx context.Context, limit int, now time.Time, suppressFinancial bool) ([]RefreshCandidate, error) {
	if limit <= 0 {
		limit = 500
	}

	conds := []string{
		"enrichment_expires_at <= ?",
		"insights_expires_at <= ?",
		"network_expires_at <= ?",
	}
	args := []any{now, now, now}
	if !suppressFinancial {
		conds = append([]string{"financial_expires_at <= ?"}, conds...)
		args = append([]any{now}, args...)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_key, financial_expires_at, enrichment_expires_at, insights_expires_at, network_expires_at
		FROM consolidated_profiles
		WHERE `+strings.Join(conds, " OR ")+`
		ORDER BY last_updated_at ASC
		LIMIT ?`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "profile: needing refresh")
	}
	defer rows.Close()

	var out []RefreshCandidate
	for rows.Next() {
		var key string
		var expiries [4]sql.NullTime
		if err := rows.Scan(&key, &expiries[0], &expiries[1], &expiries[2], &expiries[3]); err != nil {
			return nil, eris.Wrap(err, "profile: scan refresh candidate")
		}
		c := RefreshCandidate{EntityKey: key}
		for i, kind := range model.AllSourceKinds {
			if kind == model.SourceFinancial && suppressFinancial {
				continue
			}
			if e := expiries[i]; e.Valid && !now.Before(e.Time) {
				c.Sources = append(c.Sources, kind)
			}
		}
		if len(c.Sources) > 0 {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	var st Stats
	var oldest sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(CASE WHEN last_updated_at <= ? THEN 1 END),
			MIN(last_updated_at)
		FROM consolidated_profiles`,
		now.Add(-s.staleWindow),
	).Scan(&st.TotalProfiles, &st.StaleProfiles, &oldest)
	if err != nil {
		return nil, eris.Wrap(err, "profile: stats")
	}
	if oldest.Valid {
		st.OldestUpdatedAt = &oldest.Time
	}
	return &st, nil
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func scanSQLiteProfile(row scannable) (*model.ConsolidatedProfile, error) {
	var p model.ConsolidatedProfile
	var altJSON sql.NullString
	var finJSON, enrJSON, insJSON, netJSON sql.NullString
	var lastActivity sql.NullTime

	err := row.Scan(
		&p.ProfileID, &p.EntityKey, &p.PrimaryName, &altJSON,
		&finJSON, &enrJSON, &insJSON, &netJSON,
		&p.QuickAccess.Industry, &p.QuickAccess.SizeTier, &p.QuickAccess.PerformanceRating,
		&p.QuickAccess.TotalValue, &lastActivity,
		&p.Completeness, &p.ProfileVersion, &p.CreatedAt, &p.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.QuickAccess.DisplayName = p.PrimaryName
	if lastActivity.Valid {
		p.QuickAccess.LastActivityDate = &lastActivity.Time
	}

	if altJSON.Valid && altJSON.String != "" && altJSON.String != "null" {
		if err := json.Unmarshal([]byte(altJSON.String), &p.AlternativeNames); err != nil {
			return nil, eris.Wrap(err, "profile: unmarshal alternative names")
		}
	}
	if err := unmarshalNullSlot(finJSON, &p.Financial); err != nil {
		return nil, err
	}
	if err := unmarshalNullSlot(enrJSON, &p.Enrichment); err != nil {
		return nil, err
	}
	if err := unmarshalNullSlot(insJSON, &p.Insights); err != nil {
		return nil, err
	}
	if err := unmarshalNullSlot(netJSON, &p.Network); err != nil {
		return nil, err
	}
	return &p, nil
}

func unmarshalNullSlot[T any](data sql.NullString, out **model.Slot[T]) error {
	if !data.Valid || data.String == "" {
		return nil
	}
	return unmarshalSlot([]byte(data.String), out)
}
