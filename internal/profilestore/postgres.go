package profilestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-service/internal/db"
	"github.com/sells-group/profile-service/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool        db.Pool
	staleWindow time.Duration
}

// NewPostgres creates a PostgresStore over an existing pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, staleWindow: DefaultStaleWindow}
}

// WithStaleWindow overrides the staleness window for key lookups.
func (s *PostgresStore) WithStaleWindow(d time.Duration) *PostgresStore {
	s.staleWindow = d
	return s
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS consolidated_profiles (
	profile_id            UUID PRIMARY KEY,
	entity_key            TEXT NOT NULL UNIQUE,
	primary_name          TEXT NOT NULL,
	alternative_names     JSONB,
	financial             JSONB,
	enrichment            JSONB,
	insights              JSONB,
	network               JSONB,
	financial_expires_at  TIMESTAMPTZ,
	enrichment_expires_at TIMESTAMPTZ,
	insights_expires_at   TIMESTAMPTZ,
	network_expires_at    TIMESTAMPTZ,
	industry              TEXT NOT NULL DEFAULT '',
	size_tier             TEXT NOT NULL DEFAULT '',
	performance_rating    DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_value           DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_activity_at      TIMESTAMPTZ,
	completeness          INT NOT NULL DEFAULT 0,
	profile_version       BIGINT NOT NULL DEFAULT 1,
	created_at            TIMESTAMPTZ NOT NULL,
	last_updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_checkpoints (
	source     TEXT PRIMARY KEY,
	checked_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_profiles_last_updated ON consolidated_profiles(last_updated_at);
CREATE INDEX IF NOT EXISTS idx_profiles_completeness ON consolidated_profiles(completeness);
CREATE INDEX IF NOT EXISTS idx_profiles_primary_name ON consolidated_profiles(primary_name);
CREATE INDEX IF NOT EXISTS idx_profiles_financial_exp ON consolidated_profiles(financial_expires_at);
CREATE INDEX IF NOT EXISTS idx_profiles_enrichment_exp ON consolidated_profiles(enrichment_expires_at);
CREATE INDEX IF NOT EXISTS idx_profiles_insights_exp ON consolidated_profiles(insights_expires_at);
CREATE INDEX IF NOT EXISTS idx_profiles_network_exp ON consolidated_profiles(network_expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "profile: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// profileColumns is the standard column list for profile queries.
const profileColumns = `profile_id, entity_key, primary_name, alternative_names,
	financial, enrichment, insights, network,
	industry, size_tier, performance_rating, total_value, last_activity_at,
	completeness, profile_version, created_at, last_updated_at`

func (s *PostgresStore) GetByKey(ctx context.Context, entityKey string, includeStale bool) (*model.ConsolidatedProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM consolidated_profiles WHERE entity_key = $1`
	args := []any{entityKey}
	if !includeStale {
		query += ` AND last_updated_at > $2`
		args = append(args, time.Now().UTC().Add(-s.staleWindow))
	}

	row := s.pool.QueryRow(ctx, query, args...)
	p, err := scanProfile(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "profile: get %s", entityKey)
	}
	return p, nil
}

func (s *PostgresStore) Query(ctx context.Context, f Filter, p Page) (*QueryResult, error) {
	where, args := buildFilter(f, nil)
	return s.runPagedQuery(ctx, where, args, p)
}

func (s *PostgresStore) SearchByText(ctx context.Context, text string, f Filter, p Page) (*QueryResult, error) {
	var args []any
	var where []string
	if text != "" {
		args = append(args, "%"+text+"%")
		where = append(where, fmt.Sprintf("primary_name ILIKE $%d", len(args)))
	}
	where, args = buildFilter(f, args, where...)

	// Prefix matches rank ahead of substring matches. The ranking arg is not
	// part of the count query, so track how many args the WHERE clause owns.
	countArgs := args
	order := orderClause(p)
	if text != "" {
		args = append(args, text+"%")
		order = fmt.Sprintf("(primary_name ILIKE $%d) DESC, ", len(args)) + order
	}
	return s.runPagedQueryOrdered(ctx, where, args, countArgs, p, order)
}

func (s *PostgresStore) runPagedQuery(ctx context.Context, where []string, args []any, p Page) (*QueryResult, error) {
	return s.runPagedQueryOrdered(ctx, where, args, args, p, orderClause(p))
}

func (s *PostgresStore) runPagedQueryOrdered(ctx context.Context, where []string, args, countArgs []any, p Page, order string) (*QueryResult, error) {
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM consolidated_profiles`+clause, countArgs...).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "profile: count")
	}

	limit, offset := pageLimits(p)
	args = append(args, limit, offset)
	query := `SELECT ` + profileColumns + ` FROM consolidated_profiles` + clause +
		` ORDER BY ` + order +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "profile: query")
	}
	defer rows.Close()

	items, err := scanProfiles(rows)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Items: items, TotalCount: total}, nil
}

// buildFilter renders a Filter into WHERE fragments with positional args,
// continuing from any fragments already accumulated.
func buildFilter(f Filter, args []any, where ...string) ([]string, []any) {
	add := func(frag string, vals ...any) {
		for _, v := range vals {
			args = append(args, v)
		}
		where = append(where, frag)
	}

	if len(f.EntityKeys) > 0 {
		args = append(args, f.EntityKeys)
		where = append(where, fmt.Sprintf("entity_key = ANY($%d)", len(args)))
	}
	if len(f.Industries) > 0 {
		args = append(args, f.Industries)
		where = append(where, fmt.Sprintf("industry = ANY($%d)", len(args)))
	}
	if len(f.SizeTiers) > 0 {
		args = append(args, f.SizeTiers)
		where = append(where, fmt.Sprintf("size_tier = ANY($%d)", len(args)))
	}
	if f.MinPerformance != nil {
		add(fmt.Sprintf("performance_rating >= $%d", len(args)+1), *f.MinPerformance)
	}
	if f.MaxPerformance != nil {
		add(fmt.Sprintf("performance_rating <= $%d", len(args)+1), *f.MaxPerformance)
	}
	if f.MinCompleteness > 0 {
		add(fmt.Sprintf("completeness >= $%d", len(args)+1), f.MinCompleteness)
	}
	if f.MaxAge > 0 {
		add(fmt.Sprintf("last_updated_at > $%d", len(args)+1), time.Now().UTC().Add(-f.MaxAge))
	}
	for _, kind := range f.RequireSources {
		if col := slotColumn(kind); col != "" {
			where = append(where, col+" IS NOT NULL")
		}
	}
	return where, args
}

// Upsert writes the full profile record. The version guard makes the write a
// no-op when a newer version is already persisted, which keeps versions
// strictly increasing under concurrent writers.
func (s *PostgresStore) Upsert(ctx context.Context, p *model.ConsolidatedProfile) error {
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

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO consolidated_profiles (
			profile_id, entity_key, primary_name, alternative_names,
			financial, enrichment, insights, network,
			financial_expires_at, enrichment_expires_at, insights_expires_at, network_expires_at,
			industry, size_tier, performance_rating, total_value, last_activity_at,
			completeness, profile_version, created_at, last_updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21
		)
		ON CONFLICT (entity_key) DO UPDATE SET
			primary_name = EXCLUDED.primary_name,
			alternative_names = EXCLUDED.alternative_names,
			financial = EXCLUDED.financial,
			enrichment = EXCLUDED.enrichment,
			insights = EXCLUDED.insights,
			network = EXCLUDED.network,
			financial_expires_at = EXCLUDED.financial_expires_at,
			enrichment_expires_at = EXCLUDED.enrichment_expires_at,
			insights_expires_at = EXCLUDED.insights_expires_at,
			network_expires_at = EXCLUDED.network_expires_at,
			industry = EXCLUDED.industry,
			size_tier = EXCLUDED.size_tier,
			performance_rating = EXCLUDED.performance_rating,
			total_value = EXCLUDED.total_value,
			last_activity_at = EXCLUDED.last_activity_at,
			completeness = EXCLUDED.completeness,
			profile_version = EXCLUDED.profile_version,
			last_updated_at = EXCLUDED.last_updated_at
		WHERE consolidated_profiles.profile_version < EXCLUDED.profile_version`,
		p.ProfileID, p.EntityKey, p.PrimaryName, altJSON,
		finJSON, enrJSON, insJSON, netJSON,
		slotExpiry(p, model.SourceFinancial), slotExpiry(p, model.SourceEnrichment),
		slotExpiry(p, model.SourceInsights), slotExpiry(p, model.SourceNetwork),
		p.QuickAccess.Industry, p.QuickAccess.SizeTier, p.QuickAccess.PerformanceRating,
		p.QuickAccess.TotalValue, p.QuickAccess.LastActivityDate,
		p.Completeness, p.ProfileVersion, p.CreatedAt, p.LastUpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "profile: upsert %s", p.EntityKey)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("profile: upsert %s: stale version %d", p.EntityKey, p.ProfileVersion)
	}
	return nil
}

// NeedingRefresh returns entities with at least one expired slot, oldest
// first. When the financial upstream is itself stale, financial expirations
// are ignored so a dead upstream never drives a refresh storm.
func (s *PostgresStore) NeedingRefresh(ctx context.Context, limit int, now time.Time, suppressFinancial bool) ([]RefreshCandidate, error) {
	if limit <= 0 {
		limit = 500
	}

	conds := []string{
		"enrichment_expires_at <= $1",
		"insights_expires_at <= $1",
		"network_expires_at <= $1",
	}
	if !suppressFinancial {
		conds = append([]string{"financial_expires_at <= $1"}, conds...)
	}

	query := `SELECT entity_key, financial_expires_at, enrichment_expires_at, insights_expires_at, network_expires_at
		FROM consolidated_profiles
		WHERE ` + strings.Join(conds, " OR ") + `
		ORDER BY last_updated_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, eris.Wrap(err, "profile: needing refresh")
	}
	defer rows.Close()

	var out []RefreshCandidate
	for rows.Next() {
		var key string
		var expiries [4]*time.Time
		if err := rows.Scan(&key, &expiries[0], &expiries[1], &expiries[2], &expiries[3]); err != nil {
			return nil, eris.Wrap(err, "profile: scan refresh candidate")
		}
		c := RefreshCandidate{EntityKey: key}
		for i, kind := range model.AllSourceKinds {
			if kind == model.SourceFinancial && suppressFinancial {
				continue
			}
			if e := expiries[i]; e != nil && !now.Before(*e) {
				c.Sources = append(c.Sources, kind)
			}
		}
		if len(c.Sources) > 0 {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	var st Stats
	var oldest *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE last_updated_at <= $1),
			MIN(last_updated_at)
		FROM consolidated_profiles`,
		now.Add(-s.staleWindow),
	).Scan(&st.TotalProfiles, &st.StaleProfiles, &oldest)
	if err != nil {
		return nil, eris.Wrap(err, "profile: stats")
	}
	st.OldestUpdatedAt = oldest
	return &st, nil
}

// helpers

func marshalSlot[T any](slot *model.Slot[T]) ([]byte, error) {
	if slot == nil {
		return nil, nil
	}
	b, err := json.Marshal(slot)
	return b, eris.Wrap(err, "profile: marshal slot")
}

func slotExpiry(p *model.ConsolidatedProfile, kind model.SourceKind) *time.Time {
	if m := p.SlotMeta(kind); m != nil {
		return &m.ExpiresAt
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProfile(row scannable) (*model.ConsolidatedProfile, error) {
	var p model.ConsolidatedProfile
	var altJSON, finJSON, enrJSON, insJSON, netJSON []byte

	err := row.Scan(
		&p.ProfileID, &p.EntityKey, &p.PrimaryName, &altJSON,
		&finJSON, &enrJSON, &insJSON, &netJSON,
		&p.QuickAccess.Industry, &p.QuickAccess.SizeTier, &p.QuickAccess.PerformanceRating,
		&p.QuickAccess.TotalValue, &p.QuickAccess.LastActivityDate,
		&p.Completeness, &p.ProfileVersion, &p.CreatedAt, &p.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.QuickAccess.DisplayName = p.PrimaryName

	if altJSON != nil {
		if err := json.Unmarshal(altJSON, &p.AlternativeNames); err != nil {
			return nil, eris.Wrap(err, "profile: unmarshal alternative names")
		}
	}
	if err := unmarshalSlot(finJSON, &p.Financial); err != nil {
		return nil, err
	}
	if err := unmarshalSlot(enrJSON, &p.Enrichment); err != nil {
		return nil, err
	}
	if err := unmarshalSlot(insJSON, &p.Insights); err != nil {
		return nil, err
	}
	if err := unmarshalSlot(netJSON, &p.Network); err != nil {
		return nil, err
	}
	return &p, nil
}

func unmarshalSlot[T any](data []byte, out **model.Slot[T]) error {
	if len(data) == 0 {
		return nil
	}
	var slot model.Slot[T]
	if err := json.Unmarshal(data, &slot); err != nil {
		return eris.Wrap(err, "profile: unmarshal slot")
	}
	*out = &slot
	return nil
}

func scanProfiles(rows pgx.Rows) ([]model.ConsolidatedProfile, error) {
	var out []model.ConsolidatedProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, eris.Wrap(err, "profile: scan")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
