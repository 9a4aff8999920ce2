// Package freshness determines whether upstream analytical sources actually
// have new data, independent of our own cache TTLs, and infers how often they
// refresh. The probe is a pluggable capability; the default implementation
// reads update timestamps from warehouse tables.
package freshness

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-service/internal/db"
)

// TableStat describes one tracked upstream table's own freshness.
type TableStat struct {
	Table       string    `json:"table"`
	LastUpdated time.Time `json:"last_updated"`
	RecordCount int64     `json:"record_count"`
}

// Probe inspects an upstream source's update timestamps. Implementations must
// report the source's state, not the cache's.
type Probe interface {
	// TableStats returns last-modified time and row count per tracked table.
	TableStats(ctx context.Context) ([]TableStat, error)
	// UpdateHistory returns the distinct update timestamps of the primary
	// tracked table within the trailing window, oldest first.
	UpdateHistory(ctx context.Context, window time.Duration) ([]time.Time, error)
	// EntityKeysUpdatedSince returns the entity keys touched by upstream
	// batches after the given time.
	EntityKeysUpdatedSince(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// TrackedTable names a warehouse table and the column carrying its upstream
// batch timestamp.
type TrackedTable struct {
	Name          string `yaml:"name" mapstructure:"name"`
	UpdatedColumn string `yaml:"updated_column" mapstructure:"updated_column"`
}

// WarehouseProbeConfig configures the default pgx-backed probe. The first
// table is the primary one used for cadence history; EntityTable carries the
// per-entity batch timestamps.
type WarehouseProbeConfig struct {
	Tables          []TrackedTable `yaml:"tables" mapstructure:"tables"`
	EntityTable     string         `yaml:"entity_table" mapstructure:"entity_table"`
	EntityKeyColumn string         `yaml:"entity_key_column" mapstructure:"entity_key_column"`
	EntityUpdated   string         `yaml:"entity_updated_column" mapstructure:"entity_updated_column"`
}

// WarehouseProbe reads upstream freshness from the analytical warehouse.
type WarehouseProbe struct {
	pool db.Pool
	cfg  WarehouseProbeConfig
}

// NewWarehouseProbe creates a probe over the configured tracked tables.
func NewWarehouseProbe(pool db.Pool, cfg WarehouseProbeConfig) *WarehouseProbe {
	return &WarehouseProbe{pool: pool, cfg: cfg}
}

func (p *WarehouseProbe) TableStats(ctx context.Context) ([]TableStat, error) {
	stats := make([]TableStat, 0, len(p.cfg.Tables))
	for _, t := range p.cfg.Tables {
		var last *time.Time
		var count int64
		sql := `SELECT MAX(` + sanitizeIdent(t.UpdatedColumn) + `), COUNT(*) FROM ` + sanitizeTable(t.Name)
		if err := p.pool.QueryRow(ctx, sql).Scan(&last, &count); err != nil {
			return nil, eris.Wrapf(err, "freshness: probe table %s", t.Name)
		}
		stat := TableStat{Table: t.Name, RecordCount: count}
		if last != nil {
			stat.LastUpdated = *last
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

func (p *WarehouseProbe) UpdateHistory(ctx context.Context, window time.Duration) ([]time.Time, error) {
	if len(p.cfg.Tables) == 0 {
		return nil, nil
	}
	primary := p.cfg.Tables[0]
	sql := `SELECT DISTINCT date_trunc('hour', ` + sanitizeIdent(primary.UpdatedColumn) + `) AS batch_at
		FROM ` + sanitizeTable(primary.Name) + `
		WHERE ` + sanitizeIdent(primary.UpdatedColumn) + ` > $1
		ORDER BY batch_at`
	rows, err := p.pool.Query(ctx, sql, time.Now().UTC().Add(-window))
	if err != nil {
		return nil, eris.Wrapf(err, "freshness: update history for %s", primary.Name)
	}
	defer rows.Close()

	var history []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "freshness: scan history")
		}
		history = append(history, t)
	}
	return history, rows.Err()
}

func (p *WarehouseProbe) EntityKeysUpdatedSince(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	sql := `SELECT DISTINCT ` + sanitizeIdent(p.cfg.EntityKeyColumn) + `
		FROM ` + sanitizeTable(p.cfg.EntityTable) + `
		WHERE ` + sanitizeIdent(p.cfg.EntityUpdated) + ` > $1
		LIMIT $2`
	rows, err := p.pool.Query(ctx, sql, since, limit)
	if err != nil {
		return nil, eris.Wrap(err, "freshness: entities updated since")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "freshness: scan entity key")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// sanitizeTable handles schema-qualified names like "warehouse.awards".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func sanitizeIdent(col string) string {
	return pgx.Identifier{col}.Sanitize()
}
