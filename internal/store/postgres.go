// v2
// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Postgres persists readings in a single append-only table. The channel
// snapshot is stored as JSONB so new telemetry fields never need a
// migration.
type Postgres struct {
	conn *sql.DB
}

func NewPostgres(connStr string) (*Postgres, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		return nil, err
	}
	p := &Postgres{conn: conn}
	if err := p.ensureSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema() error {
	_, err := p.conn.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			id             TEXT PRIMARY KEY,
			timestamp      TIMESTAMPTZ NOT NULL,
			device         TEXT NOT NULL,
			power_watts    DOUBLE PRECISION NOT NULL DEFAULT 0,
			outdoor_temp_f DOUBLE PRECISION,
			channels       JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS readings_timestamp_idx ON readings (timestamp);
	`)
	return err
}

func (p *Postgres) Close() error { return p.conn.Close() }

func (p *Postgres) Append(ctx context.Context, r Reading) error {
	channels, err := json.Marshal(r.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	query := `
		INSERT INTO readings (id, timestamp, device, power_watts, outdoor_temp_f, channels)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = p.conn.ExecContext(ctx, query,
		r.ID, r.Timestamp, r.Device, r.PowerWatts, r.OutdoorTempF, channels)
	return err
}

func (p *Postgres) Query(ctx context.Context, from, to time.Time) ([]Reading, error) {
	query := `
		SELECT id, timestamp, device, power_watts, COALESCE(outdoor_temp_f, 0), channels
		FROM readings
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY timestamp
	`
	rows, err := p.conn.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		var channels []byte
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Device, &r.PowerWatts, &r.OutdoorTempF, &channels); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(channels, &r.Channels); err != nil {
			return nil, fmt.Errorf("unmarshal channels for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
