package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

var _ interfaces.ITimeseriesStore = (*PostgresStore)(nil)

// -----------------------------------------------------------------------------

func NewPostgresStore(cfg *models.MConfig, log *logger.Logger) (*PostgresStore, error) {
	// Use the executable name as the schema so multiple deployments can share
	// one database.
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresStore{
		Config: cfg,
		Schema: name,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// Create Schema
	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresStore initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) createTables() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."telemetry" (
			entity_type TEXT,
			entity_id TEXT,
			key TEXT,
			ts BIGINT,
			value JSONB,
			PRIMARY KEY (entity_id, key, ts)
		);
	`, d.Schema)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create telemetry: %w", err)
	}

	query = fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."latest_telemetry" (
			entity_type TEXT,
			entity_id TEXT,
			key TEXT,
			ts BIGINT,
			value JSONB,
			PRIMARY KEY (entity_id, key)
		);
	`, d.Schema)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create latest_telemetry: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) SaveSeries(entityType, entityID, key string, series models.MDataSeries) error {
	if len(series) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO "%s"."telemetry" (entity_type, entity_id, key, ts, value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_id, key, ts) DO UPDATE SET value = excluded.value
	`, d.Schema))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range series {
		value, err := json.Marshal(p.Value)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(entityType, entityID, key, p.Ts, string(value)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) LoadSeries(entityType, entityID, key string, startTs, endTs int64, limit int) (models.MDataSeries, error) {
	query := fmt.Sprintf(`
		SELECT ts, value FROM "%s"."telemetry"
		WHERE entity_id = $1 AND key = $2 AND ts >= $3 AND ts < $4
		ORDER BY ts ASC
	`, d.Schema)
	args := []interface{}{entityID, key, startTs, endTs}
	if endTs <= 0 {
		query = fmt.Sprintf(`
			SELECT ts, value FROM "%s"."telemetry"
			WHERE entity_id = $1 AND key = $2 AND ts >= $3
			ORDER BY ts ASC
		`, d.Schema)
		args = []interface{}{entityID, key, startTs}
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := d.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSeries(rows)
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) SaveLatest(entityType, entityID, key string, point models.MDataPoint) error {
	value, err := json.Marshal(point.Value)
	if err != nil {
		return err
	}
	_, err = d.DB.Exec(fmt.Sprintf(`
		INSERT INTO "%s"."latest_telemetry" (entity_type, entity_id, key, ts, value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_id, key) DO UPDATE SET
			ts = excluded.ts,
			value = excluded.value
	`, d.Schema), entityType, entityID, key, point.Ts, string(value))
	return err
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) LoadLatest(entityType, entityID, key string) (models.MDataPoint, bool, error) {
	row := d.DB.QueryRow(fmt.Sprintf(`
		SELECT ts, value FROM "%s"."latest_telemetry"
		WHERE entity_id = $1 AND key = $2
	`, d.Schema), entityID, key)

	var ts int64
	var raw string
	if err := row.Scan(&ts, &raw); err != nil {
		if err == sql.ErrNoRows {
			return models.MDataPoint{}, false, nil
		}
		return models.MDataPoint{}, false, err
	}
	return decodePoint(ts, raw), true, nil
}

// -----------------------------------------------------------------------------

// CleanupOldData trims telemetry older than the retention cutoff.
func (d *PostgresStore) CleanupOldData(retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).UnixMilli()

	query := fmt.Sprintf(`DELETE FROM "%s"."telemetry" WHERE ts < $1`, d.Schema)
	if _, err := d.DB.Exec(query, cutoff); err != nil {
		d.Logger.Error("Cleanup telemetry error: %v", err)
		return err
	}

	d.Logger.Info("Cleanup completed")
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
