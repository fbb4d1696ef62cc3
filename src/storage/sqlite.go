package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"

	_ "modernc.org/sqlite"
)

// SQLite batch constants
const (
	sqliteMaxVars   = 32000
	paramsPerRow    = 5
	sqliteBatchSize = sqliteMaxVars / paramsPerRow // ~6400 rows
)

// -----------------------------------------------------------------------------

type SQLiteStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

var _ interfaces.ITimeseriesStore = (*SQLiteStore)(nil)

// -----------------------------------------------------------------------------

func NewSQLiteStore(cfg *models.MConfig, log *logger.Logger) (*SQLiteStore, error) {
	return &SQLiteStore{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteStore) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *SQLiteStore) createTables() error {
	// SQLite types: INTEGER for int64, TEXT for strings and JSON values
	query := `
		CREATE TABLE IF NOT EXISTS telemetry (
			entity_type TEXT,
			entity_id TEXT,
			key TEXT,
			ts INTEGER,
			value TEXT,
			PRIMARY KEY (entity_id, key, ts)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create telemetry: %w", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS latest_telemetry (
			entity_type TEXT,
			entity_id TEXT,
			key TEXT,
			ts INTEGER,
			value TEXT,
			PRIMARY KEY (entity_id, key)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create latest_telemetry: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteStore) SaveSeries(entityType, entityID, key string, series models.MDataSeries) error {
	if len(series) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO telemetry (entity_type, entity_id, key, ts, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entity_id, key, ts) DO UPDATE SET value = excluded.value
	`)
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

func (d *SQLiteStore) LoadSeries(entityType, entityID, key string, startTs, endTs int64, limit int) (models.MDataSeries, error) {
	query := `
		SELECT ts, value FROM telemetry
		WHERE entity_id = ? AND key = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`
	args := []interface{}{entityID, key, startTs, endTs}
	if endTs <= 0 {
		query = `
			SELECT ts, value FROM telemetry
			WHERE entity_id = ? AND key = ? AND ts >= ?
			ORDER BY ts ASC
		`
		args = []interface{}{entityID, key, startTs}
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSeries(rows)
}

// -----------------------------------------------------------------------------

func (d *SQLiteStore) SaveLatest(entityType, entityID, key string, point models.MDataPoint) error {
	value, err := json.Marshal(point.Value)
	if err != nil {
		return err
	}
	_, err = d.DB.Exec(`
		INSERT INTO latest_telemetry (entity_type, entity_id, key, ts, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entity_id, key) DO UPDATE SET
			ts = excluded.ts,
			value = excluded.value
	`, entityType, entityID, key, point.Ts, string(value))
	return err
}

// -----------------------------------------------------------------------------

func (d *SQLiteStore) LoadLatest(entityType, entityID, key string) (models.MDataPoint, bool, error) {
	row := d.DB.QueryRow(`
		SELECT ts, value FROM latest_telemetry
		WHERE entity_id = ? AND key = ?
	`, entityID, key)

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
func (d *SQLiteStore) CleanupOldData(retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).UnixMilli()

	if _, err := d.DB.Exec("DELETE FROM telemetry WHERE ts < ?", cutoff); err != nil {
		d.Logger.Error("Cleanup telemetry error: %v", err)
		return err
	}

	d.Logger.Info("Cleanup completed")
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Row helpers shared with the Postgres store
// -----------------------------------------------------------------------------

func scanSeries(rows *sql.Rows) (models.MDataSeries, error) {
	series := make(models.MDataSeries, 0)
	for rows.Next() {
		var ts int64
		var raw string
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, err
		}
		series = append(series, decodePoint(ts, raw))
	}
	return series, rows.Err()
}

// decodePoint revives the JSON value column; undecodable values fall back to
// the raw text.
func decodePoint(ts int64, raw string) models.MDataPoint {
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}
	return models.MDataPoint{Ts: ts, Value: value}
}
