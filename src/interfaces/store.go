package interfaces

import "telemetry-observer/src/models"

// -----------------------------------------------------------------------------
// ITimeseriesStore is the external time-series store a local transport serves
// history from. The engine core never touches it directly.
// -----------------------------------------------------------------------------

type ITimeseriesStore interface {

	// Initialize opens the store and creates the schema.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveSeries appends samples for one entity key.
	SaveSeries(entityType, entityID, key string, series models.MDataSeries) error

	// LoadSeries returns samples within [startTs, endTs), chronological
	// order, at most limit rows (0 for no limit).
	LoadSeries(entityType, entityID, key string, startTs, endTs int64, limit int) (models.MDataSeries, error)

	// -----------------------------------------------------------------------------

	// SaveLatest upserts the latest value of one entity key.
	SaveLatest(entityType, entityID, key string, point models.MDataPoint) error

	// LoadLatest returns the latest value, ok=false when none exists.
	LoadLatest(entityType, entityID, key string) (models.MDataPoint, bool, error)

	// -----------------------------------------------------------------------------

	Close() error
}
