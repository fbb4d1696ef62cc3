package interfaces

import "context"

// -----------------------------------------------------------------------------
// IClockSkewProvider estimates the client/server clock difference. Optional:
// a nil provider (or a failing one) defaults the skew to 0.
// -----------------------------------------------------------------------------

type IClockSkewProvider interface {

	// GetServerTimeDiff returns the estimated skew in milliseconds, to be
	// added to local time to obtain server time.
	GetServerTimeDiff(ctx context.Context) (int64, error)
}
