package timewindow

import (
	"time"

	"telemetry-observer/src/models"
)

// -----------------------------------------------------------------------------
// Comparison windows
// -----------------------------------------------------------------------------

// DeriveComparison derives the shadow window from the primary subscription
// window and a comparison duration. The result is always a fixed window: the
// comparison range is fully in the past. When the primary window is realtime
// the caller must re-derive the comparison whenever the primary is
// recomputed.
func (r *Resolver) DeriveComparison(primary *models.MSubscriptionTimewindow, duration models.ComparisonDuration, customIntervalMs int64) *models.MSubscriptionTimewindow {
	if primary == nil {
		return nil
	}

	primaryStart, primaryEnd := r.primaryRange(primary)

	cmp := &models.MSubscriptionTimewindow{
		AggregationInterval: primary.AggregationInterval,
		Aggregation:         primary.Aggregation,
		TsOffset:            primary.TsOffset,
		StDiff:              primary.StDiff,
	}

	var start, end int64
	switch duration {
	case models.ComparisonDays:
		start, end = shiftCalendar(primaryStart, primaryEnd, 0, 0, -1)
	case models.ComparisonWeeks:
		start, end = shiftCalendar(primaryStart, primaryEnd, 0, 0, -7)
	case models.ComparisonMonths:
		start, end = shiftCalendar(primaryStart, primaryEnd, 0, -1, 0)
	case models.ComparisonCustomInterval:
		offset := customIntervalMs
		if offset < models.MinComparisonCustomIntervalMs {
			offset = models.MinComparisonCustomIntervalMs
		}
		start, end = primaryStart-offset, primaryEnd-offset
	default:
		// Previous interval: same duration, ending where the primary starts.
		span := primaryEnd - primaryStart
		end = primaryStart
		start = end - span
	}

	cmp.FixedWindow = &models.MFixedWindow{StartTimeMs: start, EndTimeMs: end}
	cmp.StartTs = start
	return cmp
}

// -----------------------------------------------------------------------------

// primaryRange computes the concrete [start, end) range the primary window
// currently covers.
func (r *Resolver) primaryRange(primary *models.MSubscriptionTimewindow) (int64, int64) {
	if primary.FixedWindow != nil {
		return primary.FixedWindow.StartTimeMs, primary.FixedWindow.EndTimeMs
	}
	end := r.now().UnixMilli() + primary.TsOffset + primary.StDiff
	if primary.QuickInterval != models.QuickIntervalNone {
		return primary.StartTs, primary.StartTs + primary.RealtimeWindowMs
	}
	return end - primary.RealtimeWindowMs, end
}

// -----------------------------------------------------------------------------

// shiftCalendar moves a range back by a calendar amount, preserving
// wall-clock boundaries across DST changes.
func shiftCalendar(startMs, endMs int64, years, months, days int) (int64, int64) {
	start := time.UnixMilli(startMs).AddDate(years, months, days)
	end := time.UnixMilli(endMs).AddDate(years, months, days)
	return start.UnixMilli(), end.UnixMilli()
}
