package timewindow

import (
	"context"
	"time"

	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
	"telemetry-observer/src/utils"
)

// maxTimeJitterMs is the recompute guard: the displayed window range is only
// rebuilt when "now" drifted more than this from the cached max time, so a
// realtime subscription does not churn its window on every tick.
const maxTimeJitterMs = 500

// -----------------------------------------------------------------------------
// Resolver turns an abstract time-window configuration plus a clock-skew
// estimate into a concrete subscription window.
// -----------------------------------------------------------------------------

type Resolver struct {
	clock  interfaces.IClockSkewProvider
	logger *logger.Logger

	now func() time.Time // test hook
}

// -----------------------------------------------------------------------------

func NewResolver(clock interfaces.IClockSkewProvider, log *logger.Logger) *Resolver {
	return &Resolver{
		clock:  clock,
		logger: log,
		now:    time.Now,
	}
}

// -----------------------------------------------------------------------------

// ServerTimeDiff obtains the clock-skew estimate once per (re)initialization.
// Failure to obtain it is non-fatal and defaults to 0.
func (r *Resolver) ServerTimeDiff(ctx context.Context) int64 {
	if r.clock == nil {
		return 0
	}
	diff, err := r.clock.GetServerTimeDiff(ctx)
	if err != nil {
		r.logger.Warning("Failed to fetch server time diff, defaulting to 0: %v", err)
		return 0
	}
	return diff
}

// -----------------------------------------------------------------------------

// Resolve produces a concrete subscription window from the abstract
// configuration. Exactly one of fixed/realtime is set on the result.
func (r *Resolver) Resolve(cfg *models.MTimewindowConfig, stDiff int64) *models.MSubscriptionTimewindow {
	tsOffset := TsOffset(cfg.Timezone)
	now := r.now().UnixMilli() + tsOffset + stDiff

	stw := &models.MSubscriptionTimewindow{
		AggregationInterval: cfg.AggregationInterval,
		Aggregation:         cfg.Aggregation,
		TsOffset:            tsOffset,
		StDiff:              stDiff,
	}
	if stw.AggregationInterval <= 0 {
		stw.AggregationInterval = 1000
	}
	if stw.Aggregation == "" {
		stw.Aggregation = models.AggregationNone
	}

	if cfg.Type == models.TimewindowRealtime {
		if cfg.QuickInterval != models.QuickIntervalNone {
			start, end := r.quickIntervalRange(cfg, now)
			stw.QuickInterval = cfg.QuickInterval
			stw.StartTs = start
			stw.RealtimeWindowMs = end - start
		} else {
			stw.RealtimeWindowMs = cfg.RealtimeWindowMs
			stw.StartTs = now - stw.RealtimeWindowMs
		}
		return stw
	}

	// History: explicit range, or "last N ms" pinned at resolution time.
	if cfg.FixedEndMs > 0 {
		stw.FixedWindow = &models.MFixedWindow{
			StartTimeMs: cfg.FixedStartMs + tsOffset,
			EndTimeMs:   cfg.FixedEndMs + tsOffset,
		}
	} else {
		stw.FixedWindow = &models.MFixedWindow{
			StartTimeMs: now - cfg.HistoryWindowMs,
			EndTimeMs:   now,
		}
	}
	stw.StartTs = stw.FixedWindow.StartTimeMs
	return stw
}

// -----------------------------------------------------------------------------

// quickIntervalRange resolves a calendar-relative interval against the
// configured timezone, in adjusted epoch milliseconds.
func (r *Resolver) quickIntervalRange(cfg *models.MTimewindowConfig, nowMs int64) (int64, int64) {
	loc := location(cfg.Timezone)
	now := time.UnixMilli(nowMs).In(loc)

	var start, end time.Time
	switch cfg.QuickInterval {
	case models.QuickIntervalCurrentHour:
		start = now.Truncate(time.Hour)
		end = start.Add(time.Hour)
	case models.QuickIntervalCurrentDay:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 1)
	case models.QuickIntervalCurrentWeek:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		// Monday-based week
		offset := (int(day.Weekday()) + 6) % 7
		start = day.AddDate(0, 0, -offset)
		end = start.AddDate(0, 0, 7)
	case models.QuickIntervalCurrentMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, 0)
	case models.QuickIntervalCurrentBusinessDay:
		cal := utils.GetBusinessCalendar(cfg.BusinessCalendar, loc)
		start = cal.CurrentBusinessDayStart(now)
		end = start.AddDate(0, 0, 1)
	case models.QuickIntervalPreviousBusinessDay:
		cal := utils.GetBusinessCalendar(cfg.BusinessCalendar, loc)
		start, end = cal.PreviousBusinessDay(now)
	default:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 1)
	}
	return start.UnixMilli(), end.UnixMilli()
}

// -----------------------------------------------------------------------------

// UpdateWindowRange derives the displayed window from the resolved
// subscription window. The previous window is returned unchanged (changed ==
// false) when the recompute guard suppresses the refresh; otherwise a fresh
// window object is returned, never a mutated one.
func (r *Resolver) UpdateWindowRange(prev *models.MTimewindow, stw *models.MSubscriptionTimewindow) (*models.MTimewindow, bool) {
	next := &models.MTimewindow{
		Interval: stw.AggregationInterval,
		TsOffset: stw.TsOffset,
		StDiff:   stw.StDiff,
	}

	if stw.FixedWindow != nil {
		next.MinTime = stw.FixedWindow.StartTimeMs
		next.MaxTime = stw.FixedWindow.EndTimeMs
		if prev != nil && prev.MinTime == next.MinTime && prev.MaxTime == next.MaxTime && prev.Interval == next.Interval {
			return prev, false
		}
		return next, true
	}

	// Realtime: max is "now" rounded down to the nearest second; only move
	// the window when it drifted past the jitter guard.
	now := r.now().UnixMilli() + stw.TsOffset + stw.StDiff
	maxTime := now / 1000 * 1000
	if prev != nil && abs(maxTime-prev.MaxTime) <= maxTimeJitterMs && prev.Interval == next.Interval {
		return prev, false
	}
	next.MaxTime = maxTime
	next.MinTime = maxTime - stw.RealtimeWindowMs
	return next, true
}

// -----------------------------------------------------------------------------

// TsOffset computes the timezone-driven adjustment in milliseconds: the
// difference between the configured zone's UTC offset and the local one.
// Empty or unknown timezones yield 0.
func TsOffset(timezone string) int64 {
	if timezone == "" {
		return 0
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return 0
	}
	now := time.Now()
	_, tzOffset := now.In(loc).Zone()
	_, localOffset := now.Zone()
	return int64(tzOffset-localOffset) * 1000
}

// -----------------------------------------------------------------------------

func location(timezone string) *time.Location {
	if timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
