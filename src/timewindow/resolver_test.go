package timewindow

import (
	"testing"
	"time"

	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
)

func newTestResolver(nowMs int64) *Resolver {
	r := NewResolver(nil, logger.NewLogger("ERROR", "test"))
	r.now = func() time.Time { return time.UnixMilli(nowMs) }
	return r
}

// TestResolveRealtime verifies a plain realtime window: no fixed range, the
// start trails "now" by the window width.
func TestResolveRealtime(t *testing.T) {
	now := int64(1_700_000_123_456)
	r := newTestResolver(now)

	stw := r.Resolve(&models.MTimewindowConfig{
		Type:             models.TimewindowRealtime,
		RealtimeWindowMs: 60_000,
	}, 0)

	if stw.FixedWindow != nil {
		t.Fatalf("realtime window must not carry a fixed range: %+v", stw.FixedWindow)
	}
	if stw.RealtimeWindowMs != 60_000 {
		t.Errorf("expected window 60000, got %d", stw.RealtimeWindowMs)
	}
	if stw.StartTs != now-60_000 {
		t.Errorf("expected startTs %d, got %d", now-60_000, stw.StartTs)
	}
	if !stw.IsRealtime() {
		t.Error("expected IsRealtime() == true")
	}
}

// TestResolveDefaults verifies the aggregation defaults applied on resolve.
func TestResolveDefaults(t *testing.T) {
	r := newTestResolver(1_700_000_000_000)
	stw := r.Resolve(&models.MTimewindowConfig{
		Type:             models.TimewindowRealtime,
		RealtimeWindowMs: 1000,
	}, 0)

	if stw.AggregationInterval != 1000 {
		t.Errorf("expected default interval 1000, got %d", stw.AggregationInterval)
	}
	if stw.Aggregation != models.AggregationNone {
		t.Errorf("expected default aggregation NONE, got %s", stw.Aggregation)
	}
}

// TestResolveHistoryFixedRange verifies an explicit historical range is
// carried over verbatim.
func TestResolveHistoryFixedRange(t *testing.T) {
	r := newTestResolver(1_700_000_000_000)
	stw := r.Resolve(&models.MTimewindowConfig{
		Type:         models.TimewindowHistory,
		FixedStartMs: 100_000,
		FixedEndMs:   200_000,
	}, 0)

	if stw.FixedWindow == nil {
		t.Fatal("history window must carry a fixed range")
	}
	if stw.FixedWindow.StartTimeMs != 100_000 || stw.FixedWindow.EndTimeMs != 200_000 {
		t.Errorf("unexpected range [%d, %d)", stw.FixedWindow.StartTimeMs, stw.FixedWindow.EndTimeMs)
	}
	if stw.IsRealtime() {
		t.Error("history window must not report realtime")
	}
}

// TestResolveHistoryLastWindow verifies the "last N ms" history variant is
// pinned at resolution time.
func TestResolveHistoryLastWindow(t *testing.T) {
	now := int64(1_700_000_000_000)
	r := newTestResolver(now)
	stw := r.Resolve(&models.MTimewindowConfig{
		Type:            models.TimewindowHistory,
		HistoryWindowMs: 3_600_000,
	}, 0)

	if stw.FixedWindow == nil {
		t.Fatal("history window must carry a fixed range")
	}
	if stw.FixedWindow.EndTimeMs != now {
		t.Errorf("expected end %d, got %d", now, stw.FixedWindow.EndTimeMs)
	}
	if stw.FixedWindow.StartTimeMs != now-3_600_000 {
		t.Errorf("expected start %d, got %d", now-3_600_000, stw.FixedWindow.StartTimeMs)
	}
}

// TestResolveAppliesServerTimeDiff verifies clock skew shifts the resolved
// range.
func TestResolveAppliesServerTimeDiff(t *testing.T) {
	now := int64(1_700_000_000_000)
	r := newTestResolver(now)
	stw := r.Resolve(&models.MTimewindowConfig{
		Type:             models.TimewindowRealtime,
		RealtimeWindowMs: 10_000,
	}, 2_500)

	if stw.StDiff != 2_500 {
		t.Errorf("expected stDiff 2500, got %d", stw.StDiff)
	}
	if stw.StartTs != now+2_500-10_000 {
		t.Errorf("expected startTs %d, got %d", now+2_500-10_000, stw.StartTs)
	}
}

// TestUpdateWindowRangeRealtime verifies the displayed max time is "now"
// rounded down to the second.
func TestUpdateWindowRangeRealtime(t *testing.T) {
	now := int64(1_700_000_123_456)
	r := newTestResolver(now)
	stw := r.Resolve(&models.MTimewindowConfig{
		Type:             models.TimewindowRealtime,
		RealtimeWindowMs: 60_000,
	}, 0)

	window, changed := r.UpdateWindowRange(nil, stw)
	if !changed {
		t.Fatal("first derivation must report changed")
	}
	wantMax := now / 1000 * 1000
	if window.MaxTime != wantMax {
		t.Errorf("expected maxTime %d, got %d", wantMax, window.MaxTime)
	}
	if window.MinTime != wantMax-60_000 {
		t.Errorf("expected minTime %d, got %d", wantMax-60_000, window.MinTime)
	}
}

// TestUpdateWindowRangeJitterGuard verifies small clock drift keeps the
// previous window, larger drift produces a fresh one.
func TestUpdateWindowRangeJitterGuard(t *testing.T) {
	now := int64(1_700_000_120_000)
	r := newTestResolver(now)
	stw := r.Resolve(&models.MTimewindowConfig{
		Type:             models.TimewindowRealtime,
		RealtimeWindowMs: 60_000,
	}, 0)
	window, _ := r.UpdateWindowRange(nil, stw)

	// Drift within the guard: same window object, no change reported.
	r.now = func() time.Time { return time.UnixMilli(now + 400) }
	next, changed := r.UpdateWindowRange(window, stw)
	if changed {
		t.Error("drift within the guard must not report a change")
	}
	if next != window {
		t.Error("suppressed refresh must return the previous window")
	}

	// Drift past the guard: a new window moves forward.
	r.now = func() time.Time { return time.UnixMilli(now + 1_500) }
	next, changed = r.UpdateWindowRange(window, stw)
	if !changed {
		t.Fatal("drift past the guard must report a change")
	}
	if next == window {
		t.Error("refresh must produce a fresh window object")
	}
	if next.MaxTime != (now+1_500)/1000*1000 {
		t.Errorf("unexpected maxTime %d", next.MaxTime)
	}
}

// TestUpdateWindowRangeFixed verifies a fixed window only changes when its
// bounds or interval change.
func TestUpdateWindowRangeFixed(t *testing.T) {
	r := newTestResolver(1_700_000_000_000)
	stw := &models.MSubscriptionTimewindow{
		AggregationInterval: 1000,
		FixedWindow:         &models.MFixedWindow{StartTimeMs: 100, EndTimeMs: 200},
	}

	window, changed := r.UpdateWindowRange(nil, stw)
	if !changed || window.MinTime != 100 || window.MaxTime != 200 {
		t.Fatalf("unexpected initial window %+v (changed=%v)", window, changed)
	}

	if _, changed = r.UpdateWindowRange(window, stw); changed {
		t.Error("identical bounds must not report a change")
	}

	stw.FixedWindow.EndTimeMs = 300
	next, changed := r.UpdateWindowRange(window, stw)
	if !changed || next.MaxTime != 300 {
		t.Errorf("expected new window ending at 300, got %+v (changed=%v)", next, changed)
	}
}

// TestResolveQuickIntervalCurrentDay verifies the calendar-relative window
// covers the local day containing "now".
func TestResolveQuickIntervalCurrentDay(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 30, 0, 0, time.Local)
	r := newTestResolver(now.UnixMilli())
	stw := r.Resolve(&models.MTimewindowConfig{
		Type:          models.TimewindowRealtime,
		QuickInterval: models.QuickIntervalCurrentDay,
	}, 0)

	dayStart := time.Date(2024, 3, 15, 0, 0, 0, 0, time.Local)
	if stw.StartTs != dayStart.UnixMilli() {
		t.Errorf("expected day start %d, got %d", dayStart.UnixMilli(), stw.StartTs)
	}
	if stw.RealtimeWindowMs != dayStart.AddDate(0, 0, 1).UnixMilli()-dayStart.UnixMilli() {
		t.Errorf("expected a full-day window, got %d ms", stw.RealtimeWindowMs)
	}
	if stw.QuickInterval != models.QuickIntervalCurrentDay {
		t.Errorf("expected quick interval to be carried, got %q", stw.QuickInterval)
	}
}

// TestTsOffsetEmptyTimezone verifies the zero-value timezone applies no
// adjustment.
func TestTsOffsetEmptyTimezone(t *testing.T) {
	if off := TsOffset(""); off != 0 {
		t.Errorf("expected 0, got %d", off)
	}
	if off := TsOffset("Not/AZone"); off != 0 {
		t.Errorf("unknown zone must yield 0, got %d", off)
	}
}
