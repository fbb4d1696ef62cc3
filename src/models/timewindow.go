package models

// -----------------------------------------------------------------------------
// Time window model
// -----------------------------------------------------------------------------

// TimewindowType selects between a window ending "now" and an explicit
// historical range.
type TimewindowType string

const (
	TimewindowRealtime TimewindowType = "realtime"
	TimewindowHistory  TimewindowType = "history"
)

// AggregationType names the server-side aggregation applied to a window.
type AggregationType string

const (
	AggregationNone AggregationType = "NONE"
	AggregationAvg  AggregationType = "AVG"
	AggregationMin  AggregationType = "MIN"
	AggregationMax  AggregationType = "MAX"
	AggregationSum  AggregationType = "SUM"
	AggregationLast AggregationType = "LAST"
)

// QuickInterval names a calendar-relative realtime window.
type QuickInterval string

const (
	QuickIntervalNone                QuickInterval = ""
	QuickIntervalCurrentHour         QuickInterval = "currentHour"
	QuickIntervalCurrentDay          QuickInterval = "currentDay"
	QuickIntervalCurrentWeek         QuickInterval = "currentWeek"
	QuickIntervalCurrentMonth        QuickInterval = "currentMonth"
	QuickIntervalCurrentBusinessDay  QuickInterval = "currentBusinessDay"
	QuickIntervalPreviousBusinessDay QuickInterval = "previousBusinessDay"
)

// ComparisonDuration selects how the comparison shadow window is derived
// from the primary window.
type ComparisonDuration string

const (
	ComparisonPreviousInterval ComparisonDuration = "previousInterval"
	ComparisonDays             ComparisonDuration = "days"
	ComparisonWeeks            ComparisonDuration = "weeks"
	ComparisonMonths           ComparisonDuration = "months"
	ComparisonCustomInterval   ComparisonDuration = "customInterval"
)

// MinComparisonCustomIntervalMs is the smallest accepted custom comparison
// offset.
const MinComparisonCustomIntervalMs = 1000

// -----------------------------------------------------------------------------

// MTimewindowConfig is the abstract time window configuration supplied by the
// owner. It is replaced wholesale on update, never patched field by field.
type MTimewindowConfig struct {
	Type TimewindowType `json:"type" yaml:"type"`

	// Realtime settings.
	RealtimeWindowMs int64         `json:"realtimeWindowMs,omitempty" yaml:"realtime_window_ms,omitempty"`
	QuickInterval    QuickInterval `json:"quickInterval,omitempty" yaml:"quick_interval,omitempty"`

	// History settings. HistoryWindowMs is a "last N ms as of now" window;
	// FixedStartMs/FixedEndMs pin an explicit range.
	HistoryWindowMs int64 `json:"historyWindowMs,omitempty" yaml:"history_window_ms,omitempty"`
	FixedStartMs    int64 `json:"fixedStartMs,omitempty" yaml:"fixed_start_ms,omitempty"`
	FixedEndMs      int64 `json:"fixedEndMs,omitempty" yaml:"fixed_end_ms,omitempty"`

	// Timezone drives the tsOffset adjustment, distinct from clock skew.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// BusinessCalendar selects the trading calendar for the business-day
	// quick intervals (ISO 10383 MIC, e.g. "xnys").
	BusinessCalendar string `json:"businessCalendar,omitempty" yaml:"business_calendar,omitempty"`

	AggregationInterval int64           `json:"aggregationInterval,omitempty" yaml:"aggregation_interval,omitempty"`
	Aggregation         AggregationType `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`
}

// Copy returns a deep copy of the configuration.
func (c *MTimewindowConfig) Copy() *MTimewindowConfig {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// -----------------------------------------------------------------------------

// MFixedWindow is an explicit [start, end) range in epoch milliseconds.
type MFixedWindow struct {
	StartTimeMs int64 `json:"startTimeMs"`
	EndTimeMs   int64 `json:"endTimeMs"`
}

// -----------------------------------------------------------------------------

// MSubscriptionTimewindow is a resolved, concrete window. Exactly one of
// FixedWindow / RealtimeWindowMs is set.
type MSubscriptionTimewindow struct {
	StartTs          int64         `json:"startTs"`
	RealtimeWindowMs int64         `json:"realtimeWindowMs,omitempty"`
	FixedWindow      *MFixedWindow `json:"fixedWindow,omitempty"`
	QuickInterval    QuickInterval `json:"quickInterval,omitempty"`

	AggregationInterval int64           `json:"aggregationInterval"`
	Aggregation         AggregationType `json:"aggregation"`

	// TsOffset is the timezone-driven adjustment; StDiff corrects for
	// client/server clock drift.
	TsOffset int64 `json:"tsOffset"`
	StDiff   int64 `json:"stDiff"`
}

// IsRealtime reports whether the window tracks "now".
func (w *MSubscriptionTimewindow) IsRealtime() bool {
	return w != nil && w.RealtimeWindowMs > 0 && w.FixedWindow == nil
}

// Copy returns a deep copy of the resolved window.
func (w *MSubscriptionTimewindow) Copy() *MSubscriptionTimewindow {
	if w == nil {
		return nil
	}
	cp := *w
	if w.FixedWindow != nil {
		fw := *w.FixedWindow
		cp.FixedWindow = &fw
	}
	return &cp
}

// -----------------------------------------------------------------------------

// MTimewindow is the displayed window derived from the resolved subscription
// window. It is replaced wholesale on every recomputation so a concurrent
// reader can never observe a torn write.
type MTimewindow struct {
	MinTime  int64 `json:"minTime"`
	MaxTime  int64 `json:"maxTime"`
	Interval int64 `json:"interval"`
	TsOffset int64 `json:"tsOffset"`
	StDiff   int64 `json:"stDiff"`
}
