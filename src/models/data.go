package models

// -----------------------------------------------------------------------------
// Series data model
// -----------------------------------------------------------------------------

// UnsupportedValue is the sentinel a transport delivers for a key the remote
// side cannot serve. It is deliberately a single value, not a list: repeated
// deliveries of the sentinel must never be suppressed so that forced
// re-renders of the marker still go through.
const UnsupportedValue = "N/A"

// MDataPoint is one (timestamp, value) sample. Value is a number for
// timeseries keys and may be an arbitrary scalar for attribute keys.
type MDataPoint struct {
	Ts    int64       `json:"ts"`
	Value interface{} `json:"value"`
}

// MDataSeries is an ordered sequence of samples, insertion order equals
// chronological order. Updates replace the full series, they never append.
type MDataSeries []MDataPoint

// -----------------------------------------------------------------------------

// MDatasourceData is the unit of data flow: one key's series within one
// datasource.
type MDatasourceData struct {
	Datasource *MDatasource `json:"datasource"`
	DataKey    *MDataKey    `json:"dataKey"`
	Data       MDataSeries  `json:"data"`
}

// -----------------------------------------------------------------------------

// MSubscriptionMessage is a non-fatal condition queued for the owner to
// display.
type MSubscriptionMessage struct {
	Severity string `json:"severity"` // "warn" or "error"
	Message  string `json:"message"`
}
