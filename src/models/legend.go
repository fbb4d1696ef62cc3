package models

// -----------------------------------------------------------------------------
// Legend model
// -----------------------------------------------------------------------------

// MLegendConfig enables individual legend statistics.
type MLegendConfig struct {
	ShowMin    bool `json:"showMin" yaml:"show_min"`
	ShowMax    bool `json:"showMax" yaml:"show_max"`
	ShowAvg    bool `json:"showAvg" yaml:"show_avg"`
	ShowTotal  bool `json:"showTotal" yaml:"show_total"`
	ShowLatest bool `json:"showLatest" yaml:"show_latest"`
}

// AnyEnabled reports whether at least one statistic is enabled.
func (c *MLegendConfig) AnyEnabled() bool {
	return c != nil && (c.ShowMin || c.ShowMax || c.ShowAvg || c.ShowTotal || c.ShowLatest)
}

// -----------------------------------------------------------------------------

// MLegendKey binds a data key to its index into the flat series array.
type MLegendKey struct {
	DataKey   *MDataKey `json:"dataKey"`
	DataIndex int       `json:"dataIndex"`
}

// MLegendKeyData holds the formatted statistics for one key. A nil field
// means the statistic is disabled or the series is empty.
type MLegendKeyData struct {
	Min    *string `json:"min"`
	Max    *string `json:"max"`
	Avg    *string `json:"avg"`
	Total  *string `json:"total"`
	Latest *string `json:"latest"`
	Hidden bool    `json:"hidden"`
}

// MLegendData is the ordered legend: Keys and Data are parallel lists indexed
// by legend position.
type MLegendData struct {
	Keys []MLegendKey     `json:"keys"`
	Data []MLegendKeyData `json:"data"`
}
