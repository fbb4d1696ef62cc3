package models

// -----------------------------------------------------------------------------
// Alarm model
// -----------------------------------------------------------------------------

// MAlarmSource identifies where alarm rows are read from: a concrete entity,
// or an abstract alias resolved at subscription time.
type MAlarmSource struct {
	AliasID    string `json:"aliasId,omitempty" yaml:"alias_id,omitempty"`
	EntityType string `json:"entityType,omitempty" yaml:"entity_type,omitempty"`
	EntityID   string `json:"entityId,omitempty" yaml:"entity_id,omitempty"`
	EntityName string `json:"entityName,omitempty" yaml:"entity_name,omitempty"`

	// SearchStatus limits rows to alarms in the given status, empty for any.
	SearchStatus string `json:"searchStatus,omitempty" yaml:"search_status,omitempty"`
}

// -----------------------------------------------------------------------------

// MAlarm is one alarm row.
type MAlarm struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	OriginatorType string `json:"originatorType"`
	OriginatorID   string `json:"originatorId"`
	OriginatorName string `json:"originatorName"`
	Severity       string `json:"severity"`
	Status         string `json:"status"`
	StartTs        int64  `json:"startTs"`
	EndTs          int64  `json:"endTs,omitempty"`

	// AdditionalInfo is free-form JSON attached by the producer. Parsing it is
	// best effort only.
	AdditionalInfo string `json:"additionalInfo,omitempty"`
}

// MAlarmPage is one page of alarm rows.
type MAlarmPage struct {
	Data          []MAlarm `json:"data"`
	TotalElements int      `json:"totalElements"`
	HasNext       bool     `json:"hasNext"`
}
