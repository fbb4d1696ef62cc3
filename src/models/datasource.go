package models

// -----------------------------------------------------------------------------
// Datasource model
// -----------------------------------------------------------------------------

// DatasourceType identifies where a datasource reads its data from.
type DatasourceType string

const (
	DatasourceTypeEntity   DatasourceType = "entity"
	DatasourceTypeFunction DatasourceType = "function"
)

// DataKeyType identifies the semantic kind of a single data key.
type DataKeyType string

const (
	DataKeyTypeTimeseries  DataKeyType = "timeseries"
	DataKeyTypeAttribute   DataKeyType = "attribute"
	DataKeyTypeEntityField DataKeyType = "entityField"
	DataKeyTypeAlarmField  DataKeyType = "alarm"
	DataKeyTypeFunction    DataKeyType = "function"
	DataKeyTypeCount       DataKeyType = "count"
)

// -----------------------------------------------------------------------------

// MDataKey is one named, typed signal read from a datasource.
type MDataKey struct {
	Name     string      `json:"name" yaml:"name"`
	Type     DataKeyType `json:"type" yaml:"type"`
	Label    string      `json:"label" yaml:"label"`
	Color    string      `json:"color" yaml:"color"`
	Units    string      `json:"units" yaml:"units"`
	Decimals *int        `json:"decimals,omitempty" yaml:"decimals,omitempty"`

	// Pattern is the configured label pattern, captured before substitution
	// so the label can be recomputed on every reconfiguration.
	Pattern string `json:"-" yaml:"-"`

	// FuncName selects a registered generator for function datasources.
	FuncName string `json:"funcName,omitempty" yaml:"func_name,omitempty"`

	// PostFuncName selects a registered post-processing function applied to
	// every incoming value.
	PostFuncName string `json:"postFuncName,omitempty" yaml:"post_func_name,omitempty"`

	Aggregation AggregationType `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`

	// ComparisonDisplay marks the key for inclusion in the synthesized
	// comparison shadow datasource.
	ComparisonDisplay bool `json:"comparisonDisplay,omitempty" yaml:"comparison_display,omitempty"`

	// Comparison shadow keys are tagged additional and remember where they
	// came from.
	IsAdditional     bool `json:"-" yaml:"-"`
	OrigDataKeyIndex int  `json:"-" yaml:"-"`
}

// EffectiveDecimals returns the key-level decimals, falling back to the
// subscription default.
func (k *MDataKey) EffectiveDecimals(def int) int {
	if k.Decimals != nil {
		return *k.Decimals
	}
	return def
}

// EffectiveUnits returns the key-level units, falling back to the
// subscription default.
func (k *MDataKey) EffectiveUnits(def string) string {
	if k.Units != "" {
		return k.Units
	}
	return def
}

// -----------------------------------------------------------------------------

// MDatasource identifies an entity (or a synthetic function source) plus the
// ordered list of keys read from it. Resolved fields and array offsets are
// assigned during (re)configuration; the object is replaced wholesale, never
// patched, when resolution reruns.
type MDatasource struct {
	Type DatasourceType `json:"type" yaml:"type"`
	Name string         `json:"name" yaml:"name"`

	// Abstract references, resolved via the reference resolver.
	AliasID  string `json:"aliasId,omitempty" yaml:"alias_id,omitempty"`
	FilterID string `json:"filterId,omitempty" yaml:"filter_id,omitempty"`

	// Concrete entity fields, filled in by resolution.
	EntityType  string `json:"entityType,omitempty" yaml:"entity_type,omitempty"`
	EntityID    string `json:"entityId,omitempty" yaml:"entity_id,omitempty"`
	EntityName  string `json:"entityName,omitempty" yaml:"entity_name,omitempty"`
	EntityLabel string `json:"entityLabel,omitempty" yaml:"entity_label,omitempty"`
	AliasName   string `json:"aliasName,omitempty" yaml:"alias_name,omitempty"`

	DataKeys       []MDataKey `json:"dataKeys" yaml:"data_keys"`
	LatestDataKeys []MDataKey `json:"latestDataKeys,omitempty" yaml:"latest_data_keys,omitempty"`

	// Offsets into the flat series arrays, assigned on (re)configuration.
	DataKeyStartIndex       int `json:"-" yaml:"-"`
	LatestDataKeyStartIndex int `json:"-" yaml:"-"`

	// Comparison shadow datasources are tagged additional and back-reference
	// the datasource they mirror.
	IsAdditional        bool `json:"-" yaml:"-"`
	OrigDatasourceIndex int  `json:"-" yaml:"-"`
}

// Resolved reports whether the datasource points at a concrete entity.
func (d *MDatasource) Resolved() bool {
	return d.Type == DatasourceTypeFunction || (d.EntityType != "" && d.EntityID != "")
}

// -----------------------------------------------------------------------------

// MEntityInfo describes one concrete entity.
type MEntityInfo struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Name       string `json:"name"`
	Label      string `json:"label,omitempty"`
}

// -----------------------------------------------------------------------------

// MResolvedPage is one page of concrete datasources produced by resolving a
// single configured datasource.
type MResolvedPage struct {
	Datasources   []*MDatasource `json:"datasources"`
	HasNext       bool           `json:"hasNext"`
	TotalElements int            `json:"totalElements"`
	Page          int            `json:"page"`
}
