package legend

import (
	"sort"

	"telemetry-observer/src/models"
	"telemetry-observer/src/utils"
)

// -----------------------------------------------------------------------------
// Statistics
// -----------------------------------------------------------------------------

// CalculateMin returns the smallest value of a series, nil for an empty one.
func CalculateMin(data models.MDataSeries) *float64 {
	var result *float64
	for _, p := range data {
		v, ok := utils.NumericValue(p.Value)
		if !ok {
			continue
		}
		if result == nil || v < *result {
			value := v
			result = &value
		}
	}
	return result
}

// -----------------------------------------------------------------------------

// CalculateMax returns the largest value of a series, nil for an empty one.
func CalculateMax(data models.MDataSeries) *float64 {
	var result *float64
	for _, p := range data {
		v, ok := utils.NumericValue(p.Value)
		if !ok {
			continue
		}
		if result == nil || v > *result {
			value := v
			result = &value
		}
	}
	return result
}

// -----------------------------------------------------------------------------

// CalculateTotal returns the sum over all values, nil for an empty series.
func CalculateTotal(data models.MDataSeries) *float64 {
	if len(data) == 0 {
		return nil
	}
	total := 0.0
	for _, p := range data {
		v, _ := utils.NumericValue(p.Value)
		total += v
	}
	return &total
}

// -----------------------------------------------------------------------------

// CalculateAvg returns total/count, nil for an empty series.
func CalculateAvg(data models.MDataSeries) *float64 {
	if len(data) == 0 {
		return nil
	}
	total := CalculateTotal(data)
	avg := *total / float64(len(data))
	return &avg
}

// -----------------------------------------------------------------------------

// CalculateLatest returns the chronologically last value, nil for an empty
// series.
func CalculateLatest(data models.MDataSeries) *float64 {
	if len(data) == 0 {
		return nil
	}
	v, ok := utils.NumericValue(data[len(data)-1].Value)
	if !ok {
		return nil
	}
	return &v
}

// -----------------------------------------------------------------------------
// Aggregator computes the enabled subset of statistics per visible key,
// formatted with the key's own decimals/units or the subscription defaults.
// -----------------------------------------------------------------------------

type Aggregator struct {
	config   models.MLegendConfig
	decimals int
	units    string
}

// -----------------------------------------------------------------------------

func NewAggregator(cfg models.MLegendConfig, decimals int, units string) *Aggregator {
	return &Aggregator{
		config:   cfg,
		decimals: decimals,
		units:    units,
	}
}

// -----------------------------------------------------------------------------

// BuildLegend assembles the ordered legend for the flat series array: one key
// per entry, sorted by label, each remembering its index into the array.
func (a *Aggregator) BuildLegend(data []*models.MDatasourceData) *models.MLegendData {
	legend := &models.MLegendData{
		Keys: make([]models.MLegendKey, 0, len(data)),
		Data: make([]models.MLegendKeyData, len(data)),
	}
	for i, d := range data {
		legend.Keys = append(legend.Keys, models.MLegendKey{
			DataKey:   d.DataKey,
			DataIndex: i,
		})
	}
	sort.SliceStable(legend.Keys, func(i, j int) bool {
		return legend.Keys[i].DataKey.Label < legend.Keys[j].DataKey.Label
	})
	return legend
}

// -----------------------------------------------------------------------------

// UpdateKey recomputes the enabled statistics for one key from its full
// series. dataIndex addresses the flat series array.
func (a *Aggregator) UpdateKey(legend *models.MLegendData, dataIndex int, key *models.MDataKey, series models.MDataSeries) {
	if legend == nil || dataIndex < 0 || dataIndex >= len(legend.Data) {
		return
	}

	decimals := key.EffectiveDecimals(a.decimals)
	units := key.EffectiveUnits(a.units)

	keyData := &legend.Data[dataIndex]
	if a.config.ShowMin {
		keyData.Min = a.format(CalculateMin(series), decimals, units)
	}
	if a.config.ShowMax {
		keyData.Max = a.format(CalculateMax(series), decimals, units)
	}
	if a.config.ShowAvg {
		keyData.Avg = a.format(CalculateAvg(series), decimals, units)
	}
	if a.config.ShowTotal {
		keyData.Total = a.format(CalculateTotal(series), decimals, units)
	}
	if a.config.ShowLatest {
		keyData.Latest = a.format(CalculateLatest(series), decimals, units)
	}
}

// -----------------------------------------------------------------------------

func (a *Aggregator) format(value *float64, decimals int, units string) *string {
	if value == nil {
		return nil
	}
	text := utils.FormatValue(*value, decimals, units)
	return &text
}
