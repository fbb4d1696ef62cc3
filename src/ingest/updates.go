package ingest

import (
	"reflect"

	"telemetry-observer/src/models"
	"telemetry-observer/src/utils"
)

// -----------------------------------------------------------------------------
// Incremental updates
// -----------------------------------------------------------------------------

// ApplyUpdate applies one per-key series replacement. It returns the flat
// index the update landed on and whether it was materially new; suppressed
// and out-of-range updates report applied == false.
//
// Latest-mode single-point series are suppressed when nothing changed: both
// series empty, or identical first timestamp+value - unless the value is the
// unsupported-feature sentinel, whose re-deliveries always go through.
// Timeseries updates are never suppressed.
func (p *Pipeline) ApplyUpdate(u Update) (int, bool) {
	if u.DatasourceIndex < 0 || u.DatasourceIndex >= len(p.groups) {
		return -1, false
	}
	g := p.groups[u.DatasourceIndex]
	if u.RowIndex < 0 || u.RowIndex >= len(g.rows) {
		return -1, false
	}

	if u.IsLatest {
		return p.applyLatest(g, u)
	}
	return p.applySeries(g, u)
}

// -----------------------------------------------------------------------------

func (p *Pipeline) applySeries(g *group, u Update) (int, bool) {
	if u.KeyIndex < 0 || u.KeyIndex >= g.keyCount {
		return -1, false
	}
	index := g.config.DataKeyStartIndex + u.RowIndex*g.keyCount + u.KeyIndex
	holder := p.data[index]

	series := postProcess(holder.DataKey, u.Series)

	if p.opts.Type == models.SubscriptionLatest && suppressed(p.currentSeries(index), series) {
		return index, false
	}

	if p.hidden[index] {
		p.hiddenData[index] = series
	} else {
		holder.Data = series
	}
	return index, true
}

// -----------------------------------------------------------------------------

func (p *Pipeline) applyLatest(g *group, u Update) (int, bool) {
	if u.KeyIndex < 0 || u.KeyIndex >= g.latestKeyCount {
		return -1, false
	}
	index := g.config.LatestDataKeyStartIndex + u.RowIndex*g.latestKeyCount + u.KeyIndex
	holder := p.latestData[index]

	series := postProcess(holder.DataKey, u.Series)

	if suppressed(holder.Data, series) {
		return index, false
	}
	holder.Data = series
	return index, true
}

// -----------------------------------------------------------------------------

// currentSeries returns the live series for a flat index, looking through the
// hidden holder.
func (p *Pipeline) currentSeries(index int) models.MDataSeries {
	if p.hidden[index] {
		return p.hiddenData[index]
	}
	return p.data[index].Data
}

// -----------------------------------------------------------------------------

// suppressed implements the latest-mode change-suppression rule.
func suppressed(prev, next models.MDataSeries) bool {
	if len(prev) == 0 && len(next) == 0 {
		return true
	}
	if len(prev) == 0 || len(next) == 0 {
		return false
	}
	if next[0].Value == models.UnsupportedValue {
		return false
	}
	return prev[0].Ts == next[0].Ts && sameValue(prev[0].Value, next[0].Value)
}

// sameValue compares two sample values. Attribute payloads may carry decoded
// JSON objects or arrays, which would make a plain interface comparison
// panic.
func sameValue(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// -----------------------------------------------------------------------------

// postProcess applies the key's registered post function to every numeric
// sample, carrying the previous processed value.
func postProcess(key *models.MDataKey, series models.MDataSeries) models.MDataSeries {
	if key.PostFuncName == "" || len(series) == 0 {
		return series
	}
	fn, ok := LookupPostFunc(key.PostFuncName)
	if !ok {
		return series
	}

	out := make(models.MDataSeries, len(series))
	prev := 0.0
	for i, point := range series {
		v, numeric := utils.NumericValue(point.Value)
		if !numeric {
			out[i] = point
			continue
		}
		processed := fn(point.Ts, v, prev)
		prev = processed
		out[i] = models.MDataPoint{Ts: point.Ts, Value: processed}
	}
	return out
}
