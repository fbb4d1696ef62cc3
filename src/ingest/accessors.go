package ingest

import (
	"strings"

	"telemetry-observer/src/models"
)

// -----------------------------------------------------------------------------
// Accessors. The returned slices are the controller's live arrays; callers
// other than the controller must treat them as read-only snapshots.
// -----------------------------------------------------------------------------

// Data returns the flat series array.
func (p *Pipeline) Data() []*models.MDatasourceData {
	return p.data
}

// LatestData returns the flat latest-series array.
func (p *Pipeline) LatestData() []*models.MDatasourceData {
	return p.latestData
}

// -----------------------------------------------------------------------------

// GroupCount returns the number of resolved datasources, comparison shadows
// included.
func (p *Pipeline) GroupCount() int {
	return len(p.groups)
}

// GroupRows returns the resolved entity rows of one datasource.
func (p *Pipeline) GroupRows(datasourceIndex int) []*models.MDatasource {
	if datasourceIndex < 0 || datasourceIndex >= len(p.groups) {
		return nil
	}
	return p.groups[datasourceIndex].rows
}

// GroupIsAdditional reports whether the datasource is a comparison shadow.
func (p *Pipeline) GroupIsAdditional(datasourceIndex int) bool {
	if datasourceIndex < 0 || datasourceIndex >= len(p.groups) {
		return false
	}
	return p.groups[datasourceIndex].config.IsAdditional
}

// GroupHasNext reports whether more entity pages exist for the datasource.
func (p *Pipeline) GroupHasNext(datasourceIndex int) bool {
	if datasourceIndex < 0 || datasourceIndex >= len(p.groups) {
		return false
	}
	return p.groups[datasourceIndex].hasNext
}

// -----------------------------------------------------------------------------

// FirstEntity returns the first resolved datasource carrying both an entity
// type and id.
func (p *Pipeline) FirstEntity() *models.MEntityInfo {
	for _, g := range p.groups {
		if g.config.IsAdditional {
			continue
		}
		for _, row := range g.rows {
			if row.EntityType != "" && row.EntityID != "" {
				return &models.MEntityInfo{
					EntityType: row.EntityType,
					EntityID:   row.EntityID,
					Name:       row.EntityName,
					Label:      row.EntityLabel,
				}
			}
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// Signature identifies the resolved structure: the ordered set of entity ids
// per datasource. Two resolutions with equal signatures are structurally
// identical.
func (p *Pipeline) Signature() string {
	var b strings.Builder
	for _, g := range p.groups {
		b.WriteByte('[')
		for _, row := range g.rows {
			b.WriteString(row.EntityType)
			b.WriteByte(':')
			b.WriteString(row.EntityID)
			b.WriteByte(',')
		}
		b.WriteByte(']')
	}
	return b.String()
}

// -----------------------------------------------------------------------------

// ResetData empties every series while keeping the array structure, so the
// owner can observe a defined empty state after unsubscribing.
func (p *Pipeline) ResetData() {
	for _, d := range p.data {
		d.Data = models.MDataSeries{}
	}
	for _, d := range p.latestData {
		d.Data = models.MDataSeries{}
	}
	for i := range p.hiddenData {
		p.hiddenData[i] = models.MDataSeries{}
	}
}

// -----------------------------------------------------------------------------

// SetHidden toggles a key's visibility, swapping its live series with the
// hidden holder so no data is lost. Reports whether the flag changed.
func (p *Pipeline) SetHidden(index int, hidden bool) bool {
	if index < 0 || index >= len(p.data) || p.hidden[index] == hidden {
		return false
	}
	p.hidden[index] = hidden
	if hidden {
		p.hiddenData[index] = p.data[index].Data
		p.data[index].Data = models.MDataSeries{}
	} else {
		p.data[index].Data = p.hiddenData[index]
		p.hiddenData[index] = models.MDataSeries{}
	}
	return true
}

// Hidden reports a key's visibility flag.
func (p *Pipeline) Hidden(index int) bool {
	if index < 0 || index >= len(p.hidden) {
		return false
	}
	return p.hidden[index]
}
