package ingest

import (
	"context"
	"fmt"
	"strings"

	"telemetry-observer/src/helpers"
	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
	"telemetry-observer/src/utils"
)

// -----------------------------------------------------------------------------
// Pipeline maintains the flat series arrays for one subscription and decides,
// for every individual key update, whether it represents a materially new
// value. The arrays are owned by the controller; the pipeline mutates them
// only on the controller's behalf and is not safe for concurrent use.
// -----------------------------------------------------------------------------

// Options fixes the pipeline shape for one configuration cycle.
type Options struct {
	Type              models.SubscriptionType
	Datasources       []models.MDatasource
	ComparisonEnabled bool
	SingleEntity      bool
	PageSize          int

	// OnMessage receives non-fatal conditions (e.g. truncated pages).
	OnMessage func(msg models.MSubscriptionMessage)
}

// group is one configured datasource with its resolved entity rows.
type group struct {
	config         *models.MDatasource
	rows           []*models.MDatasource
	hasNext        bool
	total          int
	page           int
	keyCount       int
	latestKeyCount int
}

type Pipeline struct {
	logger   *logger.Logger
	resolver interfaces.IReferenceResolver
	opts     Options

	groups     []*group
	data       []*models.MDatasourceData
	latestData []*models.MDatasourceData

	// hiddenData parks the live series of keys toggled invisible so
	// re-showing them needs no refetch.
	hiddenData []models.MDataSeries
	hidden     []bool
}

// Update addresses one incoming per-key series replacement.
type Update struct {
	DatasourceIndex int
	RowIndex        int
	KeyIndex        int
	Series          models.MDataSeries
	IsLatest        bool
}

// -----------------------------------------------------------------------------

func NewPipeline(resolver interfaces.IReferenceResolver, log *logger.Logger, opts Options) *Pipeline {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.OnMessage == nil {
		opts.OnMessage = func(models.MSubscriptionMessage) {}
	}
	return &Pipeline{
		logger:   log,
		resolver: resolver,
		opts:     opts,
	}
}

// -----------------------------------------------------------------------------
// Initial load
// -----------------------------------------------------------------------------

// Prepare resolves every configured datasource to a page of concrete
// datasources, synthesizes comparison shadows, and rebuilds the flat arrays.
// All derived state is built from scratch; nothing from a previous cycle
// survives.
func (p *Pipeline) Prepare(ctx context.Context) error {
	groups := make([]*group, 0, len(p.opts.Datasources))

	for i := range p.opts.Datasources {
		cfg := p.opts.Datasources[i]
		g, err := p.resolveGroup(ctx, &cfg, 0)
		if err != nil {
			return helpers.NewResolutionError(fmt.Sprintf("failed to resolve datasource %d", i), err)
		}
		groups = append(groups, g)
	}

	if p.opts.ComparisonEnabled {
		for i, g := range groups[:len(groups):len(groups)] {
			if shadow := synthesizeShadow(g, i); shadow != nil {
				groups = append(groups, shadow)
			}
		}
	}

	p.groups = groups
	p.rebuild()
	p.reportOverflow()
	return nil
}

// -----------------------------------------------------------------------------

// FetchPage re-resolves one datasource at an explicit page. Pagination beyond
// the first page is always an explicit operation, never automatic.
func (p *Pipeline) FetchPage(ctx context.Context, datasourceIndex, page int) error {
	if datasourceIndex < 0 || datasourceIndex >= len(p.groups) {
		return helpers.NewValidationError(fmt.Sprintf("datasource index %d out of range", datasourceIndex))
	}
	g := p.groups[datasourceIndex]
	if g.config.IsAdditional {
		return helpers.NewValidationError("cannot paginate a comparison datasource")
	}

	next, err := p.resolveGroup(ctx, g.config, page)
	if err != nil {
		return helpers.NewResolutionError(fmt.Sprintf("failed to fetch page %d of datasource %d", page, datasourceIndex), err)
	}
	p.groups[datasourceIndex] = next
	p.rebuild()
	return nil
}

// -----------------------------------------------------------------------------

func (p *Pipeline) resolveGroup(ctx context.Context, cfg *models.MDatasource, page int) (*group, error) {
	resolved, err := p.resolver.ResolveDatasource(ctx, cfg, p.opts.SingleEntity, p.opts.PageSize, page)
	if err != nil {
		return nil, err
	}
	return &group{
		config:         cfg,
		rows:           resolved.Datasources,
		hasNext:        resolved.HasNext,
		total:          resolved.TotalElements,
		page:           resolved.Page,
		keyCount:       len(cfg.DataKeys),
		latestKeyCount: len(cfg.LatestDataKeys),
	}, nil
}

// -----------------------------------------------------------------------------

// synthesizeShadow builds the comparison twin of a group: same rows, only the
// keys flagged for comparison display, everything tagged additional with
// back-references to the origin.
func synthesizeShadow(g *group, origIndex int) *group {
	var keys []models.MDataKey
	for ki, key := range g.config.DataKeys {
		if !key.ComparisonDisplay {
			continue
		}
		shadowKey := key
		shadowKey.IsAdditional = true
		shadowKey.OrigDataKeyIndex = ki
		if shadowKey.Label != "" {
			shadowKey.Label += " (comparison)"
		}
		keys = append(keys, shadowKey)
	}
	if len(keys) == 0 {
		return nil
	}

	cfg := *g.config
	cfg.IsAdditional = true
	cfg.OrigDatasourceIndex = origIndex
	cfg.DataKeys = keys
	cfg.LatestDataKeys = nil

	rows := make([]*models.MDatasource, 0, len(g.rows))
	for _, row := range g.rows {
		shadowRow := *row
		shadowRow.IsAdditional = true
		shadowRow.OrigDatasourceIndex = origIndex
		shadowRow.DataKeys = append([]models.MDataKey(nil), keys...)
		shadowRow.LatestDataKeys = nil
		rows = append(rows, &shadowRow)
	}

	return &group{
		config:   &cfg,
		rows:     rows,
		keyCount: len(keys),
		page:     g.page,
		total:    g.total,
	}
}

// -----------------------------------------------------------------------------

// rebuild assigns array offsets, recomputes every key label from its pattern
// and reassembles the flat arrays. Offsets stay valid for every partial
// update until the next rebuild.
func (p *Pipeline) rebuild() {
	dataIndex := 0
	latestIndex := 0
	p.data = p.data[:0]
	p.latestData = p.latestData[:0]

	for _, g := range p.groups {
		g.config.DataKeyStartIndex = dataIndex
		g.config.LatestDataKeyStartIndex = latestIndex

		for _, row := range g.rows {
			row.DataKeyStartIndex = g.config.DataKeyStartIndex
			row.LatestDataKeyStartIndex = g.config.LatestDataKeyStartIndex
			relabel(row)

			for ki := range row.DataKeys {
				p.data = append(p.data, &models.MDatasourceData{
					Datasource: row,
					DataKey:    &row.DataKeys[ki],
					Data:       models.MDataSeries{},
				})
			}
			for ki := range row.LatestDataKeys {
				p.latestData = append(p.latestData, &models.MDatasourceData{
					Datasource: row,
					DataKey:    &row.LatestDataKeys[ki],
					Data:       models.MDataSeries{},
				})
			}
		}

		dataIndex += len(g.rows) * g.keyCount
		latestIndex += len(g.rows) * g.latestKeyCount
	}

	p.hiddenData = make([]models.MDataSeries, len(p.data))
	p.hidden = make([]bool, len(p.data))
}

// -----------------------------------------------------------------------------

// relabel recomputes every display label of a row from its pattern. Patterns
// are captured once from the configured label so relabeling is repeatable.
func relabel(row *models.MDatasource) {
	vars := utils.LabelVars{
		DsName:      row.Name,
		EntityName:  row.EntityName,
		DeviceName:  row.EntityName,
		AliasName:   row.AliasName,
		EntityLabel: row.EntityLabel,
	}
	for i := range row.DataKeys {
		relabelKey(&row.DataKeys[i], vars)
	}
	for i := range row.LatestDataKeys {
		relabelKey(&row.LatestDataKeys[i], vars)
	}
}

func relabelKey(key *models.MDataKey, vars utils.LabelVars) {
	if key.Pattern == "" {
		if key.Label == "" {
			key.Label = key.Name
		}
		key.Pattern = key.Label
	}
	key.Label = utils.CreateLabelFromPattern(key.Pattern, vars)
}

// -----------------------------------------------------------------------------

// reportOverflow emits one warning per truncated entity page. Delivery
// continues with the truncated set.
func (p *Pipeline) reportOverflow() {
	for _, g := range p.groups {
		if g.config.IsAdditional || p.opts.SingleEntity {
			continue
		}
		if g.config.Type == models.DatasourceTypeEntity && g.hasNext {
			p.opts.OnMessage(models.MSubscriptionMessage{
				Severity: models.SeverityWarn,
				Message: fmt.Sprintf("Datasource '%s' matched %d entities, showing the first %d.",
					datasourceName(g.config), g.total, len(g.rows)),
			})
		}
	}
}

func datasourceName(ds *models.MDatasource) string {
	if name := strings.TrimSpace(ds.Name); name != "" {
		return name
	}
	if ds.AliasName != "" {
		return ds.AliasName
	}
	return string(ds.Type)
}
