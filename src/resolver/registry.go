package resolver

import (
	"context"
	"sync"

	"telemetry-observer/src/helpers"
	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
)

// -----------------------------------------------------------------------------
// Registry is the in-process reference resolver: entities and aliases are
// declared in the host configuration and can be mutated at runtime, which is
// how alias changes reach the running subscriptions.
// -----------------------------------------------------------------------------

type Registry struct {
	mu       sync.RWMutex
	logger   *logger.Logger
	entities map[string]models.MEntityConfig
	aliases  map[string]models.MAliasConfig
}

var _ interfaces.IReferenceResolver = (*Registry)(nil)

// -----------------------------------------------------------------------------

func NewRegistry(log *logger.Logger, cfg *models.MConfig) *Registry {
	r := &Registry{
		logger:   log.Named("registry"),
		entities: make(map[string]models.MEntityConfig),
		aliases:  make(map[string]models.MAliasConfig),
	}
	if cfg != nil {
		for _, e := range cfg.Entities {
			r.entities[e.ID] = e
		}
		for _, a := range cfg.Aliases {
			r.aliases[a.ID] = a
		}
	}
	return r
}

// -----------------------------------------------------------------------------
// Mutation
// -----------------------------------------------------------------------------

func (r *Registry) SetEntity(e models.MEntityConfig) {
	r.mu.Lock()
	r.entities[e.ID] = e
	r.mu.Unlock()
}

func (r *Registry) SetAlias(a models.MAliasConfig) {
	r.mu.Lock()
	r.aliases[a.ID] = a
	r.mu.Unlock()
}

// UpdateAlias repoints an existing alias at a new entity set. Returns false
// when the alias is unknown.
func (r *Registry) UpdateAlias(aliasID string, entityIDs []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.aliases[aliasID]
	if !ok {
		return false
	}
	a.EntityIDs = entityIDs
	r.aliases[aliasID] = a
	return true
}

// -----------------------------------------------------------------------------
// IReferenceResolver
// -----------------------------------------------------------------------------

func (r *Registry) ResolveDatasource(ctx context.Context, ds *models.MDatasource, singleEntity bool, pageSize, page int) (*models.MResolvedPage, error) {
	if ds.Type == models.DatasourceTypeFunction {
		row := copyDatasource(ds)
		row.EntityName = ds.Name
		return &models.MResolvedPage{
			Datasources:   []*models.MDatasource{row},
			TotalElements: 1,
			Page:          page,
		}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if ds.AliasID == "" {
		// Direct entity reference, no alias indirection.
		if ds.EntityID == "" {
			return nil, helpers.NewResolutionError("datasource has neither an alias nor an entity id", nil)
		}
		row := copyDatasource(ds)
		if e, ok := r.entities[ds.EntityID]; ok {
			r.applyEntity(row, e)
		} else {
			row.EntityName = ds.EntityID
		}
		return &models.MResolvedPage{
			Datasources:   []*models.MDatasource{row},
			TotalElements: 1,
			Page:          page,
		}, nil
	}

	alias, ok := r.aliases[ds.AliasID]
	if !ok {
		return nil, helpers.NewResolutionError("unknown entity alias: "+ds.AliasID, nil)
	}

	resolved := make([]models.MEntityConfig, 0, len(alias.EntityIDs))
	for _, id := range alias.EntityIDs {
		e, ok := r.entities[id]
		if !ok {
			r.logger.Warning("alias '%s' references unknown entity '%s', skipping", alias.Alias, id)
			continue
		}
		resolved = append(resolved, e)
	}
	if singleEntity && len(resolved) > 1 {
		resolved = resolved[:1]
	}

	total := len(resolved)
	if pageSize <= 0 {
		pageSize = total
	}
	start := page * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	rows := make([]*models.MDatasource, 0, end-start)
	for _, e := range resolved[start:end] {
		row := copyDatasource(ds)
		row.AliasName = alias.Alias
		r.applyEntity(row, e)
		rows = append(rows, row)
	}
	return &models.MResolvedPage{
		Datasources:   rows,
		TotalElements: total,
		HasNext:       end < total,
		Page:          page,
	}, nil
}

func (r *Registry) ResolveRpcTarget(ctx context.Context, target *models.MRpcTarget) (*models.MEntityInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if target.EntityID != "" {
		info := &models.MEntityInfo{EntityType: "DEVICE", EntityID: target.EntityID}
		if e, ok := r.entities[target.EntityID]; ok {
			info.EntityType = e.Type
			info.Name = e.Name
			info.Label = e.Label
		}
		return info, nil
	}
	if target.AliasID == "" {
		return nil, nil
	}
	alias, ok := r.aliases[target.AliasID]
	if !ok {
		return nil, helpers.NewResolutionError("unknown entity alias: "+target.AliasID, nil)
	}
	for _, id := range alias.EntityIDs {
		if e, ok := r.entities[id]; ok {
			return &models.MEntityInfo{EntityType: e.Type, EntityID: e.ID, Name: e.Name, Label: e.Label}, nil
		}
	}
	// The alias exists but currently matches nothing, not an error.
	return nil, nil
}

func (r *Registry) ResolveAlarmSource(ctx context.Context, source *models.MAlarmSource) (*models.MAlarmSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := *source
	if source.EntityID != "" {
		if e, ok := r.entities[source.EntityID]; ok {
			out.EntityType = e.Type
			out.EntityName = e.Name
		}
		return &out, nil
	}
	if source.AliasID == "" {
		return nil, helpers.NewResolutionError("alarm source has neither an alias nor an entity id", nil)
	}
	alias, ok := r.aliases[source.AliasID]
	if !ok {
		return nil, helpers.NewResolutionError("unknown entity alias: "+source.AliasID, nil)
	}
	for _, id := range alias.EntityIDs {
		if e, ok := r.entities[id]; ok {
			out.EntityType = e.Type
			out.EntityID = e.ID
			out.EntityName = e.Name
			return &out, nil
		}
	}
	return nil, helpers.NewResolutionError("alias '"+alias.Alias+"' resolves to no entities", nil)
}

// -----------------------------------------------------------------------------

func (r *Registry) applyEntity(row *models.MDatasource, e models.MEntityConfig) {
	row.EntityType = e.Type
	row.EntityID = e.ID
	row.EntityName = e.Name
	row.EntityLabel = e.Label
	if row.Name == "" {
		row.Name = e.Name
	}
}

// copyDatasource deep-copies the key slices: rows are relabeled per entity
// and must not share key state with the configuration.
func copyDatasource(ds *models.MDatasource) *models.MDatasource {
	row := *ds
	row.DataKeys = make([]models.MDataKey, len(ds.DataKeys))
	copy(row.DataKeys, ds.DataKeys)
	row.LatestDataKeys = make([]models.MDataKey, len(ds.LatestDataKeys))
	copy(row.LatestDataKeys, ds.LatestDataKeys)
	return &row
}
