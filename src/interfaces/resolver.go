package interfaces

import (
	"context"

	"telemetry-observer/src/models"
)

// -----------------------------------------------------------------------------
// IReferenceResolver turns abstract references (aliases, filters) into
// concrete datasource descriptors. Supplied by the host.
// -----------------------------------------------------------------------------

type IReferenceResolver interface {

	// ResolveDatasource resolves one configured datasource into a page of
	// concrete datasources, one per matching entity. Function datasources
	// resolve to a single synthetic row.
	ResolveDatasource(ctx context.Context, ds *models.MDatasource, singleEntity bool, pageSize, page int) (*models.MResolvedPage, error)

	// -----------------------------------------------------------------------------

	// ResolveRpcTarget resolves the command target reference to a concrete
	// entity. Returns nil without error when the alias currently resolves to
	// nothing.
	ResolveRpcTarget(ctx context.Context, target *models.MRpcTarget) (*models.MEntityInfo, error)

	// -----------------------------------------------------------------------------

	// ResolveAlarmSource fills in the concrete entity fields of an alarm
	// source.
	ResolveAlarmSource(ctx context.Context, source *models.MAlarmSource) (*models.MAlarmSource, error)
}
