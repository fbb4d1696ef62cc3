package interfaces

import (
	"context"

	"telemetry-observer/src/models"
)

// -----------------------------------------------------------------------------
// IDataTransport delivers telemetry pushes and executes remote commands.
// Supplied by the host; the engine never talks to the wire directly.
// -----------------------------------------------------------------------------

// DatasourceListener is the registration handed to the transport for one
// resolved datasource. DataUpdated is invoked for every per-key series the
// transport produces.
type DatasourceListener struct {
	SubscriptionType models.SubscriptionType
	Datasource       *models.MDatasource
	DatasourceIndex  int
	RowIndex         int
	Timewindow       *models.MSubscriptionTimewindow

	// DataUpdated receives a full replacement series for one key.
	DataUpdated func(data *models.MDatasourceData, datasourceIndex, rowIndex, keyIndex int, isLatest bool)

	// UpdateRealtimeSubscription asks the owner to re-derive the realtime
	// window; the transport uses the returned window for subsequent fetches.
	UpdateRealtimeSubscription func() *models.MSubscriptionTimewindow
}

// AlarmListener is the registration for an alarm-table subscription.
type AlarmListener struct {
	Source     *models.MAlarmSource
	Timewindow *models.MSubscriptionTimewindow
	PageSize   int

	AlarmsUpdated func(page *models.MAlarmPage)
}

// -----------------------------------------------------------------------------

type IDataTransport interface {

	// SubscribeToDatasource begins delivery for one listener. The initial
	// load (history fetch or latest snapshot) happens here.
	SubscribeToDatasource(ctx context.Context, l *DatasourceListener) error

	// UnsubscribeFromDatasource stops delivery; no callback fires afterwards.
	UnsubscribeFromDatasource(l *DatasourceListener)

	// -----------------------------------------------------------------------------

	SubscribeToAlarms(ctx context.Context, l *AlarmListener) error
	UnsubscribeFromAlarms(l *AlarmListener)

	// -----------------------------------------------------------------------------

	// SendOneWayRpc dispatches a fire-and-forget command.
	SendOneWayRpc(ctx context.Context, entityID string, req *models.MRpcRequest) (interface{}, error)

	// SendTwoWayRpc dispatches a command and returns the device response. For
	// persistent requests the response carries the persisted request id.
	SendTwoWayRpc(ctx context.Context, entityID string, req *models.MRpcRequest) (interface{}, error)

	// GetPersistedRpcStatus fetches the current state of a persistent
	// request.
	GetPersistedRpcStatus(ctx context.Context, rpcID string) (*models.MPersistedRpc, error)
}
