package subscription

import (
	"telemetry-observer/src/helpers"
	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
)

// -----------------------------------------------------------------------------
// Context carries the host services every subscription needs. All fields are
// required except Clock, which defaults to a zero server time diff.
// -----------------------------------------------------------------------------

type Context struct {
	Logger    *logger.Logger
	Resolver  interfaces.IReferenceResolver
	Transport interfaces.IDataTransport
	Scheduler interfaces.IScheduler
	Clock     interfaces.IClockSkewProvider
}

func (c *Context) validate() error {
	if c == nil {
		return helpers.NewValidationError("subscription context is required")
	}
	if c.Logger == nil {
		return helpers.NewValidationError("subscription context needs a logger")
	}
	if c.Resolver == nil {
		return helpers.NewValidationError("subscription context needs a reference resolver")
	}
	if c.Transport == nil {
		return helpers.NewValidationError("subscription context needs a data transport")
	}
	if c.Scheduler == nil {
		return helpers.NewValidationError("subscription context needs a scheduler")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Options describes one subscription. Which fields matter depends on Type.
// -----------------------------------------------------------------------------

type Options struct {
	Type        models.SubscriptionType
	Datasources []*models.MDatasource

	// Timeseries mode.
	Timewindow         *models.MTimewindowConfig
	ComparisonEnabled  bool
	ComparisonDuration models.ComparisonDuration
	ComparisonCustomMs int64
	Legend             models.MLegendConfig
	SingleEntity       bool
	PageSize           int

	// Alarm mode.
	AlarmSource *models.MAlarmSource

	// RPC mode.
	RpcTarget   *models.MRpcTarget
	PreviewMode bool

	Callbacks Callbacks
}

func (o *Options) validate() error {
	if o == nil {
		return helpers.NewValidationError("subscription options are required")
	}
	switch o.Type {
	case models.SubscriptionTimeseries, models.SubscriptionLatest:
		if len(o.Datasources) == 0 {
			return helpers.NewValidationError("data subscription needs at least one datasource")
		}
	case models.SubscriptionAlarm:
		if o.AlarmSource == nil {
			return helpers.NewValidationError("alarm subscription needs an alarm source")
		}
	case models.SubscriptionRpc:
		// A missing target is allowed, the subscription starts disabled.
	default:
		return helpers.NewValidationError("unknown subscription type: " + string(o.Type))
	}
	return nil
}
