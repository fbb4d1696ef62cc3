package subscription

import "telemetry-observer/src/models"

// -----------------------------------------------------------------------------
// Callbacks the engine produces. Every field is replaced with an explicit
// no-op at construction, so a missing callback can never fault at dispatch
// time.
// -----------------------------------------------------------------------------

type Callbacks struct {
	// Data mode.
	OnDataUpdated         func(s Subscription, detectChanges bool)
	OnLatestDataUpdated   func(s Subscription, detectChanges bool)
	OnDataUpdateError     func(s Subscription, err error)
	OnSubscriptionMessage func(s Subscription, msg models.MSubscriptionMessage)
	DataLoading           func(s Subscription, loading bool)
	LegendDataUpdated     func(s Subscription, detectChanges bool)
	TimeWindowUpdated     func(s Subscription, cfg *models.MTimewindowConfig)

	// ForceReInit asks the owner to rebuild the subscription from scratch
	// when an incremental refresh is impossible.
	ForceReInit func(s Subscription)

	// RPC mode.
	RpcStateChanged   func(s Subscription)
	OnRpcSuccess      func(s Subscription)
	OnRpcFailed       func(s Subscription)
	OnRpcErrorCleared func(s Subscription)
}

// -----------------------------------------------------------------------------

func (c Callbacks) normalized() Callbacks {
	if c.OnDataUpdated == nil {
		c.OnDataUpdated = func(Subscription, bool) {}
	}
	if c.OnLatestDataUpdated == nil {
		c.OnLatestDataUpdated = func(Subscription, bool) {}
	}
	if c.OnDataUpdateError == nil {
		c.OnDataUpdateError = func(Subscription, error) {}
	}
	if c.OnSubscriptionMessage == nil {
		c.OnSubscriptionMessage = func(Subscription, models.MSubscriptionMessage) {}
	}
	if c.DataLoading == nil {
		c.DataLoading = func(Subscription, bool) {}
	}
	if c.LegendDataUpdated == nil {
		c.LegendDataUpdated = func(Subscription, bool) {}
	}
	if c.TimeWindowUpdated == nil {
		c.TimeWindowUpdated = func(Subscription, *models.MTimewindowConfig) {}
	}
	if c.ForceReInit == nil {
		c.ForceReInit = func(Subscription) {}
	}
	if c.RpcStateChanged == nil {
		c.RpcStateChanged = func(Subscription) {}
	}
	if c.OnRpcSuccess == nil {
		c.OnRpcSuccess = func(Subscription) {}
	}
	if c.OnRpcFailed == nil {
		c.OnRpcFailed = func(Subscription) {}
	}
	if c.OnRpcErrorCleared == nil {
		c.OnRpcErrorCleared = func(Subscription) {}
	}
	return c
}
