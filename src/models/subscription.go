package models

// -----------------------------------------------------------------------------
// Subscription model
// -----------------------------------------------------------------------------

// SubscriptionType selects the behavioral mode of a subscription. The mode is
// chosen once at construction and never switched at runtime.
type SubscriptionType string

const (
	SubscriptionTimeseries SubscriptionType = "timeseries"
	SubscriptionLatest     SubscriptionType = "latest"
	SubscriptionAlarm      SubscriptionType = "alarm"
	SubscriptionRpc        SubscriptionType = "rpc"
)

// IsDataMode reports whether the mode carries series data.
func (t SubscriptionType) IsDataMode() bool {
	return t == SubscriptionTimeseries || t == SubscriptionLatest
}

// -----------------------------------------------------------------------------

// Subscription message severities.
const (
	SeverityWarn  = "warn"
	SeverityError = "error"
)
