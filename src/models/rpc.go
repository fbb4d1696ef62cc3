package models

// -----------------------------------------------------------------------------
// RPC model
// -----------------------------------------------------------------------------

// Persisted RPC statuses reported by the status endpoint.
const (
	RpcStatusQueued     = "QUEUED"
	RpcStatusSent       = "SENT"
	RpcStatusDelivered  = "DELIVERED"
	RpcStatusSuccessful = "SUCCESSFUL"
	RpcStatusTimeout    = "TIMEOUT"
	RpcStatusExpired    = "EXPIRED"
	RpcStatusFailed     = "FAILED"
)

// -----------------------------------------------------------------------------

// MRpcTarget references the device a command subscription talks to: either an
// abstract alias or a concrete entity id.
type MRpcTarget struct {
	AliasID  string `json:"aliasId,omitempty" yaml:"alias_id,omitempty"`
	EntityID string `json:"entityId,omitempty" yaml:"entity_id,omitempty"`
}

// -----------------------------------------------------------------------------

// MRpcRequest is one remote command.
type MRpcRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`

	// TimeoutMs is advisory to the transport; 0 means transport default.
	TimeoutMs int64 `json:"timeout,omitempty"`

	// Persistent requests are queued server-side and polled for completion.
	Persistent                  bool  `json:"persistent,omitempty"`
	PersistentPollingIntervalMs int64 `json:"persistentPollingInterval,omitempty"`

	RetryCount     int         `json:"retries,omitempty"`
	AdditionalInfo interface{} `json:"additionalInfo,omitempty"`

	// RequestID is caller-supplied; generated when empty.
	RequestID string `json:"requestUUID,omitempty"`
}

// -----------------------------------------------------------------------------

// MPersistedRpc is the polled state of a persistent request.
type MPersistedRpc struct {
	ID       string      `json:"id"`
	Status   string      `json:"status"`
	Response interface{} `json:"response,omitempty"`
	Error    string      `json:"error,omitempty"`
}
