package rpc

import (
	"context"
	"time"

	"telemetry-observer/src/helpers"
	"telemetry-observer/src/models"
)

// -----------------------------------------------------------------------------
// Persistent polling
// -----------------------------------------------------------------------------

// pollPersisted drives one persistent request to a terminal state. Polling is
// canceled the moment the owning command completes, never left running past
// that point.
//
// The first poll is delayed by min(timeout+1s, interval) when the caller
// specified a timeout, so that a request expected to expire quickly is not
// left undiscovered for a full polling interval. Non-terminal statuses
// (DELIVERED, QUEUED) are filtered out and polling continues.
func (e *Executor) pollPersisted(ctx context.Context, cmd *Command, rpcID string, req *models.MRpcRequest) {
	interval := time.Duration(req.PersistentPollingIntervalMs) * time.Millisecond
	if interval < minPollingInterval {
		interval = minPollingInterval
	}

	initial := interval
	if req.TimeoutMs > 0 {
		withTimeout := time.Duration(req.TimeoutMs)*time.Millisecond + time.Second
		if withTimeout < initial {
			initial = withTimeout
		}
	}

	timer := time.NewTimer(initial)
	defer timer.Stop()

	for {
		select {
		case <-cmd.done:
			// Cancel-on-complete: the future settled elsewhere.
			return
		case <-ctx.Done():
			e.finish(cmd, nil, &helpers.RpcError{
				Status:     helpers.RpcStatusRequestTimeout,
				StatusText: "Request Timeout",
			})
			return
		case <-timer.C:
		}

		status, err := e.transport.GetPersistedRpcStatus(ctx, rpcID)
		if err != nil {
			e.finish(cmd, nil, err)
			return
		}

		switch status.Status {
		case models.RpcStatusDelivered, models.RpcStatusQueued:
			timer.Reset(interval)
		case models.RpcStatusTimeout, models.RpcStatusExpired:
			e.finish(cmd, nil, &helpers.RpcError{
				Status:     helpers.RpcStatusGatewayTimeout,
				StatusText: "Gateway Timeout",
			})
			return
		case models.RpcStatusFailed:
			e.finish(cmd, nil, &helpers.RpcError{
				Status:     helpers.RpcStatusBadGateway,
				StatusText: "Bad Gateway",
				Detail:     status.Error,
			})
			return
		default:
			e.finish(cmd, status.Response, nil)
			return
		}
	}
}
