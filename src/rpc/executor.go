package rpc

import (
	"context"
	"errors"
	"time"

	"sync"

	"telemetry-observer/src/helpers"
	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
	"telemetry-observer/src/utils"
)

// previewResponseDelay is the synthetic latency of a preview-mode command.
const previewResponseDelay = 500 * time.Millisecond

// minPollingInterval bounds how aggressively a persistent request is polled.
const minPollingInterval = 1000 * time.Millisecond

// -----------------------------------------------------------------------------

// Callbacks notify the owner about executor state transitions. Nil fields are
// replaced with no-ops.
type Callbacks struct {
	StateChanged func()
	Success      func()
	Failed       func()
	ErrorCleared func()
}

func (c Callbacks) normalized() Callbacks {
	noop := func() {}
	if c.StateChanged == nil {
		c.StateChanged = noop
	}
	if c.Success == nil {
		c.Success = noop
	}
	if c.Failed == nil {
		c.Failed = noop
	}
	if c.ErrorCleared == nil {
		c.ErrorCleared = noop
	}
	return c
}

// -----------------------------------------------------------------------------
// Executor dispatches remote commands against one resolved target and keeps
// at most one tracked error: the one currently relevant to the owner.
// -----------------------------------------------------------------------------

type Executor struct {
	mu        sync.Mutex
	logger    *logger.Logger
	transport interfaces.IDataTransport
	callbacks Callbacks

	targetID       string
	enabled        bool
	disabledReason string
	preview        bool

	inflight  map[*Command]struct{}
	rejection *helpers.RpcError
	errorText string

	// closed is set at teardown. A closed executor settles command futures
	// but never mutates tracked state or notifies the owner again.
	closed bool
}

// -----------------------------------------------------------------------------

func NewExecutor(transport interfaces.IDataTransport, log *logger.Logger, callbacks Callbacks) *Executor {
	return &Executor{
		logger:         log,
		transport:      transport,
		callbacks:      callbacks.normalized(),
		disabledReason: "Target device is not set",
		inflight:       make(map[*Command]struct{}),
	}
}

// -----------------------------------------------------------------------------

// SetTarget points the executor at a resolved entity. An empty id disables
// dispatch unless preview mode is on.
func (e *Executor) SetTarget(entityID string) {
	e.mu.Lock()
	e.targetID = entityID
	e.refreshEnabled()
	e.mu.Unlock()
	e.callbacks.StateChanged()
}

// SetPreviewMode toggles edit-mode previews: commands succeed synthetically
// without touching the transport.
func (e *Executor) SetPreviewMode(preview bool) {
	e.mu.Lock()
	e.preview = preview
	e.refreshEnabled()
	e.mu.Unlock()
	e.callbacks.StateChanged()
}

func (e *Executor) refreshEnabled() {
	e.enabled = e.targetID != "" || e.preview
}

// -----------------------------------------------------------------------------

// Enabled reports whether commands can currently be dispatched.
func (e *Executor) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Executing reports whether any request is in flight.
func (e *Executor) Executing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight) > 0
}

// ErrorText returns the tracked, formatted error, empty when none.
func (e *Executor) ErrorText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorText
}

// TargetID returns the resolved target entity id.
func (e *Executor) TargetID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.targetID
}

// -----------------------------------------------------------------------------

// SendOneWay dispatches a fire-and-forget command.
func (e *Executor) SendOneWay(ctx context.Context, req *models.MRpcRequest) *Command {
	return e.sendCommand(ctx, true, req)
}

// SendTwoWay dispatches a command expecting a response.
func (e *Executor) SendTwoWay(ctx context.Context, req *models.MRpcRequest) *Command {
	return e.sendCommand(ctx, false, req)
}

// -----------------------------------------------------------------------------

func (e *Executor) sendCommand(ctx context.Context, oneWay bool, req *models.MRpcRequest) *Command {
	id := req.RequestID
	if id == "" {
		id = utils.Guid()
	}
	cmd := newCommand(id)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cmd.complete(nil, &helpers.ObserverError{Message: "Command executor is closed"})
		return cmd
	}
	if !e.enabled {
		reason := e.disabledReason
		e.mu.Unlock()
		cmd.complete(nil, &helpers.ObserverError{Message: reason})
		return cmd
	}

	// A new attempt clears a displayed non-timeout error.
	cleared := false
	if e.rejection != nil && !e.rejection.IsTimeout() {
		e.rejection = nil
		e.errorText = ""
		cleared = true
	}

	preview := e.preview
	targetID := e.targetID
	e.inflight[cmd] = struct{}{}
	e.mu.Unlock()

	if cleared {
		e.callbacks.ErrorCleared()
	}
	e.callbacks.StateChanged()

	if preview {
		go e.runPreview(cmd, oneWay, req)
	} else {
		go e.run(ctx, cmd, oneWay, targetID, req)
	}
	return cmd
}

// -----------------------------------------------------------------------------

// runPreview resolves synthetically after a fixed short delay, never touching
// the transport.
func (e *Executor) runPreview(cmd *Command, oneWay bool, req *models.MRpcRequest) {
	select {
	case <-cmd.done:
		return
	case <-time.After(previewResponseDelay):
	}

	if oneWay {
		e.finish(cmd, nil, nil)
	} else {
		e.finish(cmd, req, nil)
	}
}

// -----------------------------------------------------------------------------

func (e *Executor) run(ctx context.Context, cmd *Command, oneWay bool, targetID string, req *models.MRpcRequest) {
	var response interface{}
	var err error
	if oneWay {
		response, err = e.transport.SendOneWayRpc(ctx, targetID, req)
	} else {
		response, err = e.transport.SendTwoWayRpc(ctx, targetID, req)
	}

	if err == nil && req.Persistent && req.PersistentPollingIntervalMs > 0 {
		e.pollPersisted(ctx, cmd, persistedID(response, cmd.id), req)
		return
	}
	e.finish(cmd, response, err)
}

// -----------------------------------------------------------------------------

// finish settles one command: bookkeeping, error tracking, owner callbacks,
// future resolution.
func (e *Executor) finish(cmd *Command, response interface{}, err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		// Teardown already settled this future with an empty result; a late
		// transport response only resolves it, no bookkeeping, no callbacks.
		if err != nil {
			cmd.complete(nil, classify(err))
		} else {
			cmd.complete(response, nil)
		}
		return
	}
	delete(e.inflight, cmd)
	stillExecuting := len(e.inflight) > 0

	if err == nil {
		e.rejection = nil
		e.errorText = ""
		e.mu.Unlock()

		e.callbacks.StateChanged()
		e.callbacks.Success()
		cmd.complete(response, nil)
		return
	}

	rpcErr := classify(err)

	// A timeout always surfaces; a transient error on one of several
	// concurrent requests must not clobber the displayed state while
	// siblings are still pending.
	failed := false
	if !stillExecuting || rpcErr.IsTimeout() {
		e.rejection = rpcErr
		e.errorText = rpcErr.Error()
		failed = true
	}
	e.mu.Unlock()

	e.callbacks.StateChanged()
	if failed {
		e.callbacks.Failed()
	}
	cmd.complete(nil, rpcErr)
}

// -----------------------------------------------------------------------------

// ClearError clears the tracked error outside of any request lifecycle.
func (e *Executor) ClearError() {
	e.mu.Lock()
	changed := !e.closed && (e.rejection != nil || e.errorText != "")
	e.rejection = nil
	e.errorText = ""
	e.mu.Unlock()

	if changed {
		e.callbacks.ErrorCleared()
	}
}

// -----------------------------------------------------------------------------

// CompleteAll closes the executor and force-completes every in-flight
// request without payload, used when the owner is torn down mid-flight. No
// owner callback fires after this returns.
func (e *Executor) CompleteAll() {
	e.mu.Lock()
	e.closed = true
	pending := make([]*Command, 0, len(e.inflight))
	for cmd := range e.inflight {
		pending = append(pending, cmd)
	}
	e.inflight = make(map[*Command]struct{})
	e.mu.Unlock()

	for _, cmd := range pending {
		cmd.complete(nil, nil)
	}
}

// -----------------------------------------------------------------------------

// classify maps transport failures onto the two RPC error classes.
func classify(err error) *helpers.RpcError {
	var rpcErr *helpers.RpcError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &helpers.RpcError{Status: helpers.RpcStatusRequestTimeout, StatusText: "Request Timeout"}
	}
	return &helpers.RpcError{Status: 500, StatusText: "Internal Server Error", Detail: err.Error()}
}

// -----------------------------------------------------------------------------

// persistedID extracts the persisted-request id from the initial response.
func persistedID(response interface{}, fallback string) string {
	switch r := response.(type) {
	case *models.MPersistedRpc:
		if r != nil && r.ID != "" {
			return r.ID
		}
	case models.MPersistedRpc:
		if r.ID != "" {
			return r.ID
		}
	case map[string]interface{}:
		if id, ok := r["rpcId"].(string); ok && id != "" {
			return id
		}
	}
	return fallback
}
