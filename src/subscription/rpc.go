package subscription

import (
	"context"

	"telemetry-observer/src/models"
	"telemetry-observer/src/rpc"
)

// -----------------------------------------------------------------------------
// rpcSubscription serves the command mode: it owns an executor bound to the
// resolved target device. There is no data stream to subscribe to, the
// listener lifecycle methods are no-ops.
// -----------------------------------------------------------------------------

type rpcSubscription struct {
	base
	executor *rpc.Executor
}

// -----------------------------------------------------------------------------

func newRpcSubscription(ctx context.Context, sctx *Context, opts *Options) (*rpcSubscription, error) {
	s := &rpcSubscription{base: newBase(sctx, opts)}

	s.executor = rpc.NewExecutor(sctx.Transport, sctx.Logger, rpc.Callbacks{
		StateChanged: func() { s.callbacks.RpcStateChanged(s) },
		Success:      func() { s.callbacks.OnRpcSuccess(s) },
		Failed:       func() { s.callbacks.OnRpcFailed(s) },
		ErrorCleared: func() { s.callbacks.OnRpcErrorCleared(s) },
	})
	s.executor.SetPreviewMode(opts.PreviewMode)

	if opts.RpcTarget != nil {
		entity, err := sctx.Resolver.ResolveRpcTarget(ctx, opts.RpcTarget)
		if err != nil {
			s.state = StateResolveFailed
			s.cancel()
			return nil, err
		}
		if entity != nil {
			s.executor.SetTarget(entity.EntityID)
		}
	}

	s.state = StateResolved
	return s, nil
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func (s *rpcSubscription) Subscribe()   {}
func (s *rpcSubscription) Unsubscribe() {}
func (s *rpcSubscription) Update(bool)  {}

func (s *rpcSubscription) Destroy() {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.markDestroyed()
	s.mu.Unlock()
	s.executor.CompleteAll()
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

func (s *rpcSubscription) SendOneWayCommand(req *models.MRpcRequest) *rpc.Command {
	return s.executor.SendOneWay(s.ctx, req)
}

func (s *rpcSubscription) SendTwoWayCommand(req *models.MRpcRequest) *rpc.Command {
	return s.executor.SendTwoWay(s.ctx, req)
}

func (s *rpcSubscription) ClearRpcError() {
	s.executor.ClearError()
}

// -----------------------------------------------------------------------------
// Reconfiguration
// -----------------------------------------------------------------------------

func (s *rpcSubscription) OnAliasesChanged(aliasIDs []string) bool {
	if s.opts.RpcTarget == nil || s.opts.RpcTarget.AliasID == "" {
		return false
	}
	referenced := false
	for _, id := range aliasIDs {
		if id == s.opts.RpcTarget.AliasID {
			referenced = true
			break
		}
	}
	if !referenced || s.State() == StateDestroyed {
		return false
	}

	old := s.executor.TargetID()
	entity, err := s.sctx.Resolver.ResolveRpcTarget(s.ctx, s.opts.RpcTarget)
	if err != nil {
		s.callbacks.OnDataUpdateError(s, err)
		return true
	}
	target := ""
	if entity != nil {
		target = entity.EntityID
	}
	s.executor.SetTarget(target)
	return target != old
}

func (s *rpcSubscription) OnFiltersChanged([]string) bool {
	return false
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

func (s *rpcSubscription) FirstEntityInfo() *models.MEntityInfo {
	target := s.executor.TargetID()
	if target == "" {
		return nil
	}
	return &models.MEntityInfo{EntityType: "DEVICE", EntityID: target}
}

func (s *rpcSubscription) RpcEnabled() bool     { return s.executor.Enabled() }
func (s *rpcSubscription) RpcExecuting() bool   { return s.executor.Executing() }
func (s *rpcSubscription) RpcErrorText() string { return s.executor.ErrorText() }

func (s *rpcSubscription) Snapshot() Snapshot {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	return Snapshot{
		ID:    s.id,
		Type:  s.opts.Type,
		State: state,
		Rpc: &RpcSnapshot{
			Enabled:   s.executor.Enabled(),
			Executing: s.executor.Executing(),
			ErrorText: s.executor.ErrorText(),
		},
	}
}
