package subscription

import (
	"context"
	"sync"

	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/models"
	"telemetry-observer/src/utils"
)

// -----------------------------------------------------------------------------
// States a subscription moves through. Destroyed is terminal.
// -----------------------------------------------------------------------------

type State string

const (
	StateCreated       State = "created"
	StateResolveFailed State = "resolveFailed"
	StateResolved      State = "resolved"
	StateSubscribed    State = "subscribed"
	StateDestroyed     State = "destroyed"
)

// -----------------------------------------------------------------------------

type Subscription interface {
	ID() string
	Type() models.SubscriptionType
	State() State

	Subscribe()
	Unsubscribe()
	// Update re-derives the time window and restarts the listeners.
	Update(windowTypeChanged bool)
	Destroy()

	FirstEntityInfo() *models.MEntityInfo
	// OnAliasesChanged re-resolves the affected references and reports
	// whether the resolved entity set actually changed.
	OnAliasesChanged(aliasIDs []string) bool
	OnFiltersChanged(filterIDs []string) bool

	Snapshot() Snapshot
}

// Snapshot is a point-in-time copy of the subscription state, safe to hand
// out across goroutines. Series slices are replaced wholesale on update and
// never mutated in place, so sharing them here is fine.
type Snapshot struct {
	ID         string                   `json:"id"`
	Type       models.SubscriptionType  `json:"type"`
	State      State                    `json:"state"`
	Loading    bool                     `json:"loading"`
	Timewindow *models.MTimewindow      `json:"timewindow,omitempty"`
	Data       []models.MDatasourceData `json:"data,omitempty"`
	LatestData []models.MDatasourceData `json:"latestData,omitempty"`
	Legend     *models.MLegendData      `json:"legend,omitempty"`
	Alarms     *models.MAlarmPage       `json:"alarms,omitempty"`
	Rpc        *RpcSnapshot             `json:"rpc,omitempty"`
}

type RpcSnapshot struct {
	Enabled   bool   `json:"enabled"`
	Executing bool   `json:"executing"`
	ErrorText string `json:"errorText,omitempty"`
}

// -----------------------------------------------------------------------------
// New builds and resolves a subscription of the requested type. Resolution
// happens synchronously, an unrecoverable resolver failure is returned to
// the caller and the subscription is discarded.
// -----------------------------------------------------------------------------

func New(ctx context.Context, sctx *Context, opts *Options) (Subscription, error) {
	if err := sctx.validate(); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	switch opts.Type {
	case models.SubscriptionTimeseries, models.SubscriptionLatest:
		return newDataSubscription(ctx, sctx, opts)
	case models.SubscriptionAlarm:
		return newAlarmSubscription(ctx, sctx, opts)
	default:
		return newRpcSubscription(ctx, sctx, opts)
	}
}

// -----------------------------------------------------------------------------
// base carries the bookkeeping shared by all subscription kinds: identity,
// lifecycle state, the named coalescing handles and the generation token
// that lets stale async completions be discarded.
// -----------------------------------------------------------------------------

type base struct {
	id        string
	sctx      *Context
	opts      *Options
	callbacks Callbacks

	mu         sync.Mutex
	state      State
	generation uint64
	cafs       map[string]interfaces.CancelFn

	ctx    context.Context
	cancel context.CancelFunc
}

func newBase(sctx *Context, opts *Options) base {
	ctx, cancel := context.WithCancel(context.Background())
	return base{
		id:        utils.Guid(),
		sctx:      sctx,
		opts:      opts,
		callbacks: opts.Callbacks.normalized(),
		state:     StateCreated,
		cafs:      make(map[string]interfaces.CancelFn),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (b *base) ID() string                    { return b.id }
func (b *base) Type() models.SubscriptionType { return b.opts.Type }

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) destroyed() bool { return b.state == StateDestroyed }

// scheduleCaf coalesces repeated notifications under one name: scheduling
// cancels the not-yet-fired handle of the same name, so only the last
// request in a burst runs. Callers hold b.mu.
func (b *base) scheduleCaf(name string, fn func()) {
	if b.state == StateDestroyed {
		return
	}
	if cancel, ok := b.cafs[name]; ok {
		cancel()
	}
	gen := b.generation
	b.cafs[name] = b.sctx.Scheduler.Schedule(func() {
		b.mu.Lock()
		if b.state == StateDestroyed || b.generation != gen {
			b.mu.Unlock()
			return
		}
		delete(b.cafs, name)
		b.mu.Unlock()
		fn()
	})
}

// cancelCafs drops every pending handle. Callers hold b.mu.
func (b *base) cancelCafs() {
	for name, cancel := range b.cafs {
		cancel()
		delete(b.cafs, name)
	}
}

// markDestroyed flips the terminal state and severs every async path back
// to the owner. Callers hold b.mu.
func (b *base) markDestroyed() {
	b.state = StateDestroyed
	b.generation++
	b.cancelCafs()
	b.cancel()
}
