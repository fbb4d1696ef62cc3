package subscription

import (
	"context"
	"encoding/json"

	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/models"
	"telemetry-observer/src/timewindow"
)

const defaultAlarmPageSize = 100

// -----------------------------------------------------------------------------
// alarmSubscription serves the alarm mode: a windowed alarm table over one
// resolved source.
// -----------------------------------------------------------------------------

type alarmSubscription struct {
	base

	twResolver *timewindow.Resolver

	source        *models.MAlarmSource
	stDiff        int64
	timewindowCfg *models.MTimewindowConfig
	stw           *models.MSubscriptionTimewindow
	window        *models.MTimewindow

	listener   *interfaces.AlarmListener
	alarms     *models.MAlarmPage
	subscribed bool
	loading    bool
}

// -----------------------------------------------------------------------------

func newAlarmSubscription(ctx context.Context, sctx *Context, opts *Options) (*alarmSubscription, error) {
	s := &alarmSubscription{
		base:       newBase(sctx, opts),
		twResolver: timewindow.NewResolver(sctx.Clock, sctx.Logger),
	}
	if opts.Timewindow != nil {
		s.timewindowCfg = opts.Timewindow.Copy()
	}

	s.loading = true
	s.callbacks.DataLoading(s, true)

	s.stDiff = s.twResolver.ServerTimeDiff(ctx)

	source, err := sctx.Resolver.ResolveAlarmSource(ctx, opts.AlarmSource)
	if err != nil {
		s.state = StateResolveFailed
		s.loading = false
		s.callbacks.DataLoading(s, false)
		s.cancel()
		return nil, err
	}
	s.source = source

	s.state = StateResolved
	s.loading = false
	s.callbacks.DataLoading(s, false)
	return s, nil
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func (s *alarmSubscription) Subscribe() {
	s.mu.Lock()
	if s.state != StateResolved || s.subscribed {
		s.mu.Unlock()
		return
	}
	s.subscribed = true
	s.state = StateSubscribed

	if s.timewindowCfg != nil {
		s.stw = s.twResolver.Resolve(s.timewindowCfg, s.stDiff)
		s.window, _ = s.twResolver.UpdateWindowRange(nil, s.stw)
	}

	gen := s.generation
	pageSize := s.opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultAlarmPageSize
	}
	listener := &interfaces.AlarmListener{
		Source:     s.source,
		Timewindow: s.stw,
		PageSize:   pageSize,
		AlarmsUpdated: func(page *models.MAlarmPage) {
			s.alarmsUpdated(gen, page)
		},
	}
	s.listener = listener
	s.mu.Unlock()

	if err := s.sctx.Transport.SubscribeToAlarms(s.ctx, listener); err != nil {
		s.callbacks.OnDataUpdateError(s, err)
	}
}

func (s *alarmSubscription) Unsubscribe() {
	s.mu.Lock()
	if !s.subscribed {
		s.mu.Unlock()
		return
	}
	listener := s.listener
	s.listener = nil
	s.subscribed = false
	if s.state == StateSubscribed {
		s.state = StateResolved
	}
	s.generation++
	s.mu.Unlock()

	if listener != nil {
		s.sctx.Transport.UnsubscribeFromAlarms(listener)
	}

	s.mu.Lock()
	s.alarms = nil
	s.scheduleCaf("alarms", func() {
		s.callbacks.OnDataUpdated(s, true)
	})
	s.mu.Unlock()
}

func (s *alarmSubscription) Update(bool) {
	s.Unsubscribe()
	s.Subscribe()
}

func (s *alarmSubscription) Destroy() {
	s.Unsubscribe()
	s.mu.Lock()
	s.markDestroyed()
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Data flow
// -----------------------------------------------------------------------------

func (s *alarmSubscription) alarmsUpdated(gen uint64, page *models.MAlarmPage) {
	s.mu.Lock()
	if s.state == StateDestroyed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.alarms = page
	if s.stw != nil && s.stw.IsRealtime() {
		if next, changed := s.twResolver.UpdateWindowRange(s.window, s.stw); changed {
			s.window = next
		}
	}
	s.scheduleCaf("alarms", func() {
		s.callbacks.OnDataUpdated(s, true)
	})
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Reconfiguration
// -----------------------------------------------------------------------------

func (s *alarmSubscription) OnAliasesChanged(aliasIDs []string) bool {
	if s.opts.AlarmSource == nil || s.opts.AlarmSource.AliasID == "" {
		return false
	}
	referenced := false
	for _, id := range aliasIDs {
		if id == s.opts.AlarmSource.AliasID {
			referenced = true
			break
		}
	}
	if !referenced || s.State() == StateDestroyed {
		return false
	}

	wasSubscribed := s.State() == StateSubscribed
	s.Unsubscribe()

	s.mu.Lock()
	old := s.source
	source, err := s.sctx.Resolver.ResolveAlarmSource(s.ctx, s.opts.AlarmSource)
	if err == nil {
		s.source = source
	}
	s.mu.Unlock()

	if err != nil {
		s.callbacks.OnDataUpdateError(s, err)
		return true
	}
	if wasSubscribed {
		s.Subscribe()
	}
	return old == nil || source == nil || old.EntityID != source.EntityID
}

func (s *alarmSubscription) OnFiltersChanged([]string) bool {
	return false
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// FirstEntityInfo prefers the resolved source entity; failing that it falls
// back to the originator of the first alarm row, decorating it from the
// row's additionalInfo when that parses as JSON.
func (s *alarmSubscription) FirstEntityInfo() *models.MEntityInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source != nil && s.source.EntityType != "" && s.source.EntityID != "" {
		return &models.MEntityInfo{
			EntityType: s.source.EntityType,
			EntityID:   s.source.EntityID,
			Name:       s.source.EntityName,
		}
	}
	if s.alarms == nil || len(s.alarms.Data) == 0 {
		return nil
	}

	row := s.alarms.Data[0]
	info := &models.MEntityInfo{
		EntityType: row.OriginatorType,
		EntityID:   row.OriginatorID,
		Name:       row.OriginatorName,
	}
	if row.AdditionalInfo != "" {
		var extra struct {
			OriginatorName  string `json:"originatorName"`
			OriginatorLabel string `json:"originatorLabel"`
		}
		// Free-form producer payload, a parse failure just means no label.
		if err := json.Unmarshal([]byte(row.AdditionalInfo), &extra); err == nil {
			if info.Name == "" && extra.OriginatorName != "" {
				info.Name = extra.OriginatorName
			}
			if extra.OriginatorLabel != "" {
				info.Label = extra.OriginatorLabel
			}
		}
	}
	return info
}

func (s *alarmSubscription) Alarms() *models.MAlarmPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarms
}

func (s *alarmSubscription) Timewindow() *models.MTimewindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

func (s *alarmSubscription) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.id,
		Type:       s.opts.Type,
		State:      s.state,
		Loading:    s.loading,
		Timewindow: s.window,
		Alarms:     s.alarms,
	}
}
