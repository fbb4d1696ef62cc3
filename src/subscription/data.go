package subscription

import (
	"context"

	"telemetry-observer/src/ingest"
	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/legend"
	"telemetry-observer/src/models"
	"telemetry-observer/src/timewindow"
)

const defaultLegendDecimals = 2

// -----------------------------------------------------------------------------
// dataSubscription serves the timeseries and latest modes: it resolves the
// configured datasources, maintains the flat series arrays through the ingest
// pipeline and keeps the displayed time window and legend current.
// -----------------------------------------------------------------------------

type dataSubscription struct {
	base

	twResolver *timewindow.Resolver
	pipeline   *ingest.Pipeline
	aggregator *legend.Aggregator

	stDiff        int64
	timewindowCfg *models.MTimewindowConfig
	// originalCfg parks the configured window across a history zoom so the
	// zoom can be undone without owner involvement.
	originalCfg   *models.MTimewindowConfig
	stw           *models.MSubscriptionTimewindow
	comparisonStw *models.MSubscriptionTimewindow
	window        *models.MTimewindow

	legendData *models.MLegendData

	listeners  []*interfaces.DatasourceListener
	subscribed bool
	loading    bool
}

// -----------------------------------------------------------------------------

func newDataSubscription(ctx context.Context, sctx *Context, opts *Options) (*dataSubscription, error) {
	s := &dataSubscription{
		base:       newBase(sctx, opts),
		twResolver: timewindow.NewResolver(sctx.Clock, sctx.Logger),
	}
	if opts.Timewindow != nil {
		s.timewindowCfg = opts.Timewindow.Copy()
	}

	datasources := make([]models.MDatasource, len(opts.Datasources))
	for i, ds := range opts.Datasources {
		datasources[i] = *ds
	}
	s.pipeline = ingest.NewPipeline(sctx.Resolver, sctx.Logger, ingest.Options{
		Type:              opts.Type,
		Datasources:       datasources,
		ComparisonEnabled: opts.ComparisonEnabled,
		SingleEntity:      opts.SingleEntity,
		PageSize:          opts.PageSize,
		OnMessage: func(msg models.MSubscriptionMessage) {
			s.callbacks.OnSubscriptionMessage(s, msg)
		},
	})

	s.loading = true
	s.callbacks.DataLoading(s, true)

	if opts.Type == models.SubscriptionTimeseries {
		s.stDiff = s.twResolver.ServerTimeDiff(ctx)
	}

	if err := s.pipeline.Prepare(ctx); err != nil {
		s.state = StateResolveFailed
		s.loading = false
		s.callbacks.DataLoading(s, false)
		s.cancel()
		return nil, err
	}

	if opts.Legend.AnyEnabled() {
		s.aggregator = legend.NewAggregator(opts.Legend, defaultLegendDecimals, "")
		s.legendData = s.aggregator.BuildLegend(s.pipeline.Data())
		s.callbacks.LegendDataUpdated(s, true)
	}

	s.state = StateResolved
	s.loading = false
	s.callbacks.DataLoading(s, false)
	return s, nil
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func (s *dataSubscription) Subscribe() {
	s.mu.Lock()
	if s.state != StateResolved || s.subscribed {
		s.mu.Unlock()
		return
	}
	s.subscribed = true
	s.state = StateSubscribed

	if s.opts.Type == models.SubscriptionTimeseries && s.timewindowCfg != nil {
		s.refreshWindowLocked()
	}

	gen := s.generation
	listeners := make([]*interfaces.DatasourceListener, 0)
	for gi := 0; gi < s.pipeline.GroupCount(); gi++ {
		additional := s.pipeline.GroupIsAdditional(gi)
		stw := s.stw
		if additional {
			stw = s.comparisonStw
		}
		for ri, row := range s.pipeline.GroupRows(gi) {
			l := &interfaces.DatasourceListener{
				SubscriptionType: s.opts.Type,
				Datasource:       row,
				DatasourceIndex:  gi,
				RowIndex:         ri,
				Timewindow:       stw,
				DataUpdated: func(data *models.MDatasourceData, dsIdx, rowIdx, keyIdx int, isLatest bool) {
					s.dataUpdated(gen, data, dsIdx, rowIdx, keyIdx, isLatest)
				},
				UpdateRealtimeSubscription: func() *models.MSubscriptionTimewindow {
					return s.refreshRealtime(gen, additional)
				},
			}
			listeners = append(listeners, l)
		}
	}
	s.listeners = listeners
	s.mu.Unlock()

	// The transport may deliver the initial load synchronously, so the
	// registration happens outside the lock.
	for _, l := range listeners {
		if err := s.sctx.Transport.SubscribeToDatasource(s.ctx, l); err != nil {
			s.callbacks.OnDataUpdateError(s, err)
		}
	}
}

func (s *dataSubscription) Unsubscribe() {
	s.mu.Lock()
	if !s.subscribed {
		s.mu.Unlock()
		return
	}
	listeners := s.listeners
	s.listeners = nil
	s.subscribed = false
	if s.state == StateSubscribed {
		s.state = StateResolved
	}
	// Late deliveries from the torn-down listeners carry the old token and
	// get discarded.
	s.generation++
	s.mu.Unlock()

	for _, l := range listeners {
		s.sctx.Transport.UnsubscribeFromDatasource(l)
	}

	s.mu.Lock()
	s.pipeline.ResetData()
	s.rebuildLegendLocked()
	s.notifyLocked(false)
	s.notifyLocked(true)
	s.mu.Unlock()
}

func (s *dataSubscription) Update(windowTypeChanged bool) {
	if windowTypeChanged && s.opts.ComparisonEnabled {
		// Switching between realtime and history invalidates the shadow
		// datasources; only a full rebuild can fix the array layout.
		s.callbacks.ForceReInit(s)
		return
	}
	s.Unsubscribe()
	s.Subscribe()
}

func (s *dataSubscription) Destroy() {
	s.Unsubscribe()
	s.mu.Lock()
	s.markDestroyed()
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Window management
// -----------------------------------------------------------------------------

// refreshWindowLocked re-derives the subscription window and, when enabled,
// its comparison shadow from the current configuration.
func (s *dataSubscription) refreshWindowLocked() {
	s.stw = s.twResolver.Resolve(s.timewindowCfg, s.stDiff)
	if s.opts.ComparisonEnabled {
		s.comparisonStw = s.twResolver.DeriveComparison(s.stw, s.opts.ComparisonDuration, s.opts.ComparisonCustomMs)
	} else {
		s.comparisonStw = nil
	}
	s.window, _ = s.twResolver.UpdateWindowRange(nil, s.stw)
	s.notifyTimewindowLocked()
}

// refreshRealtime is invoked by the transport before a realtime re-fetch.
func (s *dataSubscription) refreshRealtime(gen uint64, additional bool) *models.MSubscriptionTimewindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDestroyed || gen != s.generation || s.timewindowCfg == nil {
		return nil
	}
	s.stw = s.twResolver.Resolve(s.timewindowCfg, s.stDiff)
	if s.opts.ComparisonEnabled {
		s.comparisonStw = s.twResolver.DeriveComparison(s.stw, s.opts.ComparisonDuration, s.opts.ComparisonCustomMs)
	}
	if next, changed := s.twResolver.UpdateWindowRange(s.window, s.stw); changed {
		s.window = next
		s.notifyTimewindowLocked()
	}
	if additional {
		return s.comparisonStw
	}
	return s.stw
}

// UpdateTimewindowConfig replaces the configured window wholesale and
// restarts the listeners.
func (s *dataSubscription) UpdateTimewindowConfig(cfg *models.MTimewindowConfig) {
	s.mu.Lock()
	s.timewindowCfg = cfg.Copy()
	s.originalCfg = nil
	wasSubscribed := s.subscribed
	s.mu.Unlock()

	s.callbacks.TimeWindowUpdated(s, cfg)
	if wasSubscribed {
		s.Unsubscribe()
		s.Subscribe()
	}
}

// UpdateTimewindow zooms into an explicit history range, remembering the
// configured window for ResetTimewindow.
func (s *dataSubscription) UpdateTimewindow(startTimeMs, endTimeMs int64) {
	s.mu.Lock()
	if s.timewindowCfg == nil {
		s.mu.Unlock()
		return
	}
	if s.originalCfg == nil {
		s.originalCfg = s.timewindowCfg.Copy()
	}
	cfg := s.timewindowCfg.Copy()
	cfg.Type = models.TimewindowHistory
	cfg.HistoryWindowMs = 0
	cfg.FixedStartMs = startTimeMs
	cfg.FixedEndMs = endTimeMs
	s.timewindowCfg = cfg
	wasSubscribed := s.subscribed
	s.mu.Unlock()

	s.callbacks.TimeWindowUpdated(s, cfg)
	if wasSubscribed {
		s.Unsubscribe()
		s.Subscribe()
	}
}

// ResetTimewindow undoes a previous UpdateTimewindow zoom.
func (s *dataSubscription) ResetTimewindow() {
	s.mu.Lock()
	if s.originalCfg == nil {
		s.mu.Unlock()
		return
	}
	cfg := s.originalCfg
	s.originalCfg = nil
	s.timewindowCfg = cfg
	wasSubscribed := s.subscribed
	s.mu.Unlock()

	s.callbacks.TimeWindowUpdated(s, cfg)
	if wasSubscribed {
		s.Unsubscribe()
		s.Subscribe()
	}
}

// -----------------------------------------------------------------------------
// Data flow
// -----------------------------------------------------------------------------

func (s *dataSubscription) dataUpdated(gen uint64, data *models.MDatasourceData, dsIdx, rowIdx, keyIdx int, isLatest bool) {
	var series models.MDataSeries
	if data != nil {
		series = data.Data
	}

	s.mu.Lock()
	if s.state == StateDestroyed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	index, applied := s.pipeline.ApplyUpdate(ingest.Update{
		DatasourceIndex: dsIdx,
		RowIndex:        rowIdx,
		KeyIndex:        keyIdx,
		Series:          series,
		IsLatest:        isLatest,
	})
	if !applied {
		s.mu.Unlock()
		return
	}

	if !isLatest && s.stw != nil && s.stw.IsRealtime() {
		if next, changed := s.twResolver.UpdateWindowRange(s.window, s.stw); changed {
			s.window = next
			s.notifyTimewindowLocked()
		}
	}

	// A hidden key's live holder is empty, its series is parked; legend
	// stats for it are recomputed on un-hide instead.
	if !isLatest && s.aggregator != nil && s.legendData != nil && !s.pipeline.Hidden(index) {
		flat := s.pipeline.Data()
		if index >= 0 && index < len(flat) {
			s.aggregator.UpdateKey(s.legendData, index, flat[index].DataKey, flat[index].Data)
			s.scheduleCaf("legend", func() {
				s.callbacks.LegendDataUpdated(s, true)
			})
		}
	}

	s.notifyLocked(isLatest)
	s.mu.Unlock()
}

// notifyLocked coalesces owner notifications per kind: bursts collapse into
// one callback per scheduler tick.
func (s *dataSubscription) notifyLocked(isLatest bool) {
	if isLatest {
		s.scheduleCaf("latestData", func() {
			s.callbacks.OnLatestDataUpdated(s, true)
		})
		return
	}
	s.scheduleCaf("data", func() {
		s.callbacks.OnDataUpdated(s, true)
	})
}

func (s *dataSubscription) notifyTimewindowLocked() {
	cfg := s.timewindowCfg
	s.scheduleCaf("timewindow", func() {
		s.callbacks.TimeWindowUpdated(s, cfg)
	})
}

func (s *dataSubscription) rebuildLegendLocked() {
	if s.aggregator == nil {
		return
	}
	s.legendData = s.aggregator.BuildLegend(s.pipeline.Data())
	s.scheduleCaf("legend", func() {
		s.callbacks.LegendDataUpdated(s, true)
	})
}

// -----------------------------------------------------------------------------
// Reconfiguration
// -----------------------------------------------------------------------------

// SubscribeForPaginatedData moves one datasource to another result page and
// restarts the listeners on the new rows.
func (s *dataSubscription) SubscribeForPaginatedData(datasourceIndex, page int) {
	wasSubscribed := s.State() == StateSubscribed
	s.Unsubscribe()

	s.mu.Lock()
	err := s.pipeline.FetchPage(s.ctx, datasourceIndex, page)
	s.rebuildLegendLocked()
	s.mu.Unlock()

	if err != nil {
		s.callbacks.OnDataUpdateError(s, err)
		return
	}
	if wasSubscribed {
		s.Subscribe()
	}
}

func (s *dataSubscription) OnAliasesChanged(aliasIDs []string) bool {
	if !s.referencesAliases(aliasIDs) {
		return false
	}
	return s.reresolve()
}

func (s *dataSubscription) OnFiltersChanged(filterIDs []string) bool {
	if !s.referencesFilters(filterIDs) {
		return false
	}
	return s.reresolve()
}

func (s *dataSubscription) referencesAliases(aliasIDs []string) bool {
	for _, ds := range s.opts.Datasources {
		for _, id := range aliasIDs {
			if ds.AliasID != "" && ds.AliasID == id {
				return true
			}
		}
	}
	return false
}

func (s *dataSubscription) referencesFilters(filterIDs []string) bool {
	for _, ds := range s.opts.Datasources {
		for _, id := range filterIDs {
			if ds.FilterID != "" && ds.FilterID == id {
				return true
			}
		}
	}
	return false
}

// reresolve refreshes the pipeline against current alias state and reports
// whether the resolved entity set changed.
func (s *dataSubscription) reresolve() bool {
	if s.State() == StateDestroyed {
		return false
	}
	wasSubscribed := s.State() == StateSubscribed

	s.mu.Lock()
	oldSignature := s.pipeline.Signature()
	s.mu.Unlock()

	s.Unsubscribe()

	s.mu.Lock()
	err := s.pipeline.Prepare(s.ctx)
	newSignature := s.pipeline.Signature()
	s.rebuildLegendLocked()
	s.mu.Unlock()

	if err != nil {
		s.callbacks.OnDataUpdateError(s, err)
		return true
	}
	if wasSubscribed {
		s.Subscribe()
	}
	return newSignature != oldSignature
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

func (s *dataSubscription) FirstEntityInfo() *models.MEntityInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline.FirstEntity()
}

func (s *dataSubscription) Data() []*models.MDatasourceData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline.Data()
}

func (s *dataSubscription) LatestData() []*models.MDatasourceData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline.LatestData()
}

func (s *dataSubscription) LegendData() *models.MLegendData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.legendData
}

func (s *dataSubscription) Timewindow() *models.MTimewindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

func (s *dataSubscription) SubscriptionTimewindow() *models.MSubscriptionTimewindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stw
}

func (s *dataSubscription) ComparisonTimewindow() *models.MSubscriptionTimewindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comparisonStw
}

// SetKeyVisibility toggles one key in and out of the rendered set without
// dropping its accumulated series.
func (s *dataSubscription) SetKeyVisibility(dataIndex int, hidden bool) {
	s.mu.Lock()
	if !s.pipeline.SetHidden(dataIndex, hidden) {
		s.mu.Unlock()
		return
	}
	if s.legendData != nil && dataIndex < len(s.legendData.Data) {
		s.legendData.Data[dataIndex].Hidden = hidden
		// Updates delivered while the key was hidden bypassed the legend.
		if !hidden && s.aggregator != nil {
			flat := s.pipeline.Data()
			if dataIndex < len(flat) {
				s.aggregator.UpdateKey(s.legendData, dataIndex, flat[dataIndex].DataKey, flat[dataIndex].Data)
				s.scheduleCaf("legend", func() {
					s.callbacks.LegendDataUpdated(s, true)
				})
			}
		}
	}
	s.notifyLocked(false)
	s.mu.Unlock()
}

func (s *dataSubscription) HasNextPage(datasourceIndex int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline.GroupHasNext(datasourceIndex)
}

func (s *dataSubscription) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		Type:       s.opts.Type,
		State:      s.state,
		Loading:    s.loading,
		Timewindow: s.window,
	}
	for _, d := range s.pipeline.Data() {
		snap.Data = append(snap.Data, *d)
	}
	for _, d := range s.pipeline.LatestData() {
		snap.LatestData = append(snap.LatestData, *d)
	}
	if s.legendData != nil {
		legendCopy := *s.legendData
		snap.Legend = &legendCopy
	}
	return snap
}
