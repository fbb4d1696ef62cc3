package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telemetry-observer/src/helpers"
	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
	"telemetry-observer/src/utils"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	// realtimePushInterval paces the periodic refresh of realtime listeners.
	realtimePushInterval = 1 * time.Second

	// pointBufferCapacity bounds the in-memory history per entity key.
	pointBufferCapacity = 4096

	defaultRpcTimeout = 10 * time.Second
)

// -----------------------------------------------------------------------------
// LocalTransport serves subscriptions entirely in process: telemetry comes
// from PushTelemetry calls, function generators and the optional backing
// store; commands are dispatched to registered handlers.
// -----------------------------------------------------------------------------

type RpcHandler func(ctx context.Context, entityID string, req *models.MRpcRequest) (interface{}, error)

type LocalTransport struct {
	mu     sync.Mutex
	logger *logger.Logger
	store  interfaces.ITimeseriesStore

	dataSubs  map[*interfaces.DatasourceListener]*dataSub
	alarmSubs map[*interfaces.AlarmListener]struct{}

	buffers map[string]*utils.PointBuffer
	latest  map[string]models.MDataPoint
	alarms  map[string][]models.MAlarm

	rpcHandlers map[string]RpcHandler
	persisted   map[string]*models.MPersistedRpc
}

type dataSub struct {
	listener *interfaces.DatasourceListener
	stop     chan struct{}
}

var _ interfaces.IDataTransport = (*LocalTransport)(nil)

// -----------------------------------------------------------------------------

func NewLocalTransport(log *logger.Logger, store interfaces.ITimeseriesStore) *LocalTransport {
	return &LocalTransport{
		logger:      log.Named("local"),
		store:       store,
		dataSubs:    make(map[*interfaces.DatasourceListener]*dataSub),
		alarmSubs:   make(map[*interfaces.AlarmListener]struct{}),
		buffers:     make(map[string]*utils.PointBuffer),
		latest:      make(map[string]models.MDataPoint),
		alarms:      make(map[string][]models.MAlarm),
		rpcHandlers: make(map[string]RpcHandler),
		persisted:   make(map[string]*models.MPersistedRpc),
	}
}

// -----------------------------------------------------------------------------
// Datasource subscriptions
// -----------------------------------------------------------------------------

func (t *LocalTransport) SubscribeToDatasource(ctx context.Context, l *interfaces.DatasourceListener) error {
	if l == nil || l.Datasource == nil {
		return helpers.NewTransportError("nil datasource listener", nil)
	}

	sub := &dataSub{listener: l, stop: make(chan struct{})}
	t.mu.Lock()
	t.dataSubs[l] = sub
	t.mu.Unlock()

	// Initial load happens synchronously so the subscriber sees its history
	// before the first realtime push.
	t.deliverAll(l, l.Timewindow)

	if l.Timewindow != nil && l.Timewindow.IsRealtime() {
		go t.realtimeLoop(sub)
	}
	return nil
}

func (t *LocalTransport) UnsubscribeFromDatasource(l *interfaces.DatasourceListener) {
	t.mu.Lock()
	sub, ok := t.dataSubs[l]
	if ok {
		delete(t.dataSubs, l)
	}
	t.mu.Unlock()
	if ok {
		close(sub.stop)
	}
}

func (t *LocalTransport) realtimeLoop(sub *dataSub) {
	ticker := time.NewTicker(realtimePushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			stw := sub.listener.Timewindow
			if sub.listener.UpdateRealtimeSubscription != nil {
				if next := sub.listener.UpdateRealtimeSubscription(); next != nil {
					stw = next
				}
			}
			t.deliverAll(sub.listener, stw)
		}
	}
}

// deliverAll pushes the current series of every key of one listener.
func (t *LocalTransport) deliverAll(l *interfaces.DatasourceListener, stw *models.MSubscriptionTimewindow) {
	ds := l.Datasource
	minTs, maxTs := windowRange(stw)

	for ki := range ds.DataKeys {
		key := &ds.DataKeys[ki]
		series := t.keySeries(ds, key, minTs, maxTs)
		l.DataUpdated(&models.MDatasourceData{
			Datasource: ds,
			DataKey:    key,
			Data:       series,
		}, l.DatasourceIndex, l.RowIndex, ki, false)
	}
	for ki := range ds.LatestDataKeys {
		key := &ds.LatestDataKeys[ki]
		series := t.latestSeries(ds, key)
		l.DataUpdated(&models.MDatasourceData{
			Datasource: ds,
			DataKey:    key,
			Data:       series,
		}, l.DatasourceIndex, l.RowIndex, ki, true)
	}
}

// keySeries assembles the windowed series for one key: generator output for
// function datasources, otherwise buffer contents backed by the store.
func (t *LocalTransport) keySeries(ds *models.MDatasource, key *models.MDataKey, minTs, maxTs int64) models.MDataSeries {
	if ds.Type == models.DatasourceTypeFunction {
		if maxTs <= 0 {
			maxTs = time.Now().UnixMilli()
		}
		return generate(key.FuncName, minTs, maxTs)
	}

	t.mu.Lock()
	buf, ok := t.buffers[bufferKey(ds.EntityID, key.Name)]
	t.mu.Unlock()
	if ok {
		return trimMax(buf.Window(minTs), maxTs)
	}
	if t.store == nil {
		return nil
	}
	series, err := t.store.LoadSeries(ds.EntityType, ds.EntityID, key.Name, minTs, maxTs, 0)
	if err != nil {
		t.logger.Warning("history load failed for %s/%s: %v", ds.EntityID, key.Name, err)
		return nil
	}
	return series
}

func (t *LocalTransport) latestSeries(ds *models.MDatasource, key *models.MDataKey) models.MDataSeries {
	if ds.Type == models.DatasourceTypeFunction {
		now := time.Now().UnixMilli()
		return generate(key.FuncName, now-1, now)
	}

	t.mu.Lock()
	point, ok := t.latest[bufferKey(ds.EntityID, key.Name)]
	t.mu.Unlock()
	if ok {
		return models.MDataSeries{point}
	}
	if t.store != nil {
		point, ok, err := t.store.LoadLatest(ds.EntityType, ds.EntityID, key.Name)
		if err == nil && ok {
			return models.MDataSeries{point}
		}
	}
	// No value anywhere: the key is unserved.
	return models.MDataSeries{{Ts: time.Now().UnixMilli(), Value: models.UnsupportedValue}}
}

// -----------------------------------------------------------------------------
// Telemetry input
// -----------------------------------------------------------------------------

// PushTelemetry ingests one sample and fans it out to matching listeners.
func (t *LocalTransport) PushTelemetry(entityType, entityID, key string, point models.MDataPoint) {
	bk := bufferKey(entityID, key)

	t.mu.Lock()
	buf, ok := t.buffers[bk]
	if !ok {
		buf = utils.NewPointBuffer(pointBufferCapacity)
		t.buffers[bk] = buf
	}
	buf.Append(point)
	t.latest[bk] = point

	listeners := make([]*interfaces.DatasourceListener, 0, len(t.dataSubs))
	for l := range t.dataSubs {
		if l.Datasource.EntityID == entityID {
			listeners = append(listeners, l)
		}
	}
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.SaveSeries(entityType, entityID, key, models.MDataSeries{point}); err != nil {
			t.logger.Warning("telemetry persist failed for %s/%s: %v", entityID, key, err)
		}
		if err := t.store.SaveLatest(entityType, entityID, key, point); err != nil {
			t.logger.Warning("latest persist failed for %s/%s: %v", entityID, key, err)
		}
	}

	for _, l := range listeners {
		t.deliverKey(l, key)
	}
}

// deliverKey refreshes the listener's series for the one key that changed.
func (t *LocalTransport) deliverKey(l *interfaces.DatasourceListener, key string) {
	ds := l.Datasource
	minTs, maxTs := windowRange(l.Timewindow)

	for ki := range ds.DataKeys {
		if ds.DataKeys[ki].Name != key {
			continue
		}
		series := t.keySeries(ds, &ds.DataKeys[ki], minTs, maxTs)
		l.DataUpdated(&models.MDatasourceData{
			Datasource: ds,
			DataKey:    &ds.DataKeys[ki],
			Data:       series,
		}, l.DatasourceIndex, l.RowIndex, ki, false)
	}
	for ki := range ds.LatestDataKeys {
		if ds.LatestDataKeys[ki].Name != key {
			continue
		}
		series := t.latestSeries(ds, &ds.LatestDataKeys[ki])
		l.DataUpdated(&models.MDatasourceData{
			Datasource: ds,
			DataKey:    &ds.LatestDataKeys[ki],
			Data:       series,
		}, l.DatasourceIndex, l.RowIndex, ki, true)
	}
}

// -----------------------------------------------------------------------------
// Alarm subscriptions
// -----------------------------------------------------------------------------

func (t *LocalTransport) SubscribeToAlarms(ctx context.Context, l *interfaces.AlarmListener) error {
	if l == nil || l.Source == nil {
		return helpers.NewTransportError("nil alarm listener", nil)
	}
	t.mu.Lock()
	t.alarmSubs[l] = struct{}{}
	page := t.alarmPage(l)
	t.mu.Unlock()

	l.AlarmsUpdated(page)
	return nil
}

func (t *LocalTransport) UnsubscribeFromAlarms(l *interfaces.AlarmListener) {
	t.mu.Lock()
	delete(t.alarmSubs, l)
	t.mu.Unlock()
}

// PushAlarm ingests one alarm row and refreshes matching alarm listeners.
func (t *LocalTransport) PushAlarm(alarm models.MAlarm) {
	t.mu.Lock()
	t.alarms[alarm.OriginatorID] = append(t.alarms[alarm.OriginatorID], alarm)

	type delivery struct {
		listener *interfaces.AlarmListener
		page     *models.MAlarmPage
	}
	deliveries := make([]delivery, 0, len(t.alarmSubs))
	for l := range t.alarmSubs {
		if l.Source.EntityID == alarm.OriginatorID {
			deliveries = append(deliveries, delivery{l, t.alarmPage(l)})
		}
	}
	t.mu.Unlock()

	for _, d := range deliveries {
		d.listener.AlarmsUpdated(d.page)
	}
}

// alarmPage builds the filtered page for one listener. Callers hold t.mu.
func (t *LocalTransport) alarmPage(l *interfaces.AlarmListener) *models.MAlarmPage {
	minTs, maxTs := windowRange(l.Timewindow)

	rows := make([]models.MAlarm, 0)
	for _, a := range t.alarms[l.Source.EntityID] {
		if a.StartTs < minTs || (maxTs > 0 && a.StartTs >= maxTs) {
			continue
		}
		if l.Source.SearchStatus != "" && a.Status != l.Source.SearchStatus {
			continue
		}
		rows = append(rows, a)
	}

	total := len(rows)
	hasNext := false
	if l.PageSize > 0 && total > l.PageSize {
		rows = rows[total-l.PageSize:]
		hasNext = true
	}
	return &models.MAlarmPage{Data: rows, TotalElements: total, HasNext: hasNext}
}

// -----------------------------------------------------------------------------
// RPC
// -----------------------------------------------------------------------------

// RegisterRpcHandler binds a handler to a command method name.
func (t *LocalTransport) RegisterRpcHandler(method string, handler RpcHandler) {
	t.mu.Lock()
	t.rpcHandlers[method] = handler
	t.mu.Unlock()
}

func (t *LocalTransport) SendOneWayRpc(ctx context.Context, entityID string, req *models.MRpcRequest) (interface{}, error) {
	_, err := t.dispatchRpc(ctx, entityID, req)
	return nil, err
}

func (t *LocalTransport) SendTwoWayRpc(ctx context.Context, entityID string, req *models.MRpcRequest) (interface{}, error) {
	return t.dispatchRpc(ctx, entityID, req)
}

func (t *LocalTransport) dispatchRpc(ctx context.Context, entityID string, req *models.MRpcRequest) (interface{}, error) {
	if req.Persistent {
		id := req.RequestID
		if id == "" {
			id = utils.Guid()
		}
		t.mu.Lock()
		t.persisted[id] = &models.MPersistedRpc{ID: id, Status: models.RpcStatusQueued}
		t.mu.Unlock()
		return &models.MPersistedRpc{ID: id, Status: models.RpcStatusQueued}, nil
	}

	t.mu.Lock()
	handler, ok := t.rpcHandlers[req.Method]
	t.mu.Unlock()
	if !ok {
		return nil, &helpers.RpcError{
			Status:     helpers.RpcStatusBadGateway,
			StatusText: "Bad Gateway",
			Detail:     fmt.Sprintf("no handler for method '%s'", req.Method),
		}
	}

	timeout := defaultRpcTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return handler(ctx, entityID, req)
}

func (t *LocalTransport) GetPersistedRpcStatus(ctx context.Context, rpcID string) (*models.MPersistedRpc, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.persisted[rpcID]
	if !ok {
		return nil, helpers.NewTransportError("unknown persistent rpc: "+rpcID, nil)
	}
	out := *p
	return &out, nil
}

// SetPersistedRpcStatus advances a queued persistent request, the local
// stand-in for the remote device completing it.
func (t *LocalTransport) SetPersistedRpcStatus(rpcID, status string, response interface{}, errText string) {
	t.mu.Lock()
	if p, ok := t.persisted[rpcID]; ok {
		p.Status = status
		p.Response = response
		p.Error = errText
	}
	t.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func bufferKey(entityID, key string) string {
	return entityID + "/" + key
}

// windowRange maps a subscription window onto concrete bounds. maxTs == 0
// means unbounded.
func windowRange(stw *models.MSubscriptionTimewindow) (int64, int64) {
	if stw == nil {
		return 0, 0
	}
	if stw.FixedWindow != nil {
		return stw.FixedWindow.StartTimeMs, stw.FixedWindow.EndTimeMs
	}
	now := time.Now().UnixMilli() + stw.TsOffset + stw.StDiff
	return now - stw.RealtimeWindowMs, 0
}

func trimMax(series models.MDataSeries, maxTs int64) models.MDataSeries {
	if maxTs <= 0 {
		return series
	}
	out := series
	for len(out) > 0 && out[len(out)-1].Ts >= maxTs {
		out = out[:len(out)-1]
	}
	return out
}
