package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"telemetry-observer/src/interfaces"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
)

// -----------------------------------------------------------------------------
// Test doubles
// -----------------------------------------------------------------------------

// manualScheduler holds scheduled callbacks until the test flushes a tick.
type manualScheduler struct {
	mu      sync.Mutex
	pending map[int]func()
	next    int
}

func (s *manualScheduler) Schedule(fn func()) interfaces.CancelFn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = make(map[int]func())
	}
	id := s.next
	s.next++
	s.pending[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}
}

// flush runs everything queued so far, in schedule order.
func (s *manualScheduler) flush() {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[int]func())
	s.mu.Unlock()

	ids := make([]int, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		batch[id]()
	}
}

// captureTransport records registrations so the test can drive deliveries by
// hand.
type captureTransport struct {
	mu             sync.Mutex
	dataListeners  []*interfaces.DatasourceListener
	alarmListeners []*interfaces.AlarmListener
	unsubscribes   int
}

func (t *captureTransport) SubscribeToDatasource(_ context.Context, l *interfaces.DatasourceListener) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dataListeners = append(t.dataListeners, l)
	return nil
}

func (t *captureTransport) UnsubscribeFromDatasource(l *interfaces.DatasourceListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, known := range t.dataListeners {
		if known == l {
			t.dataListeners = append(t.dataListeners[:i], t.dataListeners[i+1:]...)
			break
		}
	}
	t.unsubscribes++
}

func (t *captureTransport) SubscribeToAlarms(_ context.Context, l *interfaces.AlarmListener) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alarmListeners = append(t.alarmListeners, l)
	return nil
}

func (t *captureTransport) UnsubscribeFromAlarms(l *interfaces.AlarmListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, known := range t.alarmListeners {
		if known == l {
			t.alarmListeners = append(t.alarmListeners[:i], t.alarmListeners[i+1:]...)
			break
		}
	}
	t.unsubscribes++
}

func (t *captureTransport) SendOneWayRpc(context.Context, string, *models.MRpcRequest) (interface{}, error) {
	return nil, nil
}

func (t *captureTransport) SendTwoWayRpc(context.Context, string, *models.MRpcRequest) (interface{}, error) {
	return nil, nil
}

func (t *captureTransport) GetPersistedRpcStatus(_ context.Context, rpcID string) (*models.MPersistedRpc, error) {
	return &models.MPersistedRpc{ID: rpcID, Status: models.RpcStatusSuccessful}, nil
}

func (t *captureTransport) listeners() []*interfaces.DatasourceListener {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*interfaces.DatasourceListener(nil), t.dataListeners...)
}

// stubResolver fans an alias out to a configurable number of device rows.
type stubResolver struct {
	mu            sync.Mutex
	entityCount   int
	alarmNoEntity bool
}

func (r *stubResolver) ResolveDatasource(_ context.Context, ds *models.MDatasource, singleEntity bool, pageSize, page int) (*models.MResolvedPage, error) {
	r.mu.Lock()
	count := r.entityCount
	r.mu.Unlock()

	if ds.Type == models.DatasourceTypeFunction || ds.AliasID == "" {
		count = 1
	}
	if singleEntity && count > 1 {
		count = 1
	}

	total := count
	if pageSize <= 0 {
		pageSize = total
	}
	start := page * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	rows := make([]*models.MDatasource, 0, end-start)
	for i := start; i < end; i++ {
		row := *ds
		row.DataKeys = append([]models.MDataKey(nil), ds.DataKeys...)
		row.LatestDataKeys = append([]models.MDataKey(nil), ds.LatestDataKeys...)
		row.EntityType = "DEVICE"
		row.EntityID = fmt.Sprintf("dev-%03d", i)
		row.EntityName = fmt.Sprintf("Device %d", i)
		rows = append(rows, &row)
	}
	return &models.MResolvedPage{
		Datasources:   rows,
		TotalElements: total,
		HasNext:       end < total,
		Page:          page,
	}, nil
}

func (r *stubResolver) ResolveRpcTarget(_ context.Context, target *models.MRpcTarget) (*models.MEntityInfo, error) {
	if target.EntityID != "" {
		return &models.MEntityInfo{EntityType: "DEVICE", EntityID: target.EntityID}, nil
	}
	if target.AliasID == "alias-empty" {
		return nil, nil
	}
	return &models.MEntityInfo{EntityType: "DEVICE", EntityID: "dev-000"}, nil
}

func (r *stubResolver) ResolveAlarmSource(_ context.Context, source *models.MAlarmSource) (*models.MAlarmSource, error) {
	out := *source
	if r.alarmNoEntity {
		return &out, nil
	}
	if out.EntityID == "" {
		out.EntityID = "dev-000"
	}
	out.EntityType = "DEVICE"
	out.EntityName = "Device 0"
	return &out, nil
}

func (r *stubResolver) setEntityCount(n int) {
	r.mu.Lock()
	r.entityCount = n
	r.mu.Unlock()
}

// cbRecorder counts owner callbacks by name.
type cbRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *cbRecorder) inc(name string) {
	r.mu.Lock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[name]++
	r.mu.Unlock()
}

func (r *cbRecorder) get(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

func (r *cbRecorder) callbacks() Callbacks {
	return Callbacks{
		OnDataUpdated:       func(Subscription, bool) { r.inc("data") },
		OnLatestDataUpdated: func(Subscription, bool) { r.inc("latest") },
		OnDataUpdateError:   func(Subscription, error) { r.inc("error") },
		DataLoading:         func(Subscription, bool) { r.inc("loading") },
		LegendDataUpdated:   func(Subscription, bool) { r.inc("legend") },
		TimeWindowUpdated:   func(Subscription, *models.MTimewindowConfig) { r.inc("timewindow") },
		ForceReInit:         func(Subscription) { r.inc("reinit") },
	}
}

// -----------------------------------------------------------------------------

type testEnv struct {
	sctx      *Context
	transport *captureTransport
	scheduler *manualScheduler
	resolver  *stubResolver
	recorder  *cbRecorder
}

func newTestEnv() *testEnv {
	env := &testEnv{
		transport: &captureTransport{},
		scheduler: &manualScheduler{},
		resolver:  &stubResolver{entityCount: 2},
		recorder:  &cbRecorder{},
	}
	env.sctx = &Context{
		Logger:    logger.NewLogger("ERROR", "test"),
		Resolver:  env.resolver,
		Transport: env.transport,
		Scheduler: env.scheduler,
	}
	return env
}

func (env *testEnv) dataOptions() *Options {
	return &Options{
		Type: models.SubscriptionTimeseries,
		Datasources: []*models.MDatasource{{
			Type:    models.DatasourceTypeEntity,
			AliasID: "alias-1",
			DataKeys: []models.MDataKey{
				{Name: "temperature", Label: "temperature", Type: models.DataKeyTypeTimeseries},
			},
			LatestDataKeys: []models.MDataKey{
				{Name: "status", Label: "status", Type: models.DataKeyTypeAttribute},
			},
		}},
		Timewindow: &models.MTimewindowConfig{
			Type:             models.TimewindowRealtime,
			RealtimeWindowMs: 60_000,
		},
		Callbacks: env.recorder.callbacks(),
	}
}

func deliver(l *interfaces.DatasourceListener, keyIndex int, isLatest bool, series models.MDataSeries) {
	l.DataUpdated(&models.MDatasourceData{Data: series}, l.DatasourceIndex, l.RowIndex, keyIndex, isLatest)
}

// -----------------------------------------------------------------------------

// TestDataSubscriptionLifecycle walks the state machine through subscribe and
// unsubscribe.
func TestDataSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, env.dataOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if sub.State() != StateResolved {
		t.Fatalf("expected resolved, got %s", sub.State())
	}
	// Loading toggled on and back off during resolution.
	if env.recorder.get("loading") != 2 {
		t.Errorf("expected 2 loading callbacks, got %d", env.recorder.get("loading"))
	}

	sub.Subscribe()
	if sub.State() != StateSubscribed {
		t.Errorf("expected subscribed, got %s", sub.State())
	}
	if got := len(env.transport.listeners()); got != 2 {
		t.Errorf("expected one listener per resolved row, got %d", got)
	}

	// Subscribing twice must not double-register.
	sub.Subscribe()
	if got := len(env.transport.listeners()); got != 2 {
		t.Errorf("redundant subscribe registered listeners: %d", got)
	}

	sub.Unsubscribe()
	if sub.State() != StateResolved {
		t.Errorf("expected resolved after unsubscribe, got %s", sub.State())
	}
	if got := len(env.transport.listeners()); got != 0 {
		t.Errorf("expected all listeners removed, got %d", got)
	}

	sub.Unsubscribe()
	if env.transport.unsubscribes != 2 {
		t.Errorf("redundant unsubscribe must be a no-op, got %d removals", env.transport.unsubscribes)
	}
}

// TestDeliveryCoalescing verifies a burst of deliveries collapses into one
// owner notification per tick.
func TestDeliveryCoalescing(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, env.dataOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sub.Subscribe()
	l := env.transport.listeners()[0]

	for i := 0; i < 5; i++ {
		deliver(l, 0, false, models.MDataSeries{{Ts: int64(i), Value: float64(i)}})
	}
	if env.recorder.get("data") != 0 {
		t.Fatal("notification must wait for the tick")
	}

	env.scheduler.flush()
	if got := env.recorder.get("data"); got != 1 {
		t.Errorf("expected one coalesced notification, got %d", got)
	}

	// The last delivery won.
	snap := sub.Snapshot()
	if len(snap.Data) == 0 || len(snap.Data[0].Data) != 1 || snap.Data[0].Data[0].Value != 4.0 {
		t.Errorf("unexpected stored series: %+v", snap.Data)
	}
}

// TestLatestDeliverySeparateChannel verifies latest-key updates notify
// through their own callback.
func TestLatestDeliverySeparateChannel(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, env.dataOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sub.Subscribe()
	l := env.transport.listeners()[0]

	deliver(l, 0, true, models.MDataSeries{{Ts: 1000, Value: "OK"}})
	env.scheduler.flush()

	if env.recorder.get("latest") != 1 {
		t.Errorf("expected one latest notification, got %d", env.recorder.get("latest"))
	}
	if env.recorder.get("data") != 0 {
		t.Errorf("series callback must stay silent, got %d", env.recorder.get("data"))
	}
	if snap := sub.Snapshot(); len(snap.LatestData) == 0 || len(snap.LatestData[0].Data) != 1 {
		t.Error("latest series not stored")
	}
}

// TestUnsubscribeResetsData verifies unsubscribing empties the arrays and
// notifies both kinds once.
func TestUnsubscribeResetsData(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, env.dataOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sub.Subscribe()
	l := env.transport.listeners()[0]
	deliver(l, 0, false, models.MDataSeries{{Ts: 1, Value: 1.0}})
	env.scheduler.flush()

	dataBefore := env.recorder.get("data")
	latestBefore := env.recorder.get("latest")

	sub.Unsubscribe()
	env.scheduler.flush()

	snap := sub.Snapshot()
	for _, d := range snap.Data {
		if len(d.Data) != 0 {
			t.Error("series must be empty after unsubscribe")
		}
	}
	if env.recorder.get("data") != dataBefore+1 {
		t.Errorf("expected one post-unsubscribe data notification, got %d", env.recorder.get("data")-dataBefore)
	}
	if env.recorder.get("latest") != latestBefore+1 {
		t.Errorf("expected one post-unsubscribe latest notification, got %d", env.recorder.get("latest")-latestBefore)
	}
}

// TestLateDeliveryDiscarded verifies a delivery from a torn-down listener
// never lands.
func TestLateDeliveryDiscarded(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, env.dataOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sub.Subscribe()
	stale := env.transport.listeners()[0]
	sub.Unsubscribe()
	env.scheduler.flush()

	sub.Subscribe()
	deliver(stale, 0, false, models.MDataSeries{{Ts: 9, Value: 9.0}})
	env.scheduler.flush()

	for _, d := range sub.Snapshot().Data {
		if len(d.Data) != 0 {
			t.Error("stale delivery must be discarded")
		}
	}
}

// TestDestroyFinality verifies no callback of any kind fires after Destroy.
func TestDestroyFinality(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, env.dataOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sub.Subscribe()
	stale := env.transport.listeners()[0]

	sub.Destroy()
	if sub.State() != StateDestroyed {
		t.Fatalf("expected destroyed, got %s", sub.State())
	}

	before := map[string]int{}
	for _, name := range []string{"data", "latest", "legend", "timewindow", "error"} {
		before[name] = env.recorder.get(name)
	}

	deliver(stale, 0, false, models.MDataSeries{{Ts: 1, Value: 1.0}})
	env.scheduler.flush()

	for name, count := range before {
		if env.recorder.get(name) != count {
			t.Errorf("callback %q fired after destroy", name)
		}
	}

	// Destroyed is terminal, a new subscribe attempt is inert.
	sub.Subscribe()
	if sub.State() != StateDestroyed {
		t.Error("destroy must be final")
	}
}

// TestRealtimeRefreshStopsAfterUnsubscribe verifies the transport's window
// refresh hook goes dead with its generation.
func TestRealtimeRefreshStopsAfterUnsubscribe(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, env.dataOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sub.Subscribe()
	l := env.transport.listeners()[0]

	if stw := l.UpdateRealtimeSubscription(); stw == nil || !stw.IsRealtime() {
		t.Fatalf("expected a live realtime window, got %+v", stw)
	}

	sub.Unsubscribe()
	if stw := l.UpdateRealtimeSubscription(); stw != nil {
		t.Error("a torn-down listener must get no window")
	}
}

// TestWindowTypeChangeForcesReinit verifies a realtime/history flip with
// comparison enabled asks the owner for a full rebuild.
func TestWindowTypeChangeForcesReinit(t *testing.T) {
	env := newTestEnv()
	opts := env.dataOptions()
	opts.ComparisonEnabled = true
	opts.Datasources[0].DataKeys[0].ComparisonDisplay = true

	sub, err := New(context.Background(), env.sctx, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sub.Subscribe()
	registered := len(env.transport.listeners())

	sub.Update(true)
	if env.recorder.get("reinit") != 1 {
		t.Errorf("expected a rebuild request, got %d", env.recorder.get("reinit"))
	}
	if got := len(env.transport.listeners()); got != registered {
		t.Errorf("rebuild request must not restart listeners itself, got %d", got)
	}

	// A same-type update restarts in place instead.
	sub.Update(false)
	if env.recorder.get("reinit") != 1 {
		t.Error("same-type update must not request a rebuild")
	}
	if got := len(env.transport.listeners()); got != registered {
		t.Errorf("expected listeners restarted, got %d", got)
	}
}

// TestComparisonListenersGetShadowWindow verifies shadow rows subscribe with
// a fixed window ending where the primary starts.
func TestComparisonListenersGetShadowWindow(t *testing.T) {
	env := newTestEnv()
	env.resolver.setEntityCount(1)
	opts := env.dataOptions()
	opts.ComparisonEnabled = true
	opts.ComparisonDuration = models.ComparisonPreviousInterval
	opts.Datasources[0].DataKeys[0].ComparisonDisplay = true

	sub, err := New(context.Background(), env.sctx, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sub.Subscribe()

	listeners := env.transport.listeners()
	if len(listeners) != 2 {
		t.Fatalf("expected primary + shadow listeners, got %d", len(listeners))
	}

	var primary, shadow *interfaces.DatasourceListener
	for _, l := range listeners {
		if l.Datasource.IsAdditional {
			shadow = l
		} else {
			primary = l
		}
	}
	if primary == nil || shadow == nil {
		t.Fatal("expected one primary and one shadow listener")
	}
	if shadow.Timewindow == nil || shadow.Timewindow.FixedWindow == nil {
		t.Fatal("shadow listener must get a fixed window")
	}
	primaryStart := primary.Timewindow.StartTs
	delta := shadow.Timewindow.FixedWindow.EndTimeMs - primaryStart
	if delta < -100 || delta > 100 {
		t.Errorf("shadow window must end at the primary start: %d != %d",
			shadow.Timewindow.FixedWindow.EndTimeMs, primaryStart)
	}
}

// TestOnAliasesChangedReResolves verifies alias updates re-resolve and report
// whether the entity set changed.
func TestOnAliasesChangedReResolves(t *testing.T) {
	env := newTestEnv()
	sub, err := New(context.Background(), env.sctx, env.dataOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sub.Subscribe()

	if sub.OnAliasesChanged([]string{"alias-unrelated"}) {
		t.Error("an unreferenced alias must not trigger a re-resolution")
	}

	// Same entity set: re-resolved, but nothing changed structurally.
	if sub.OnAliasesChanged([]string{"alias-1"}) {
		t.Error("an unchanged entity set must report false")
	}

	env.resolver.setEntityCount(3)
	if !sub.OnAliasesChanged([]string{"alias-1"}) {
		t.Error("a grown entity set must report true")
	}
	if got := len(env.transport.listeners()); got != 3 {
		t.Errorf("expected listeners for the new entity set, got %d", got)
	}
}

// TestLegendFollowsDeliveries verifies the legend is built at resolution and
// updated per delivery.
func TestLegendFollowsDeliveries(t *testing.T) {
	env := newTestEnv()
	env.resolver.setEntityCount(1)
	opts := env.dataOptions()
	opts.Legend = models.MLegendConfig{ShowMin: true, ShowMax: true}

	sub, err := New(context.Background(), env.sctx, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if env.recorder.get("legend") != 1 {
		t.Fatalf("expected the initial legend callback, got %d", env.recorder.get("legend"))
	}

	sub.Subscribe()
	l := env.transport.listeners()[0]
	deliver(l, 0, false, models.MDataSeries{{Ts: 0, Value: 1.0}, {Ts: 1, Value: 5.0}})
	env.scheduler.flush()

	if env.recorder.get("legend") != 2 {
		t.Errorf("expected a legend update per tick, got %d", env.recorder.get("legend"))
	}
	snap := sub.Snapshot()
	if snap.Legend == nil || len(snap.Legend.Data) != 1 {
		t.Fatalf("unexpected legend: %+v", snap.Legend)
	}
	slot := snap.Legend.Data[0]
	if slot.Min == nil || *slot.Min != "1.00" || slot.Max == nil || *slot.Max != "5.00" {
		t.Errorf("unexpected legend statistics: %+v", slot)
	}
}

// TestHiddenKeyKeepsLegendStatistics verifies updates delivered while a key
// is hidden neither blank its legend entry nor get lost: the entry is
// recomputed from the restored series on un-hide.
func TestHiddenKeyKeepsLegendStatistics(t *testing.T) {
	env := newTestEnv()
	env.resolver.setEntityCount(1)
	opts := env.dataOptions()
	opts.Legend = models.MLegendConfig{ShowMin: true, ShowMax: true}

	sub, err := New(context.Background(), env.sctx, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sub.Subscribe()
	l := env.transport.listeners()[0]
	deliver(l, 0, false, models.MDataSeries{{Ts: 0, Value: 1.0}, {Ts: 1, Value: 5.0}})
	env.scheduler.flush()

	ds := sub.(*dataSubscription)
	ds.SetKeyVisibility(0, true)

	// A replacement series arriving while hidden is parked.
	deliver(l, 0, false, models.MDataSeries{{Ts: 2, Value: 9.0}})
	env.scheduler.flush()

	slot := sub.Snapshot().Legend.Data[0]
	if !slot.Hidden {
		t.Error("legend entry must be flagged hidden")
	}
	if slot.Min == nil || *slot.Min != "1.00" || slot.Max == nil || *slot.Max != "5.00" {
		t.Errorf("hidden-time update must not blank the statistics: %+v", slot)
	}

	ds.SetKeyVisibility(0, false)
	env.scheduler.flush()

	slot = sub.Snapshot().Legend.Data[0]
	if slot.Hidden {
		t.Error("legend entry must be visible again")
	}
	if slot.Min == nil || *slot.Min != "9.00" || slot.Max == nil || *slot.Max != "9.00" {
		t.Errorf("un-hide must recompute from the parked series: %+v", slot)
	}
}

// TestNewValidation covers the constructor guard rails.
func TestNewValidation(t *testing.T) {
	env := newTestEnv()

	if _, err := New(context.Background(), nil, env.dataOptions()); err == nil {
		t.Error("nil context must fail")
	}
	if _, err := New(context.Background(), &Context{}, env.dataOptions()); err == nil {
		t.Error("incomplete context must fail")
	}
	if _, err := New(context.Background(), env.sctx, &Options{Type: models.SubscriptionTimeseries}); err == nil {
		t.Error("a data subscription without datasources must fail")
	}
	if _, err := New(context.Background(), env.sctx, &Options{Type: "bogus"}); err == nil {
		t.Error("an unknown type must fail")
	}
	if _, err := New(context.Background(), env.sctx, &Options{Type: models.SubscriptionAlarm}); err == nil {
		t.Error("an alarm subscription without a source must fail")
	}
}
