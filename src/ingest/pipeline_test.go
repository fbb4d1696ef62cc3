package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
)

// stubResolver resolves every alias datasource to a fixed number of synthetic
// device rows.
type stubResolver struct {
	entityCount int
}

func (r *stubResolver) ResolveDatasource(_ context.Context, ds *models.MDatasource, singleEntity bool, pageSize, page int) (*models.MResolvedPage, error) {
	count := r.entityCount
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

func (r *stubResolver) ResolveRpcTarget(context.Context, *models.MRpcTarget) (*models.MEntityInfo, error) {
	return nil, nil
}

func (r *stubResolver) ResolveAlarmSource(context.Context, *models.MAlarmSource) (*models.MAlarmSource, error) {
	return nil, nil
}

// -----------------------------------------------------------------------------

func testLogger() *logger.Logger {
	return logger.NewLogger("ERROR", "test")
}

func aliasDatasource(keys ...string) models.MDatasource {
	ds := models.MDatasource{
		Type:    models.DatasourceTypeEntity,
		AliasID: "alias-1",
	}
	for _, k := range keys {
		ds.DataKeys = append(ds.DataKeys, models.MDataKey{Name: k, Label: k, Type: models.DataKeyTypeTimeseries})
	}
	return ds
}

// -----------------------------------------------------------------------------

// TestPrepareFlatLayout verifies the flat array layout: rows * keys entries
// per datasource, addressed by start index + row * keyCount + key.
func TestPrepareFlatLayout(t *testing.T) {
	p := NewPipeline(&stubResolver{entityCount: 2}, testLogger(), Options{
		Type:        models.SubscriptionTimeseries,
		Datasources: []models.MDatasource{aliasDatasource("temperature", "humidity")},
	})
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if got := len(p.Data()); got != 4 {
		t.Fatalf("expected 4 flat entries (2 rows x 2 keys), got %d", got)
	}

	series := models.MDataSeries{{Ts: 1000, Value: 21.5}}
	index, applied := p.ApplyUpdate(Update{DatasourceIndex: 0, RowIndex: 1, KeyIndex: 1, Series: series})
	if !applied {
		t.Fatal("update must apply")
	}
	if index != 3 {
		t.Errorf("expected flat index 3 (0 + 1*2 + 1), got %d", index)
	}
	if len(p.Data()[3].Data) != 1 || p.Data()[3].Data[0].Value != 21.5 {
		t.Errorf("series not stored at flat index: %+v", p.Data()[3].Data)
	}
	if p.Data()[3].DataKey.Name != "humidity" {
		t.Errorf("flat index 3 must map to the second key, got %q", p.Data()[3].DataKey.Name)
	}
}

// TestPrepareOffsetsAcrossDatasources verifies the second datasource starts
// after all entries of the first.
func TestPrepareOffsetsAcrossDatasources(t *testing.T) {
	first := aliasDatasource("a", "b")
	second := models.MDatasource{
		Type:     models.DatasourceTypeEntity,
		EntityID: "dev-fixed",
		DataKeys: []models.MDataKey{{Name: "c", Label: "c", Type: models.DataKeyTypeTimeseries}},
	}
	p := NewPipeline(&stubResolver{entityCount: 3}, testLogger(), Options{
		Type:        models.SubscriptionTimeseries,
		Datasources: []models.MDatasource{first, second},
	})
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	// 3 rows x 2 keys + 1 row x 1 key.
	if got := len(p.Data()); got != 7 {
		t.Fatalf("expected 7 flat entries, got %d", got)
	}
	index, applied := p.ApplyUpdate(Update{DatasourceIndex: 1, RowIndex: 0, KeyIndex: 0, Series: models.MDataSeries{{Ts: 1, Value: 1.0}}})
	if !applied || index != 6 {
		t.Errorf("expected the second datasource at flat index 6, got %d (applied=%v)", index, applied)
	}
}

// TestOutOfRangeUpdateIgnored verifies updates addressed outside the resolved
// structure are dropped without effect.
func TestOutOfRangeUpdateIgnored(t *testing.T) {
	p := NewPipeline(&stubResolver{entityCount: 1}, testLogger(), Options{
		Type:        models.SubscriptionTimeseries,
		Datasources: []models.MDatasource{aliasDatasource("a")},
	})
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	series := models.MDataSeries{{Ts: 1, Value: 1.0}}
	for _, u := range []Update{
		{DatasourceIndex: 5, Series: series},
		{DatasourceIndex: -1, Series: series},
		{RowIndex: 9, Series: series},
		{KeyIndex: 2, Series: series},
	} {
		if index, applied := p.ApplyUpdate(u); applied {
			t.Errorf("out-of-range update %+v applied at %d", u, index)
		}
	}
}

// TestComparisonShadowDatasource verifies the synthesized twin: only keys
// flagged for comparison, relabeled and tagged additional, latest keys
// dropped.
func TestComparisonShadowDatasource(t *testing.T) {
	ds := aliasDatasource("temperature", "humidity")
	ds.DataKeys[0].ComparisonDisplay = true
	ds.LatestDataKeys = []models.MDataKey{{Name: "status", Label: "status", Type: models.DataKeyTypeAttribute}}

	p := NewPipeline(&stubResolver{entityCount: 1}, testLogger(), Options{
		Type:              models.SubscriptionTimeseries,
		Datasources:       []models.MDatasource{ds},
		ComparisonEnabled: true,
	})
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if p.GroupCount() != 2 {
		t.Fatalf("expected 2 groups (origin + shadow), got %d", p.GroupCount())
	}
	if p.GroupIsAdditional(0) || !p.GroupIsAdditional(1) {
		t.Error("only the shadow group is additional")
	}

	// 2 primary keys + 1 shadow key.
	flat := p.Data()
	if len(flat) != 3 {
		t.Fatalf("expected 3 flat entries, got %d", len(flat))
	}
	shadowKey := flat[2].DataKey
	if !shadowKey.IsAdditional {
		t.Error("shadow key must be tagged additional")
	}
	if !strings.HasSuffix(shadowKey.Label, " (comparison)") {
		t.Errorf("shadow key label must carry the comparison suffix, got %q", shadowKey.Label)
	}
	if shadowKey.OrigDataKeyIndex != 0 {
		t.Errorf("shadow key must back-reference its origin, got %d", shadowKey.OrigDataKeyIndex)
	}

	// Latest keys never get a shadow.
	if len(p.LatestData()) != 1 {
		t.Errorf("expected 1 latest entry, got %d", len(p.LatestData()))
	}
}

// TestComparisonShadowSkippedWithoutFlaggedKeys verifies no shadow is
// synthesized when nothing is flagged for comparison.
func TestComparisonShadowSkippedWithoutFlaggedKeys(t *testing.T) {
	p := NewPipeline(&stubResolver{entityCount: 1}, testLogger(), Options{
		Type:              models.SubscriptionTimeseries,
		Datasources:       []models.MDatasource{aliasDatasource("a")},
		ComparisonEnabled: true,
	})
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if p.GroupCount() != 1 {
		t.Errorf("expected no shadow group, got %d groups", p.GroupCount())
	}
}

// TestRelabelFromPattern verifies labels with variables are recomputed per
// resolved row and survive re-resolution.
func TestRelabelFromPattern(t *testing.T) {
	ds := aliasDatasource("temperature")
	ds.DataKeys[0].Label = "${entityName} temp"

	p := NewPipeline(&stubResolver{entityCount: 2}, testLogger(), Options{
		Type:        models.SubscriptionTimeseries,
		Datasources: []models.MDatasource{ds},
	})
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if got := p.Data()[0].DataKey.Label; got != "Device 0 temp" {
		t.Errorf("expected substituted label, got %q", got)
	}
	if got := p.Data()[1].DataKey.Label; got != "Device 1 temp" {
		t.Errorf("expected per-row substitution, got %q", got)
	}

	// A second resolution recomputes from the captured pattern, not from the
	// already substituted label.
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("re-Prepare failed: %v", err)
	}
	if got := p.Data()[0].DataKey.Label; got != "Device 0 temp" {
		t.Errorf("relabel must be repeatable, got %q", got)
	}
}

// TestPageOverflowMessage verifies one warning is queued when the entity page
// is truncated.
func TestPageOverflowMessage(t *testing.T) {
	var messages []models.MSubscriptionMessage
	p := NewPipeline(&stubResolver{entityCount: 7}, testLogger(), Options{
		Type:        models.SubscriptionTimeseries,
		Datasources: []models.MDatasource{aliasDatasource("a")},
		PageSize:    5,
		OnMessage:   func(msg models.MSubscriptionMessage) { messages = append(messages, msg) },
	})
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if len(messages) != 1 {
		t.Fatalf("expected exactly one overflow message, got %d", len(messages))
	}
	if messages[0].Severity != models.SeverityWarn {
		t.Errorf("expected warn severity, got %q", messages[0].Severity)
	}
	if !strings.Contains(messages[0].Message, "7") || !strings.Contains(messages[0].Message, "5") {
		t.Errorf("message must report totals: %q", messages[0].Message)
	}
	if !p.GroupHasNext(0) {
		t.Error("truncated group must report a next page")
	}
}

// TestFetchPage verifies explicit pagination swaps the resolved rows.
func TestFetchPage(t *testing.T) {
	p := NewPipeline(&stubResolver{entityCount: 7}, testLogger(), Options{
		Type:        models.SubscriptionTimeseries,
		Datasources: []models.MDatasource{aliasDatasource("a")},
		PageSize:    5,
	})
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if len(p.GroupRows(0)) != 5 {
		t.Fatalf("expected first page of 5 rows, got %d", len(p.GroupRows(0)))
	}

	if err := p.FetchPage(context.Background(), 0, 1); err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	rows := p.GroupRows(0)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows on the last page, got %d", len(rows))
	}
	if rows[0].EntityID != "dev-005" {
		t.Errorf("expected page 1 to start at dev-005, got %q", rows[0].EntityID)
	}
	if p.GroupHasNext(0) {
		t.Error("last page must not report a next page")
	}
}

// TestSignatureTracksEntitySet verifies the structural signature changes with
// the resolved entity set and not otherwise.
func TestSignatureTracksEntitySet(t *testing.T) {
	resolver := &stubResolver{entityCount: 2}
	p := NewPipeline(resolver, testLogger(), Options{
		Type:        models.SubscriptionTimeseries,
		Datasources: []models.MDatasource{aliasDatasource("a")},
	})
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	first := p.Signature()

	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("re-Prepare failed: %v", err)
	}
	if p.Signature() != first {
		t.Error("identical resolution must keep the signature")
	}

	resolver.entityCount = 3
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("re-Prepare failed: %v", err)
	}
	if p.Signature() == first {
		t.Error("a changed entity set must change the signature")
	}
}

// TestSetHiddenParksSeries verifies hiding a key swaps its series aside and
// restoring brings back everything delivered meanwhile.
func TestSetHiddenParksSeries(t *testing.T) {
	p := NewPipeline(&stubResolver{entityCount: 1}, testLogger(), Options{
		Type:        models.SubscriptionTimeseries,
		Datasources: []models.MDatasource{aliasDatasource("a")},
	})
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	p.ApplyUpdate(Update{Series: models.MDataSeries{{Ts: 1, Value: 1.0}}})
	if !p.SetHidden(0, true) {
		t.Fatal("hiding a visible key must report a change")
	}
	if len(p.Data()[0].Data) != 0 {
		t.Error("hidden key must expose an empty series")
	}
	if p.SetHidden(0, true) {
		t.Error("hiding twice must be a no-op")
	}

	// Updates while hidden land in the parked series.
	p.ApplyUpdate(Update{Series: models.MDataSeries{{Ts: 2, Value: 2.0}, {Ts: 3, Value: 3.0}}})
	if len(p.Data()[0].Data) != 0 {
		t.Error("updates while hidden must not surface")
	}

	if !p.SetHidden(0, false) {
		t.Fatal("re-showing must report a change")
	}
	if got := p.Data()[0].Data; len(got) != 2 || got[1].Value != 3.0 {
		t.Errorf("re-showing must restore the latest series, got %+v", got)
	}
}

// TestFirstEntitySkipsShadows verifies the first-entity lookup ignores
// comparison groups.
func TestFirstEntitySkipsShadows(t *testing.T) {
	ds := aliasDatasource("a")
	ds.DataKeys[0].ComparisonDisplay = true
	p := NewPipeline(&stubResolver{entityCount: 1}, testLogger(), Options{
		Type:              models.SubscriptionTimeseries,
		Datasources:       []models.MDatasource{ds},
		ComparisonEnabled: true,
	})
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	info := p.FirstEntity()
	if info == nil {
		t.Fatal("expected a first entity")
	}
	if info.EntityID != "dev-000" || info.EntityType != "DEVICE" {
		t.Errorf("unexpected first entity %+v", info)
	}
}
