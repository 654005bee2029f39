package watchlist

import (
	"context"
	"errors"
	"testing"

	"price-gap-monitor/internal/storage"
)

type stubReader struct {
	rows [][]string
	err  error
}

func (s *stubReader) Values(context.Context, string, string) ([][]string, error) {
	return s.rows, s.err
}

type stubEntityStore struct {
	upserted []storage.WatchEntity
	failFor  string
}

func (s *stubEntityStore) UpsertWatchEntity(_ context.Context, entity storage.WatchEntity) (storage.WatchEntity, error) {
	if s.failFor != "" && entity.ProductGroupKey == s.failFor {
		return storage.WatchEntity{}, errors.New("boom")
	}
	s.upserted = append(s.upserted, entity)
	return entity, nil
}

func (s *stubEntityStore) ListActiveWatchEntities(context.Context) ([]storage.WatchEntity, error) {
	return s.upserted, nil
}

var _ storage.WatchEntityStore = (*stubEntityStore)(nil)

func TestSheetSourceLoad(t *testing.T) {
	reader := &stubReader{rows: [][]string{
		{"product_group_key", "channel", "role", "endpoint_ref", "competitor_label", "poll_frequency_minutes", "gap_threshold", "active"},
		{"SKU-1", "Paris", "Competitor", "https://rival.example/p/1", "Rival", "45", "0.12", "sí"},
		{"SKU-1", "paris", "own", "https://own.example/p/1"},
	}}

	entities, err := NewSheetSource(reader, "sheet-id", "WATCHLIST", noopLogger()).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}

	comp := entities[0]
	if comp.Channel != "paris" || comp.Role != storage.RoleCompetitor {
		t.Fatalf("row normalization went wrong: %+v", comp)
	}
	if comp.PollFrequencyMinutes != 45 || !comp.Active {
		t.Fatalf("competitor row parsed wrong: %+v", comp)
	}
	if comp.GapThreshold == nil || !comp.GapThreshold.Equal(dec("0.12")) {
		t.Fatalf("threshold parsed wrong: %v", comp.GapThreshold)
	}

	// Short rows only carry the identity columns; everything else defaults,
	// and a row without an active cell counts as active.
	own := entities[1]
	if own.Role != storage.RoleOwn || own.CompetitorLabel != nil {
		t.Fatalf("own row parsed wrong: %+v", own)
	}
	if own.PollFrequencyMinutes != defaultFrequencyMinutes || !own.Active {
		t.Fatalf("short row defaults wrong: %+v", own)
	}
}

func TestSheetSourceUnknownHeaderYieldsNothing(t *testing.T) {
	reader := &stubReader{rows: [][]string{
		{"sku", "canal"},
		{"SKU-1", "paris"},
	}}
	entities, err := NewSheetSource(reader, "sheet-id", "WATCHLIST", noopLogger()).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) != 0 {
		t.Fatalf("rows without identity columns must be skipped, got %+v", entities)
	}
}

func TestSheetSourceReadError(t *testing.T) {
	reader := &stubReader{err: errors.New("quota exceeded")}
	if _, err := NewSheetSource(reader, "sheet-id", "WATCHLIST", noopLogger()).Load(context.Background()); err == nil {
		t.Fatal("reader errors must propagate")
	}
}

func TestSyncUpsertsEveryEntity(t *testing.T) {
	reader := &stubReader{rows: [][]string{
		{"product_group_key", "channel", "role", "endpoint_ref", "active"},
		{"SKU-1", "paris", "own", "https://own.example/p/1", "true"},
		{"SKU-1", "paris", "competitor", "https://rival.example/p/1", "true"},
	}}
	store := &stubEntityStore{}

	report, err := Sync(context.Background(), NewSheetSource(reader, "sheet-id", "WATCHLIST", noopLogger()), store, noopLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Loaded != 2 || report.Upserted != 2 {
		t.Fatalf("report wrong: %+v", report)
	}
	if len(store.upserted) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(store.upserted))
	}
}

func TestSyncKeepsGoingAfterUpsertFailure(t *testing.T) {
	reader := &stubReader{rows: [][]string{
		{"product_group_key", "channel", "role", "endpoint_ref", "active"},
		{"SKU-BAD", "paris", "own", "https://own.example/p/1", "true"},
		{"SKU-2", "paris", "own", "https://own.example/p/2", "true"},
	}}
	store := &stubEntityStore{failFor: "SKU-BAD"}

	report, err := Sync(context.Background(), NewSheetSource(reader, "sheet-id", "WATCHLIST", noopLogger()), store, noopLogger())
	if err == nil {
		t.Fatal("failed upsert must surface in the returned error")
	}
	if report.Loaded != 2 || report.Upserted != 1 {
		t.Fatalf("one row must survive the other's failure: %+v", report)
	}
	if len(store.upserted) != 1 || store.upserted[0].ProductGroupKey != "SKU-2" {
		t.Fatalf("surviving upsert wrong: %+v", store.upserted)
	}
}

func TestSyncLoadErrorStopsTheImport(t *testing.T) {
	store := &stubEntityStore{}
	source := NewSheetSource(&stubReader{err: errors.New("down")}, "sheet-id", "WATCHLIST", noopLogger())
	if _, err := Sync(context.Background(), source, store, noopLogger()); err == nil {
		t.Fatal("load errors must be fatal for the import")
	}
	if len(store.upserted) != 0 {
		t.Fatal("nothing must be upserted when the load fails")
	}
}
