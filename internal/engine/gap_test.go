package engine

import (
	"testing"
	"time"

	"price-gap-monitor/internal/storage"
)

func TestEvaluateGapComputesRelativeGap(t *testing.T) {
	at := baseTime
	own := observation("SKU-123", "falabella", storage.RoleOwn, "https://own.example/p/1", "120000", at)
	competitors := []storage.PriceObservation{
		observation("SKU-123", "falabella", storage.RoleCompetitor, "https://rival-a.example/p/1", "100000", at),
		observation("SKU-123", "falabella", storage.RoleCompetitor, "https://rival-b.example/p/1", "110000", at),
	}

	result, ok := EvaluateGap(&own, competitors)
	if !ok {
		t.Fatal("gap must be computable")
	}
	if !result.GapPct.Equal(dec("0.2")) {
		t.Fatalf("gap = %s, want 0.2", result.GapPct)
	}
	if !result.MinCompetitorPrice.Equal(dec("100000")) {
		t.Fatalf("min competitor = %s, want 100000", result.MinCompetitorPrice)
	}
	if result.MinCompetitor.EndpointRef != "https://rival-a.example/p/1" {
		t.Fatalf("wrong competitor chosen: %s", result.MinCompetitor.EndpointRef)
	}
}

func TestEvaluateGapFractional(t *testing.T) {
	own := observation("SKU-123", "falabella", storage.RoleOwn, "o", "100", baseTime)
	competitors := []storage.PriceObservation{
		observation("SKU-123", "falabella", storage.RoleCompetitor, "c", "95", baseTime),
	}

	result, ok := EvaluateGap(&own, competitors)
	if !ok {
		t.Fatal("gap must be computable")
	}
	// 5/95 ≈ 0.05263
	if !result.GapPct.GreaterThan(dec("0.0526")) || !result.GapPct.LessThan(dec("0.0527")) {
		t.Fatalf("gap = %s, want ≈0.05263", result.GapPct)
	}
}

func TestEvaluateGapNegativeWhenCheapest(t *testing.T) {
	own := observation("SKU-123", "falabella", storage.RoleOwn, "o", "90", baseTime)
	competitors := []storage.PriceObservation{
		observation("SKU-123", "falabella", storage.RoleCompetitor, "c", "100", baseTime),
	}

	result, ok := EvaluateGap(&own, competitors)
	if !ok {
		t.Fatal("gap must be computable")
	}
	if !result.GapPct.Equal(dec("-0.1")) {
		t.Fatalf("gap = %s, want -0.1", result.GapPct)
	}
}

func TestEvaluateGapMissingSides(t *testing.T) {
	own := observation("SKU-123", "falabella", storage.RoleOwn, "o", "100", baseTime)

	if _, ok := EvaluateGap(nil, []storage.PriceObservation{own}); ok {
		t.Fatal("missing own observation must not be evaluable")
	}
	if _, ok := EvaluateGap(&own, nil); ok {
		t.Fatal("missing competitor round must not be evaluable")
	}
}

func TestEvaluateGapZeroMinCompetitor(t *testing.T) {
	own := observation("SKU-123", "falabella", storage.RoleOwn, "o", "100", baseTime)
	competitors := []storage.PriceObservation{
		observation("SKU-123", "falabella", storage.RoleCompetitor, "glitch", "0", baseTime),
		observation("SKU-123", "falabella", storage.RoleCompetitor, "c", "50", baseTime),
	}

	if _, ok := EvaluateGap(&own, competitors); ok {
		t.Fatal("zero minimum competitor price must not be evaluable")
	}
}

func TestEvaluateGapUsesLatestRoundOnly(t *testing.T) {
	earlier := baseTime.Add(-2 * time.Hour)
	own := observation("SKU-123", "falabella", storage.RoleOwn, "o", "120", baseTime)
	competitors := []storage.PriceObservation{
		// Cheapest capture is stale; it must not drive the gap.
		observation("SKU-123", "falabella", storage.RoleCompetitor, "stale", "50", earlier),
		observation("SKU-123", "falabella", storage.RoleCompetitor, "fresh-a", "100", baseTime),
		observation("SKU-123", "falabella", storage.RoleCompetitor, "fresh-b", "105", baseTime),
	}

	result, ok := EvaluateGap(&own, competitors)
	if !ok {
		t.Fatal("gap must be computable")
	}
	if !result.MinCompetitorPrice.Equal(dec("100")) {
		t.Fatalf("min must come from the latest round, got %s", result.MinCompetitorPrice)
	}
	if result.MinCompetitor.EndpointRef != "fresh-a" {
		t.Fatalf("wrong competitor chosen: %s", result.MinCompetitor.EndpointRef)
	}
}

func TestEvaluateGapTieKeepsFirst(t *testing.T) {
	own := observation("SKU-123", "falabella", storage.RoleOwn, "o", "120", baseTime)
	competitors := []storage.PriceObservation{
		observation("SKU-123", "falabella", storage.RoleCompetitor, "first", "100", baseTime),
		observation("SKU-123", "falabella", storage.RoleCompetitor, "second", "100", baseTime),
	}

	result, ok := EvaluateGap(&own, competitors)
	if !ok {
		t.Fatal("gap must be computable")
	}
	if result.MinCompetitor.EndpointRef != "first" {
		t.Fatalf("price ties must resolve to the first observation, got %s", result.MinCompetitor.EndpointRef)
	}
}
