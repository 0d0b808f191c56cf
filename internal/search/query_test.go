package search

import (
	"testing"
	"time"

	"github.com/abelbrown/briefs/internal/model"
)

func testDates() model.DateRange {
	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	return model.DateRange{Start: end.AddDate(0, 0, -1), End: end}
}

func TestBuildQueryRejectsBadEntityID(t *testing.T) {
	_, err := buildQuery(QueryParams{EntityID: "not-an-entity", Dates: testDates()})
	if err == nil {
		t.Fatal("expected error for entity ID of wrong length")
	}
}

func TestBuildQueryBasics(t *testing.T) {
	payload, err := buildQuery(QueryParams{
		EntityID:       "ABC123",
		SimilarityText: "What happened with Acme?",
		Dates:          testDates(),
		ChunkLimit:     5,
		SourceBoost:    1,
		FreshnessBoost: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	q := payload.Query
	if q.AutoEnrichFilters {
		t.Error("auto enrich must stay off for tuned queries")
	}
	if q.Filters.Entity == nil || q.Filters.Entity.AnyOf[0] != "ABC123" {
		t.Errorf("entity filter missing: %+v", q.Filters.Entity)
	}
	if q.Text != "What happened with Acme?" {
		t.Errorf("similarity text missing: %q", q.Text)
	}
	if q.MaxChunks != 5 {
		t.Errorf("chunk limit: %d", q.MaxChunks)
	}
	if q.RankingParams.SourceBoost != 1 || q.RankingParams.FreshnessBoost != 2 {
		t.Errorf("boosts not applied: %+v", q.RankingParams)
	}
	if q.RankingParams.Reranker == nil || !q.RankingParams.Reranker.Enabled {
		t.Errorf("reranker should be enabled at threshold 0: %+v", q.RankingParams.Reranker)
	}
	if q.Filters.Sentiment != nil {
		t.Error("no sentiment filter expected without a threshold")
	}
}

func TestBuildQuerySentimentBands(t *testing.T) {
	payload, err := buildQuery(QueryParams{
		EntityID:           "ABC123",
		Dates:              testDates(),
		SentimentThreshold: -0.3, // magnitude is what matters
	})
	if err != nil {
		t.Fatal(err)
	}

	s := payload.Query.Filters.Sentiment
	if s == nil || len(s.Ranges) != 2 {
		t.Fatalf("expected two sentiment bands, got %+v", s)
	}
	if s.Ranges[0].Min != -1 || s.Ranges[0].Max != -0.3 {
		t.Errorf("negative band wrong: %+v", s.Ranges[0])
	}
	if s.Ranges[1].Min != 0.3 || s.Ranges[1].Max != 1 {
		t.Errorf("positive band wrong: %+v", s.Ranges[1])
	}
}

func TestBuildQueryRerankerDisabled(t *testing.T) {
	payload, err := buildQuery(QueryParams{
		EntityID:        "ABC123",
		Dates:           testDates(),
		RerankThreshold: -1,
	})
	if err != nil {
		t.Fatal(err)
	}
	r := payload.Query.RankingParams.Reranker
	if r == nil || r.Enabled {
		t.Errorf("expected disabled reranker, got %+v", r)
	}
}

func TestBuildQuerySourceFilter(t *testing.T) {
	payload, err := buildQuery(QueryParams{
		EntityID:     "ABC123",
		Dates:        testDates(),
		SourceFilter: []string{"SRC1", "SRC2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	f := payload.Query.Filters.Source
	if f == nil || f.Mode != "INCLUDE" || len(f.Values) != 2 {
		t.Errorf("source filter wrong: %+v", f)
	}
}
