package search

import (
	"fmt"
	"time"

	"github.com/abelbrown/briefs/internal/model"
)

// entityIDLength distinguishes knowledge-graph entity IDs from free-form
// topic IDs on the search backend.
const entityIDLength = 6

// Wire types for the search endpoint payload. Omitted fields are left out of
// the JSON entirely so the backend applies its own defaults.

type timestampFilter struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type entityFilter struct {
	AnyOf []string `json:"any_of"`
}

type sentimentRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type sentimentFilter struct {
	Ranges []sentimentRange `json:"ranges"`
}

type sourceFilter struct {
	Mode   string   `json:"mode"`
	Values []string `json:"values"`
}

type queryFilters struct {
	Timestamp timestampFilter  `json:"timestamp"`
	Entity    *entityFilter    `json:"entity,omitempty"`
	Sentiment *sentimentFilter `json:"sentiment,omitempty"`
	Source    *sourceFilter    `json:"source,omitempty"`
}

type rerankerParams struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold,omitempty"`
}

type rankingParams struct {
	SourceBoost    int             `json:"source_boost"`
	FreshnessBoost int             `json:"freshness_boost"`
	Reranker       *rerankerParams `json:"reranker,omitempty"`
}

type searchQuery struct {
	AutoEnrichFilters bool          `json:"auto_enrich_filters"`
	Filters           queryFilters  `json:"filters"`
	RankingParams     rankingParams `json:"ranking_params"`
	MaxChunks         int           `json:"max_chunks"`
	Text              string        `json:"text,omitempty"`
}

type searchPayload struct {
	Query searchQuery `json:"query"`
}

// QueryParams collects everything that varies between the pipeline's search
// phases. Zero-value boosts fall back to the client defaults.
type QueryParams struct {
	EntityID       string
	SimilarityText string
	Dates          model.DateRange

	SourceFilter       []string
	SentimentThreshold float64
	ChunkLimit         int
	// RerankThreshold < 0 disables the reranker.
	RerankThreshold float64
	SourceBoost     int
	FreshnessBoost  int
}

// buildQuery assembles the search payload. Queries are hand-tuned, so the
// backend's automatic filter enrichment is always off.
func buildQuery(p QueryParams) (searchPayload, error) {
	if len(p.EntityID) != entityIDLength {
		return searchPayload{}, fmt.Errorf("invalid entity ID format: %s", p.EntityID)
	}

	q := searchQuery{
		AutoEnrichFilters: false,
		Filters: queryFilters{
			Timestamp: timestampFilter{
				Start: p.Dates.Start.Format(time.RFC3339),
				End:   p.Dates.End.Format(time.RFC3339),
			},
			Entity: &entityFilter{AnyOf: []string{p.EntityID}},
		},
		RankingParams: rankingParams{
			SourceBoost:    p.SourceBoost,
			FreshnessBoost: p.FreshnessBoost,
		},
		MaxChunks: p.ChunkLimit,
		Text:      p.SimilarityText,
	}

	// Chunks with sentiment near zero are rarely newsworthy, so a threshold
	// keeps only the strongly positive or negative bands.
	if p.SentimentThreshold != 0 {
		t := p.SentimentThreshold
		if t < 0 {
			t = -t
		}
		q.Filters.Sentiment = &sentimentFilter{Ranges: []sentimentRange{
			{Min: -1, Max: -t},
			{Min: t, Max: 1},
		}}
	}

	if p.RerankThreshold < 0 {
		q.RankingParams.Reranker = &rerankerParams{Enabled: false}
	} else {
		q.RankingParams.Reranker = &rerankerParams{Enabled: true, Threshold: p.RerankThreshold}
	}

	if len(p.SourceFilter) > 0 {
		q.Filters.Source = &sourceFilter{Mode: "INCLUDE", Values: p.SourceFilter}
	}

	return searchPayload{Query: q}, nil
}
