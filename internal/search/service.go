package search

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/briefs/internal/logging"
	"github.com/abelbrown/briefs/internal/metrics"
	"github.com/abelbrown/briefs/internal/model"
)

// API is the slice of Client the fan-out service depends on.
type API interface {
	Search(ctx context.Context, params QueryParams, rec *metrics.Recorder) ([]model.Result, error)
	GetEntities(ctx context.Context, entityIDs []string) ([]model.Entity, error)
	GetWatchlist(ctx context.Context, watchlistID string) (model.Watchlist, error)
}

// Config tunes the three search phases of the pipeline.
type Config struct {
	ExploratorySentiment float64
	ExploratoryChunks    int
	ExploratoryRerank    float64

	FollowUpSentiment float64
	FollowUpChunks    int
	FollowUpRerank    float64

	SourceBoost    int
	FreshnessBoost int
}

// DefaultConfig returns the production phase tuning.
func DefaultConfig() Config {
	return Config{
		ExploratorySentiment: 0.3,
		ExploratoryChunks:    5,
		ExploratoryRerank:    0.8,
		FollowUpSentiment:    0.3,
		FollowUpChunks:       5,
		FollowUpRerank:       0.9,
		SourceBoost:          1,
		FreshnessBoost:       1,
	}
}

// Options carries per-request overrides threaded through from the report
// request. Zero boost values fall back to the configured defaults.
type Options struct {
	SourceFilter   []string
	SourceBoost    int
	FreshnessBoost int
}

func (o Options) boosts(cfg Config) (int, int) {
	source, freshness := cfg.SourceBoost, cfg.FreshnessBoost
	if o.SourceBoost != 0 {
		source = o.SourceBoost
	}
	if o.FreshnessBoost != 0 {
		freshness = o.FreshnessBoost
	}
	return source, freshness
}

// Service runs the pipeline's search phases against the API.
type Service struct {
	api API
	cfg Config
}

// NewService creates a search fan-out service.
func NewService(api API, cfg Config) *Service {
	return &Service{api: api, cfg: cfg}
}

// CheckEntityHasResults makes one cheap single-chunk query to decide whether
// the entity is worth the full pipeline.
func (s *Service) CheckEntityHasResults(ctx context.Context, entityID string, dates model.DateRange, opts Options, rec *metrics.Recorder) ([]model.Result, error) {
	source, freshness := opts.boosts(s.cfg)
	results, err := s.api.Search(ctx, QueryParams{
		EntityID:        entityID,
		Dates:           dates,
		SourceFilter:    opts.SourceFilter,
		ChunkLimit:      1,
		RerankThreshold: 0,
		SourceBoost:     source,
		FreshnessBoost:  freshness,
	}, rec)
	if err != nil {
		return nil, err
	}
	trackContent(rec, "Check if entity has results", results)
	return results, nil
}

// RunExploratorySearch fans out one query per topic, with the topic's
// {company} placeholder filled in, plus one bare-entity query, and returns
// the deduplicated union. A failed topic search fails the phase; the caller
// treats the whole exploratory phase as one unit.
func (s *Service) RunExploratorySearch(ctx context.Context, entity model.Entity, topics []string, dates model.DateRange, opts Options, rec *metrics.Recorder) ([]model.Result, error) {
	source, freshness := opts.boosts(s.cfg)

	queries := make([]QueryParams, 0, len(topics)+1)
	for _, topic := range topics {
		queries = append(queries, QueryParams{
			EntityID:           entity.ID,
			SimilarityText:     strings.ReplaceAll(topic, "{company}", entity.Name),
			Dates:              dates,
			SourceFilter:       opts.SourceFilter,
			SentimentThreshold: s.cfg.ExploratorySentiment,
			ChunkLimit:         s.cfg.ExploratoryChunks,
			RerankThreshold:    s.cfg.ExploratoryRerank,
			SourceBoost:        source,
			FreshnessBoost:     freshness,
		})
	}
	// In addition to searching by topics, query with just the entity.
	queries = append(queries, QueryParams{
		EntityID:           entity.ID,
		Dates:              dates,
		SourceFilter:       opts.SourceFilter,
		SentimentThreshold: s.cfg.ExploratorySentiment,
		ChunkLimit:         s.cfg.ExploratoryChunks,
		RerankThreshold:    s.cfg.ExploratoryRerank,
		SourceBoost:        source,
		FreshnessBoost:     freshness,
	})

	var mu sync.Mutex
	var all []model.Result

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		q := q
		g.Go(func() error {
			results, err := s.api.Search(gctx, q, rec)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, results...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	deduped := model.DedupeResults(all)
	trackContent(rec, "Exploratory search", deduped)
	return deduped, nil
}

// RunFollowUpQuestions fans out one query per follow-up question. A single
// question's failure is logged and its answer dropped; the remaining pairs
// still feed summarization.
func (s *Service) RunFollowUpQuestions(ctx context.Context, entity model.Entity, questions []string, dates model.DateRange, opts Options, rec *metrics.Recorder) model.QAPairs {
	source, freshness := opts.boosts(s.cfg)

	var mu sync.Mutex
	var pairs []model.QuestionAnswer
	var wg sync.WaitGroup

	for _, question := range questions {
		question := question
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := s.api.Search(ctx, QueryParams{
				EntityID:           entity.ID,
				SimilarityText:     question,
				Dates:              dates,
				SourceFilter:       opts.SourceFilter,
				SentimentThreshold: s.cfg.FollowUpSentiment,
				ChunkLimit:         s.cfg.FollowUpChunks,
				RerankThreshold:    s.cfg.FollowUpRerank,
				SourceBoost:        source,
				FreshnessBoost:     freshness,
			}, rec)
			if err != nil {
				logging.Warn("Error running follow up question",
					"entity", entity.String(), "question", question, "error", err)
				return
			}
			mu.Lock()
			pairs = append(pairs, model.QuestionAnswer{Question: question, Answer: results})
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, p := range pairs {
		trackContent(rec, "Follow up questions", p.Answer)
	}
	return model.QAPairs{Pairs: pairs}
}

func trackContent(rec *metrics.Recorder, topic string, results []model.Result) {
	if rec == nil {
		return
	}
	chunks := 0
	for _, r := range results {
		chunks += len(r.Chunks)
	}
	rec.AddContent(topic, len(results), chunks)
}
