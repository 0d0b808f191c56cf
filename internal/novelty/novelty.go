// Package novelty deduplicates freshly generated bullet points against a
// historical embedding store using cosine similarity.
//
// Two independent thresholds with different semantics: the report threshold
// decides what is shown to the user, the stricter storage threshold decides
// what is kept in history. An item can be novel enough to report yet too
// similar to something stored minutes ago (by a concurrent entity pipeline)
// to store again.
package novelty

import (
	"context"
	"fmt"
	"time"

	"github.com/abelbrown/briefs/internal/embed"
	"github.com/abelbrown/briefs/internal/logging"
	"github.com/abelbrown/briefs/internal/metrics"
	"github.com/abelbrown/briefs/internal/model"
)

// BulletPointEmbedding is one bullet point's embedding as filtered and
// persisted. Novel defaults to true and is cleared when a near-duplicate is
// found in history.
type BulletPointEmbedding struct {
	Date      time.Time
	EntityID  string
	Embedding []float32
	Text      string
	Novel     bool
}

// Store persists bullet-point embeddings keyed by entity and date range.
type Store interface {
	Retrieve(ctx context.Context, entityID string, start, end time.Time) ([]BulletPointEmbedding, error)
	Store(ctx context.Context, embeddings []BulletPointEmbedding) error
}

// DiscardedBulletPoint explains why one bullet point was dropped, for
// threshold tuning.
type DiscardedBulletPoint struct {
	Text            string  `json:"text"`
	MaxSimilarity   float32 `json:"max_similarity"`
	MostSimilarText string  `json:"most_similar_text"`
}

// DebugInfo is the optional observability payload of one filtering pass.
type DebugInfo struct {
	EntityID       string                 `json:"entity_id"`
	EntityName     string                 `json:"entity_name"`
	GeneratedTexts []string               `json:"generated_texts"`
	ComparedWith   []string               `json:"compared_with"`
	Discarded      []DiscardedBulletPoint `json:"discarded"`
	KeptTexts      []string               `json:"kept_texts"`
}

// Config holds the filtering thresholds and storage lookback.
type Config struct {
	// ReportThreshold: a new item whose maximum similarity to history
	// exceeds this is excluded from the report.
	ReportThreshold float32
	// StorageThreshold: a new embedding is only persisted if its similarity
	// to everything stored within StorageLookback stays below this.
	StorageThreshold float32
	// StorageLookback is the recent window checked before persisting.
	StorageLookback time.Duration
}

// Service filters bullet points by novelty and maintains the embedding store.
type Service struct {
	embedder embed.Embedder
	store    Store
	cfg      Config
}

// NewService creates a novelty filtering service.
func NewService(embedder embed.Embedder, store Store, cfg Config) *Service {
	return &Service{embedder: embedder, store: store, cfg: cfg}
}

// FilterRequest is one filtering pass for a single entity.
type FilterRequest struct {
	Texts      []string
	EntityID   string
	EntityName string
	// Window is the historical lookback compared against for reporting,
	// independent of (typically wider than) the report's own date range.
	Window model.DateRange
	// Current is the timestamp new embeddings are stored under.
	Current time.Time
	// CleanUp, when set, is applied to each text before embedding, e.g. to
	// strip citation markup.
	CleanUp func(string) string
	// CollectDebug enables the DebugInfo return.
	CollectDebug bool
}

// FilterByNovelty computes embeddings for the request texts, classifies each
// against the entity's stored history, persists the (storage-deduplicated)
// batch, and returns the novel items in input order. Storage and reporting
// are independent concerns: the store write happens regardless of how many
// items survive the report threshold.
func (s *Service) FilterByNovelty(ctx context.Context, req FilterRequest, rec *metrics.Recorder) ([]BulletPointEmbedding, *DebugInfo, error) {
	texts := req.Texts
	if req.CleanUp != nil {
		texts = make([]string, len(req.Texts))
		for i, t := range req.Texts {
			texts[i] = req.CleanUp(t)
		}
	}

	res, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("compute embeddings for %s: %w", req.EntityID, err)
	}
	if rec != nil && res.Tokens > 0 {
		rec.AddEmbeddings(res.Model, res.Tokens)
	}
	vectors := res.Vectors
	logging.Debug("New embeddings computed", "entity_id", req.EntityID, "count", len(vectors))

	newEmbeddings := make([]BulletPointEmbedding, len(vectors))
	for i, vec := range vectors {
		newEmbeddings[i] = BulletPointEmbedding{
			Date:      req.Current,
			EntityID:  req.EntityID,
			Embedding: vec,
			Text:      req.Texts[i],
			Novel:     true,
		}
	}

	previous, err := s.store.Retrieve(ctx, req.EntityID, req.Window.Start, req.Window.End)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve stored embeddings for %s: %w", req.EntityID, err)
	}

	var discarded []DiscardedBulletPoint
	if len(previous) > 0 {
		matrix, err := similarityMatrix(previous, newEmbeddings)
		if err != nil {
			return nil, nil, err
		}
		maxima, argmax := embed.MaxPerColumn(matrix, len(newEmbeddings))
		for i := range newEmbeddings {
			if maxima[i] > s.cfg.ReportThreshold {
				newEmbeddings[i].Novel = false
				if req.CollectDebug {
					discarded = append(discarded, DiscardedBulletPoint{
						Text:            newEmbeddings[i].Text,
						MaxSimilarity:   maxima[i],
						MostSimilarText: previous[argmax[i]].Text,
					})
				}
			}
		}
	} else {
		logging.Debug("No previous embeddings", "entity_id", req.EntityID)
	}

	if err := s.storeEmbeddings(ctx, req.EntityID, req.Current, newEmbeddings, rec); err != nil {
		return nil, nil, err
	}

	novel := make([]BulletPointEmbedding, 0, len(newEmbeddings))
	for _, bp := range newEmbeddings {
		if bp.Novel {
			novel = append(novel, bp)
		}
	}

	var debug *DebugInfo
	if req.CollectDebug {
		name := req.EntityName
		if name == "" {
			name = req.EntityID
		}
		comparedWith := make([]string, len(previous))
		for i, bp := range previous {
			comparedWith[i] = bp.Text
		}
		kept := make([]string, len(novel))
		for i, bp := range novel {
			kept[i] = bp.Text
		}
		debug = &DebugInfo{
			EntityID:       req.EntityID,
			EntityName:     name,
			GeneratedTexts: req.Texts,
			ComparedWith:   comparedWith,
			Discarded:      discarded,
			KeptTexts:      kept,
		}
	}

	if rec != nil {
		rec.AddBullets(metrics.BulletPointsUsage{AfterNovelty: len(novel)})
	}
	return novel, debug, nil
}

// storeEmbeddings persists the batch after its own dedup pass: anything too
// similar to an embedding stored within the recent lookback is skipped, so
// concurrent entity pipelines cannot flood the store with near-identical
// rows generated seconds apart.
func (s *Service) storeEmbeddings(ctx context.Context, entityID string, current time.Time, batch []BulletPointEmbedding, rec *metrics.Recorder) error {
	recent, err := s.store.Retrieve(ctx, entityID, current.Add(-s.cfg.StorageLookback), current)
	if err != nil {
		return fmt.Errorf("retrieve recent embeddings for %s: %w", entityID, err)
	}

	toStore := batch
	if len(recent) > 0 {
		matrix, err := similarityMatrix(recent, batch)
		if err != nil {
			return err
		}
		maxima, _ := embed.MaxPerColumn(matrix, len(batch))
		toStore = toStore[:0:0]
		for i, bp := range batch {
			if maxima[i] < s.cfg.StorageThreshold {
				toStore = append(toStore, bp)
			}
		}
	}

	if len(toStore) == 0 {
		return nil
	}
	if rec != nil {
		rec.AddBullets(metrics.BulletPointsUsage{Stored: len(toStore)})
	}
	if err := s.store.Store(ctx, toStore); err != nil {
		return fmt.Errorf("store embeddings for %s: %w", entityID, err)
	}
	logging.Debug("New embeddings stored", "entity_id", entityID, "count", len(toStore))
	return nil
}

func similarityMatrix(old, new []BulletPointEmbedding) ([][]float32, error) {
	oldVecs := make([][]float32, len(old))
	for i, bp := range old {
		oldVecs[i] = bp.Embedding
	}
	newVecs := make([][]float32, len(new))
	for i, bp := range new {
		newVecs[i] = bp.Embedding
	}
	matrix, err := embed.SimilarityMatrix(oldVecs, newVecs)
	if err != nil {
		return nil, fmt.Errorf("similarity matrix: %w", err)
	}
	return matrix, nil
}
