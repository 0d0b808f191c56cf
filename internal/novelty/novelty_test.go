package novelty

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/abelbrown/briefs/internal/embed"
	"github.com/abelbrown/briefs/internal/metrics"
	"github.com/abelbrown/briefs/internal/model"
)

// fakeEmbedder maps texts to fixed vectors for deterministic similarity.
type fakeEmbedder struct {
	vectors      map[string][]float32
	tokensPerKey int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) (embed.Result, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{1, 0, 0}
		}
		out[i] = v
	}
	return embed.Result{
		Vectors: out,
		Model:   "test-embedding",
		Tokens:  f.tokensPerKey * len(texts),
	}, nil
}

func testConfig() Config {
	return Config{
		ReportThreshold:  0.7,
		StorageThreshold: 0.8,
		StorageLookback:  time.Hour,
	}
}

func window(now time.Time) model.DateRange {
	return model.DateRange{Start: now.AddDate(0, 0, -14), End: now}
}

func TestFilterByNoveltyNoHistory(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	emb := &fakeEmbedder{vectors: map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0, 1, 0},
	}}
	svc := NewService(emb, store, testConfig())

	now := time.Now()
	novel, _, err := svc.FilterByNovelty(context.Background(), FilterRequest{
		Texts:    []string{"alpha", "beta"},
		EntityID: "ABC123",
		Window:   window(now),
		Current:  now,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(novel) != 2 {
		t.Fatalf("expected all items novel with empty history, got %d", len(novel))
	}
}

func TestFilterByNoveltyDuplicateExcluded(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now()
	old := []BulletPointEmbedding{{
		Date:      now.Add(-48 * time.Hour),
		EntityID:  "ABC123",
		Embedding: []float32{1, 0, 0},
		Text:      "old alpha news",
	}}
	if err := store.Store(context.Background(), old); err != nil {
		t.Fatal(err)
	}

	emb := &fakeEmbedder{vectors: map[string][]float32{
		"same as alpha": {1, 0, 0},
		"fresh story":   {0, 1, 0},
	}}
	svc := NewService(emb, store, testConfig())

	novel, debug, err := svc.FilterByNovelty(context.Background(), FilterRequest{
		Texts:        []string{"same as alpha", "fresh story"},
		EntityID:     "ABC123",
		Window:       window(now),
		Current:      now,
		CollectDebug: true,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(novel) != 1 || novel[0].Text != "fresh story" {
		t.Fatalf("expected only the fresh story to survive, got %+v", novel)
	}
	if debug == nil {
		t.Fatal("expected debug info when requested")
	}
	if len(debug.Discarded) != 1 {
		t.Fatalf("expected one discarded item, got %d", len(debug.Discarded))
	}
	if debug.Discarded[0].MostSimilarText != "old alpha news" {
		t.Errorf("wrong most-similar attribution: %q", debug.Discarded[0].MostSimilarText)
	}
	if debug.Discarded[0].MaxSimilarity < 0.99 {
		t.Errorf("expected similarity near 1.0, got %f", debug.Discarded[0].MaxSimilarity)
	}
}

func TestFilterByNoveltyIgnoresOtherEntities(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now()
	other := []BulletPointEmbedding{{
		Date:      now.Add(-time.Hour),
		EntityID:  "ZZZ999",
		Embedding: []float32{1, 0, 0},
		Text:      "other entity story",
	}}
	if err := store.Store(context.Background(), other); err != nil {
		t.Fatal(err)
	}

	emb := &fakeEmbedder{vectors: map[string][]float32{"alpha": {1, 0, 0}}}
	svc := NewService(emb, store, testConfig())

	novel, _, err := svc.FilterByNovelty(context.Background(), FilterRequest{
		Texts:    []string{"alpha"},
		EntityID: "ABC123",
		Window:   window(now),
		Current:  now,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(novel) != 1 {
		t.Fatalf("history of a different entity must not affect novelty, got %d novel", len(novel))
	}
}

func TestStorageDedupSkipsRecentNearDuplicates(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now()
	// Recent enough to be inside the storage lookback, similar enough to
	// trip the storage threshold, but below the report threshold is not
	// relevant here since the report window excludes it.
	recent := []BulletPointEmbedding{{
		Date:      now.Add(-10 * time.Minute),
		EntityID:  "ABC123",
		Embedding: []float32{1, 0, 0},
		Text:      "just stored",
	}}
	if err := store.Store(context.Background(), recent); err != nil {
		t.Fatal(err)
	}

	emb := &fakeEmbedder{vectors: map[string][]float32{
		"near duplicate": {1, 0, 0},
		"unrelated":      {0, 1, 0},
	}}
	cfg := testConfig()
	svc := NewService(emb, store, cfg)

	// Narrow report window that excludes the recent row, so both items
	// pass the report filter; only storage dedup is in play.
	_, _, err = svc.FilterByNovelty(context.Background(), FilterRequest{
		Texts:    []string{"near duplicate", "unrelated"},
		EntityID: "ABC123",
		Window:   model.DateRange{Start: now.Add(-time.Minute), End: now},
		Current:  now,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	stored, err := store.Retrieve(context.Background(), "ABC123", now.Add(-time.Second), now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Text != "unrelated" {
		t.Fatalf("expected only the unrelated item stored, got %+v", stored)
	}
}

func TestFilterByNoveltyCleanUp(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	var embedded []string
	emb := embedderFunc(func(_ context.Context, texts []string) (embed.Result, error) {
		embedded = append(embedded, texts...)
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0, 0}
		}
		return embed.Result{Vectors: out}, nil
	})
	svc := NewService(emb, store, testConfig())

	now := time.Now()
	novel, _, err := svc.FilterByNovelty(context.Background(), FilterRequest{
		Texts:    []string{"story [marker]"},
		EntityID: "ABC123",
		Window:   window(now),
		Current:  now,
		CleanUp:  func(s string) string { return strings.ReplaceAll(s, " [marker]", "") },
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(embedded) != 1 || embedded[0] != "story" {
		t.Fatalf("clean-up not applied before embedding: %v", embedded)
	}
	// The original text, not the cleaned one, is returned and stored.
	if len(novel) != 1 || novel[0].Text != "story [marker]" {
		t.Fatalf("expected original text preserved, got %+v", novel)
	}
}

type embedderFunc func(ctx context.Context, texts []string) (embed.Result, error)

func (f embedderFunc) Embed(ctx context.Context, texts []string) (embed.Result, error) {
	return f(ctx, texts)
}

func TestFilterByNoveltyRecordsEmbeddingTokens(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	emb := &fakeEmbedder{
		vectors:      map[string][]float32{"alpha": {1, 0, 0}, "beta": {0, 1, 0}},
		tokensPerKey: 12,
	}
	svc := NewService(emb, store, testConfig())

	now := time.Now()
	rec := metrics.NewRecorder()
	if _, _, err := svc.FilterByNovelty(context.Background(), FilterRequest{
		Texts:    []string{"alpha", "beta"},
		EntityID: "ABC123",
		Window:   window(now),
		Current:  now,
	}, rec); err != nil {
		t.Fatal(err)
	}

	usage := rec.Embeddings()
	if usage.Tokens != 24 {
		t.Errorf("embedding tokens = %d, want 24", usage.Tokens)
	}
	if usage.Model != "test-embedding" {
		t.Errorf("embedding model = %q, want %q", usage.Model, "test-embedding")
	}
}
