package attribution

import (
	"testing"

	"github.com/abelbrown/briefs/internal/model"
)

func samplePairs() model.QAPairs {
	return model.QAPairs{Pairs: []model.QuestionAnswer{
		{
			Question: "What happened with Acme?",
			Answer: []model.Result{
				{
					DocumentID: "DOC-A",
					Headline:   "Acme beats estimates",
					SourceRank: 2,
					Chunks: []model.Chunk{
						{Text: "chunk zero", Index: 0},
						{Text: "chunk three", Index: 3},
					},
				},
				{
					// No document ID, must be skipped entirely.
					Headline: "untracked source",
					Chunks:   []model.Chunk{{Text: "ignored", Index: 0}},
				},
			},
		},
		{
			Question: "Any legal news?",
			Answer: []model.Result{
				{
					DocumentID: "DOC-B",
					Headline:   "Acme sued",
					SourceRank: 1,
					Chunks:     []model.Chunk{{Text: "lawsuit chunk", Index: 7}},
				},
			},
		},
	}}
}

func TestCreateReferenceMapRoundTrip(t *testing.T) {
	sources, reverse := CreateReferenceMap(samplePairs())

	if len(sources) != 3 {
		t.Fatalf("expected 3 sources, got %d", len(sources))
	}
	if len(reverse) != 3 {
		t.Fatalf("expected 3 reverse entries, got %d", len(reverse))
	}

	// Ref IDs are assigned sequentially from 1 in encounter order.
	wantKeys := map[int]string{
		1: "DOC-A-0",
		2: "DOC-A-3",
		3: "DOC-B-7",
	}
	for refID, wantKey := range wantKeys {
		key, ok := reverse[refID]
		if !ok {
			t.Fatalf("ref %d missing from reverse map", refID)
		}
		if key != wantKey {
			t.Errorf("ref %d: got key %q, want %q", refID, key, wantKey)
		}
		ref, ok := sources[key]
		if !ok {
			t.Fatalf("key %q missing from source map", key)
		}
		if ref.RefID != refID {
			t.Errorf("key %q: ref ID %d, want %d", key, ref.RefID, refID)
		}
		if ref.Used {
			t.Errorf("key %q: used flag must start false", key)
		}
	}

	if sources["DOC-B-7"].Text != "lawsuit chunk" {
		t.Errorf("chunk text not carried over: %q", sources["DOC-B-7"].Text)
	}
}

func TestRewriteCitationsMissingRef(t *testing.T) {
	_, reverse := CreateReferenceMap(samplePairs())

	collection := model.TopicCollection{Collection: []model.TopicMetadata{
		{Topic: "Earnings beat", RelevanceScore: 4, SourceCitation: []int{1, 99}},
	}}
	resolved := RewriteCitations(collection, reverse, model.Entity{ID: "ABC123", Name: "Acme"})

	if len(resolved) != 1 {
		t.Fatalf("expected one topic, got %d", len(resolved))
	}
	keys := resolved[0].SourceKeys
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
	if keys[0] != "DOC-A-0" {
		t.Errorf("resolvable ref: got %q", keys[0])
	}
	if keys[1] != "" {
		t.Errorf("unresolvable ref must become empty string, got %q", keys[1])
	}
}

func TestBestSourceCitationPrefersLowestRank(t *testing.T) {
	sources, _ := CreateReferenceMap(samplePairs())

	// Citations span both documents; DOC-B has the lower (better) rank.
	markup, cited := BestSourceCitation([]string{"DOC-A-0", "DOC-A-3", "DOC-B-7"}, sources)
	if markup != "`:ref[LIST:[CQS:DOC-B-7]]`" {
		t.Errorf("wrong markup: %q", markup)
	}
	if len(cited) != 1 || cited[0] != "DOC-B-7" {
		t.Errorf("wrong cited keys: %v", cited)
	}

	// All chunks of the winning document are listed.
	markup, cited = BestSourceCitation([]string{"DOC-A-0", "DOC-A-3"}, sources)
	if markup != "`:ref[LIST:[CQS:DOC-A-0][CQS:DOC-A-3]]`" {
		t.Errorf("wrong multi-chunk markup: %q", markup)
	}
	if len(cited) != 2 {
		t.Errorf("wrong cited keys: %v", cited)
	}
}

func TestBestSourceCitationNoResolvableKeys(t *testing.T) {
	sources, _ := CreateReferenceMap(samplePairs())

	markup, cited := BestSourceCitation([]string{"", "missing-1"}, sources)
	if markup != "" {
		t.Errorf("expected no markup for unresolvable keys, got %q", markup)
	}
	if cited != nil {
		t.Errorf("expected no cited keys, got %v", cited)
	}
}

func TestConsolidateIdempotent(t *testing.T) {
	accumulator := make(SourceMap)

	entityOne, _ := CreateReferenceMap(samplePairs())
	entityOne["DOC-A-0"].Used = true

	Consolidate(accumulator, entityOne)
	if len(accumulator) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(accumulator))
	}
	if !accumulator["DOC-A-0"].Used {
		t.Error("used flag lost on first consolidation")
	}

	// Consolidating the same map again changes nothing.
	Consolidate(accumulator, entityOne)
	if len(accumulator) != 3 {
		t.Fatalf("consolidation must be idempotent on key set, got %d entries", len(accumulator))
	}
	if !accumulator["DOC-A-0"].Used || accumulator["DOC-A-3"].Used {
		t.Error("consolidation must be idempotent on used flags")
	}
}

func TestConsolidateORsUsedWithoutOverwriting(t *testing.T) {
	accumulator := make(SourceMap)

	first, _ := CreateReferenceMap(samplePairs())
	Consolidate(accumulator, first)

	// A second entity cites the same chunk with different text; the
	// accumulated content must be kept while the used flag is OR-ed in.
	second := SourceMap{
		"DOC-A-0": {DocumentID: "DOC-A", ChunkID: 0, Text: "different text", Used: true},
	}
	Consolidate(accumulator, second)

	got := accumulator["DOC-A-0"]
	if !got.Used {
		t.Error("used flag not OR-ed from later entity")
	}
	if got.Text != "chunk zero" {
		t.Errorf("existing content overwritten: %q", got.Text)
	}
}

func TestMarkUsedAndUsedOnly(t *testing.T) {
	sources, _ := CreateReferenceMap(samplePairs())

	MarkUsed(sources, []string{"DOC-B-7", "", "not-there-1"})

	used := UsedOnly(sources)
	if len(used) != 1 {
		t.Fatalf("expected 1 used source, got %d", len(used))
	}
	if _, ok := used["DOC-B-7"]; !ok {
		t.Error("DOC-B-7 should be the used source")
	}
}
