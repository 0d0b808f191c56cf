// Package attribution maps between the compact integer reference IDs the LLM
// cites and the durable document/chunk identifiers of retrieved sources.
//
// Long document and chunk IDs bloat prompts and invite transcription errors,
// so each chunk handed to the model is assigned a small sequential ref ID.
// The reverse map translates the model's citations back to stable keys after
// the response is parsed.
package attribution

import (
	"fmt"
	"sort"
	"time"

	"github.com/abelbrown/briefs/internal/logging"
	"github.com/abelbrown/briefs/internal/model"
)

// SourceChunkReference carries everything needed to cite one chunk of one
// document. Used starts false and flips true once a citation referencing
// this chunk survives into the final rendered report.
type SourceChunkReference struct {
	RefID         int                    `json:"ref_id"`
	DocumentID    string                 `json:"document_id"`
	ChunkID       int                    `json:"chunk_id"`
	Headline      string                 `json:"headline"`
	Timestamp     time.Time              `json:"ts"`
	DocumentScope string                 `json:"document_scope,omitempty"`
	Language      string                 `json:"language,omitempty"`
	SourceKey     string                 `json:"source_key"`
	SourceName    string                 `json:"source_name"`
	SourceRank    int                    `json:"source_rank"`
	URL           string                 `json:"url,omitempty"`
	Text          string                 `json:"text"`
	Highlights    []model.ChunkHighlight `json:"highlights,omitempty"`
	Used          bool                   `json:"-"`
}

// SourceMap is keyed by "{document_id}-{chunk_id}".
type SourceMap map[string]*SourceChunkReference

// ReverseMap translates a ref ID back to its source map key.
type ReverseMap map[int]string

// Key builds the durable source map key for a document/chunk pair.
func Key(documentID string, chunkID int) string {
	return fmt.Sprintf("%s-%d", documentID, chunkID)
}

// CreateReferenceMap walks every answer of every Q&A pair and assigns each
// chunk a sequential ref ID starting at 1, in encounter order. Documents
// without an ID are skipped. Chunk order within a document follows the
// result's (normalized) chunk slice, so ref assignment is deterministic for
// a given input ordering.
func CreateReferenceMap(qaPairs model.QAPairs) (SourceMap, ReverseMap) {
	sources := make(SourceMap)
	reverse := make(ReverseMap)
	refCounter := 1

	for _, pair := range qaPairs.Pairs {
		for _, result := range pair.Answer {
			if result.DocumentID == "" {
				continue
			}
			for _, chunk := range result.Chunks {
				ref := &SourceChunkReference{
					RefID:         refCounter,
					DocumentID:    result.DocumentID,
					ChunkID:       chunk.Index,
					Headline:      result.Headline,
					Timestamp:     result.Timestamp,
					DocumentScope: result.DocumentScope,
					Language:      result.Language,
					SourceKey:     result.SourceKey,
					SourceName:    result.SourceName,
					SourceRank:    result.SourceRank,
					URL:           result.URL,
					Text:          chunk.Text,
					Highlights:    chunk.Highlights,
				}
				key := Key(result.DocumentID, chunk.Index)
				sources[key] = ref
				reverse[refCounter] = key
				refCounter++
			}
		}
	}
	return sources, reverse
}

// ResolvedTopic is a topic whose integer citations have been translated to
// durable source keys.
type ResolvedTopic struct {
	Topic          string
	RelevanceScore int
	SourceKeys     []string
}

// RewriteCitations translates the integer citations of each topic into
// durable source keys. A citation absent from the reverse map is replaced
// with an empty string and logged; one bad citation must not fail a report.
func RewriteCitations(collection model.TopicCollection, reverse ReverseMap, entity model.Entity) []ResolvedTopic {
	resolved := make([]ResolvedTopic, 0, len(collection.Collection))
	for _, topic := range collection.Collection {
		keys := make([]string, 0, len(topic.SourceCitation))
		for _, refID := range topic.SourceCitation {
			key, ok := reverse[refID]
			if !ok {
				logging.Warn("Reference ID not found in reverse map",
					"ref_id", refID, "entity", entity.String())
				key = ""
			}
			keys = append(keys, key)
		}
		resolved = append(resolved, ResolvedTopic{
			Topic:          topic.Topic,
			RelevanceScore: topic.RelevanceScore,
			SourceKeys:     keys,
		})
	}
	return resolved
}

// BestSourceCitation groups a topic's resolved source keys by document,
// picks the document with the numerically lowest source rank (lower rank is
// higher quality), and returns the inline citation markup listing every
// cited chunk of that one document. Topics with no resolvable keys get no
// markup.
func BestSourceCitation(keys []string, sources SourceMap) (markup string, cited []string) {
	type group struct {
		rank int
		keys []string
	}
	byDoc := make(map[string]*group)
	var docOrder []string

	for _, key := range keys {
		ref, ok := sources[key]
		if !ok {
			continue
		}
		g, ok := byDoc[ref.DocumentID]
		if !ok {
			g = &group{rank: ref.SourceRank}
			byDoc[ref.DocumentID] = g
			docOrder = append(docOrder, ref.DocumentID)
		}
		g.keys = append(g.keys, key)
	}
	if len(docOrder) == 0 {
		return "", nil
	}

	sort.SliceStable(docOrder, func(i, j int) bool {
		return byDoc[docOrder[i]].rank < byDoc[docOrder[j]].rank
	})
	best := byDoc[docOrder[0]]

	markup = "`:ref[LIST:"
	for _, key := range best.keys {
		markup += "[CQS:" + key + "]"
	}
	markup += "]`"
	return markup, best.keys
}

// Consolidate merges new per-entity sources into a running accumulator.
// Keys not yet present are inserted directly. For keys already present the
// existing content is never overwritten, but the used flag is OR-ed: any
// entity citing the chunk marks it used for the whole report.
func Consolidate(accumulator, newSources SourceMap) {
	for key, ref := range newSources {
		existing, ok := accumulator[key]
		if !ok {
			accumulator[key] = ref
			continue
		}
		if ref.Used {
			existing.Used = true
		}
	}
}

// MarkUsed flips the used flag on every source key in keys that exists in
// the map.
func MarkUsed(sources SourceMap, keys []string) {
	for _, key := range keys {
		if ref, ok := sources[key]; ok {
			ref.Used = true
		}
	}
}

// UsedOnly returns the subset of sources whose used flag is set. Chunks
// retrieved but never cited are dropped from the persisted report.
func UsedOnly(sources SourceMap) SourceMap {
	out := make(SourceMap)
	for key, ref := range sources {
		if ref.Used {
			out[key] = ref
		}
	}
	return out
}
