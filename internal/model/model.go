// Package model defines the domain types flowing through the brief pipeline:
// entities and watchlists on the input side, search results in the middle,
// and reports on the output side.
package model

import (
	"fmt"
	"sort"
	"time"
)

// MaxChunksPerDocument caps how many chunks of a single document are carried
// into prompts and reference maps, keeping prompt size bounded.
const MaxChunksPerDocument = 10

// GenerationStep records where an entity pipeline bailed out with no
// information, for observability of the no-info population.
type GenerationStep string

const (
	StepBeforeExploratorySearch GenerationStep = "BEFORE_EXPLORATORY_SEARCH"
	StepExploratorySearch       GenerationStep = "EXPLORATORY_SEARCH"
	StepFollowUpQuestions       GenerationStep = "FOLLOW_UP_QUESTIONS"
	StepQAPairs                 GenerationStep = "QA_PAIRS"
	StepNovelty                 GenerationStep = "NOVELTY"
)

// Watchlist is a named collection of entities forming the scope of one brief.
type Watchlist struct {
	ID    string
	Name  string
	Items []string
}

// Entity is a tracked subject, typically a company.
type Entity struct {
	ID         string
	Name       string
	EntityType string
	Ticker     string

	Description   string
	CompanyType   string
	Country       string
	Sector        string
	IndustryGroup string
	Industry      string
	Webpage       string
}

// IsCompany reports whether the entity is a company entity. Watchlists can
// contain people, places and topics, which the brief pipeline skips.
func (e Entity) IsCompany() bool {
	return e.EntityType == "COMP"
}

func (e Entity) String() string {
	if e.Ticker != "" {
		return fmt.Sprintf("%s (%s)", e.Name, e.Ticker)
	}
	return e.Name
}

// Info returns the entity metadata persisted with a report, omitting empty
// fields.
func (e Entity) Info() map[string]string {
	info := map[string]string{"id": e.ID, "name": e.Name}
	optional := map[string]string{
		"entity_type":    e.EntityType,
		"ticker":         e.Ticker,
		"description":    e.Description,
		"company_type":   e.CompanyType,
		"country":        e.Country,
		"sector":         e.Sector,
		"industry_group": e.IndustryGroup,
		"industry":       e.Industry,
		"webpage":        e.Webpage,
	}
	for k, v := range optional {
		if v != "" {
			info[k] = v
		}
	}
	return info
}

// DateRange is a half-open reporting window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// LookbackDays returns the whole days covered by the range.
func (d DateRange) LookbackDays() int {
	return int(d.End.Sub(d.Start).Hours() / 24)
}

// ReportDates carries the report window plus whether novelty filtering
// applies to this run.
type ReportDates struct {
	DateRange
	Novelty bool
}

// NoveltyDates returns the historical window novelty filtering compares
// against: lookbackDays ending at the report start. Calling it on a report
// without novelty enabled is a contract violation.
func (d ReportDates) NoveltyDates(lookbackDays int) (DateRange, error) {
	if !d.Novelty {
		return DateRange{}, fmt.Errorf("novelty dates cannot be computed when novelty is disabled")
	}
	return DateRange{
		Start: d.Start.AddDate(0, 0, -lookbackDays),
		End:   d.Start,
	}, nil
}

// ChunkHighlight locates a highlighted sentence within a chunk.
type ChunkHighlight struct {
	Paragraph int `json:"pnum"`
	Sentence  int `json:"snum"`
}

// Chunk is a snippet of text from a single result document.
type Chunk struct {
	Text       string
	Index      int
	Relevance  float64
	Sentiment  float64
	Highlights []ChunkHighlight
}

// Result is a single search result document with its relevant chunks.
type Result struct {
	DocumentID    string
	Headline      string
	Timestamp     time.Time
	SourceKey     string
	SourceName    string
	SourceRank    int
	URL           string
	DocumentScope string
	Language      string
	Chunks        []Chunk
}

// NormalizeChunks sorts chunks ascending by index and caps them at
// MaxChunksPerDocument, the order reference IDs are assigned in.
func (r *Result) NormalizeChunks() {
	sort.Slice(r.Chunks, func(i, j int) bool { return r.Chunks[i].Index < r.Chunks[j].Index })
	if len(r.Chunks) > MaxChunksPerDocument {
		r.Chunks = r.Chunks[:MaxChunksPerDocument]
	}
}

// DedupeResults removes documents already seen, keyed by document ID.
// Parallel topic searches frequently return the same document; assembly
// order across those searches is completion order, so dedup must not depend
// on input order beyond first-wins.
func DedupeResults(results []Result) []Result {
	seen := make(map[string]struct{}, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.DocumentID == "" {
			continue
		}
		if _, ok := seen[r.DocumentID]; ok {
			continue
		}
		seen[r.DocumentID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// QuestionAnswer pairs a follow-up question with the documents retrieved
// for it.
type QuestionAnswer struct {
	Question string
	Answer   []Result
}

// QAPairs is the follow-up question/answer set for one entity.
type QAPairs struct {
	Pairs []QuestionAnswer
}

// HasAnswers reports whether any question retrieved at least one document.
func (q QAPairs) HasAnswers() bool {
	for _, p := range q.Pairs {
		if len(p.Answer) > 0 {
			return true
		}
	}
	return false
}
