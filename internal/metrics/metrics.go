// Package metrics accumulates usage counters for one pipeline run. A
// Recorder is created per run and passed by construction, so concurrent runs
// and tests never share counter state.
package metrics

import "sync"

// LLMUsage tracks token consumption for one model.
type LLMUsage struct {
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Calls            int    `json:"n_calls"`
}

// EmbeddingsUsage tracks embedding token consumption.
type EmbeddingsUsage struct {
	Model  string `json:"model"`
	Tokens int    `json:"tokens"`
}

// BulletPointsUsage tracks bullet-point counts through the novelty funnel.
type BulletPointsUsage struct {
	BeforeNovelty int `json:"bullet_points_before_novelty"`
	AfterNovelty  int `json:"bullet_points_after_novelty"`
	Stored        int `json:"bullet_points_stored"`
}

// ContentUsage tracks retrieved documents and chunks per search topic.
type ContentUsage struct {
	Documents int `json:"total_documents"`
	Chunks    int `json:"total_chunks"`
}

// Recorder aggregates usage across a run. All methods are safe for
// concurrent use; hold times are counter arithmetic only.
type Recorder struct {
	mu sync.Mutex

	llm        map[string]LLMUsage
	embeddings EmbeddingsUsage
	bullets    BulletPointsUsage
	content    map[string]ContentUsage
	queryUnits int
}

// NewRecorder creates an empty recorder for one run.
func NewRecorder() *Recorder {
	return &Recorder{
		llm:     make(map[string]LLMUsage),
		content: make(map[string]ContentUsage),
	}
}

// AddLLM records one LLM call's token usage, aggregated by model.
func (r *Recorder) AddLLM(u LLMUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.llm[u.Model]
	cur.Model = u.Model
	cur.PromptTokens += u.PromptTokens
	cur.CompletionTokens += u.CompletionTokens
	cur.TotalTokens += u.TotalTokens
	cur.Calls++
	r.llm[u.Model] = cur
}

// AddEmbeddings records embedding token usage.
func (r *Recorder) AddEmbeddings(model string, tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings.Model = model
	r.embeddings.Tokens += tokens
}

// AddBullets accumulates bullet-point funnel counts.
func (r *Recorder) AddBullets(u BulletPointsUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bullets.BeforeNovelty += u.BeforeNovelty
	r.bullets.AfterNovelty += u.AfterNovelty
	r.bullets.Stored += u.Stored
}

// AddContent records retrieved document/chunk counts for a topic.
func (r *Recorder) AddContent(topic string, documents, chunks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.content[topic]
	cur.Documents += documents
	cur.Chunks += chunks
	r.content[topic] = cur
}

// AddQueryUnits records billed search query units.
func (r *Recorder) AddQueryUnits(units int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queryUnits += units
}

// LLMTotal returns token usage summed across all models.
func (r *Recorder) LLMTotal() LLMUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := LLMUsage{Model: "all"}
	for _, u := range r.llm {
		total.PromptTokens += u.PromptTokens
		total.CompletionTokens += u.CompletionTokens
		total.TotalTokens += u.TotalTokens
		total.Calls += u.Calls
	}
	return total
}

// Embeddings returns accumulated embedding usage.
func (r *Recorder) Embeddings() EmbeddingsUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.embeddings
}

// Bullets returns accumulated bullet-point funnel counts.
func (r *Recorder) Bullets() BulletPointsUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bullets
}

// Content returns a copy of the per-topic content counters.
func (r *Recorder) Content() map[string]ContentUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ContentUsage, len(r.content))
	for k, v := range r.content {
		out[k] = v
	}
	return out
}

// QueryUnits returns consumed search query units.
func (r *Recorder) QueryUnits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queryUnits
}
