// Package otel provides structured observability for the briefs pipeline.
//
// Events are typed structs serialized as JSONL lines. The Logger writes
// events asynchronously via a buffered channel and background drain goroutine.
// An optional RingBuffer keeps recent events in memory for the debug endpoint.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an observability event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Workflow events
	KindWorkflowStart    EventKind = "workflow.start"
	KindWorkflowComplete EventKind = "workflow.complete"
	KindWorkflowFailed   EventKind = "workflow.failed"

	// Per-entity pipeline events
	KindEntityStart    EventKind = "entity.start"
	KindEntityNoInfo   EventKind = "entity.no_info"
	KindEntityComplete EventKind = "entity.complete"
	KindEntityFailed   EventKind = "entity.failed"

	// Search events
	KindContentCheck     EventKind = "search.check"
	KindExploratory      EventKind = "search.exploratory"
	KindFollowUpSearch   EventKind = "search.follow_up"
	KindWatchlistResolve EventKind = "search.watchlist"

	// Model events
	KindCompletion EventKind = "llm.complete"
	KindEmbedding  EventKind = "llm.embed"

	// Novelty events
	KindNoveltyFilter EventKind = "novelty.filter"

	// Store events
	KindStoreError EventKind = "store.error"

	// System events
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"
)

// Event is the universal observability record. Every field except Kind and
// Time is optional. Serialized as a single JSONL line.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"`       // component: "brief", "search", "api", "main"
	SessionID string         `json:"session_id,omitempty"` // random hex, same for entire process run
	RequestID string         `json:"request_id,omitempty"` // workflow correlation ID
	Watchlist string         `json:"watchlist,omitempty"`
	Entity    string         `json:"entity,omitempty"` // entity ID for per-entity pipeline events
	Topic     string         `json:"topic,omitempty"`
	Dur       time.Duration  `json:"-"`                // not serialized directly
	DurMs     float64        `json:"dur_ms,omitempty"` // computed from Dur at marshal time
	Documents int            `json:"documents,omitempty"`
	Chunks    int            `json:"chunks,omitempty"`
	Tokens    int            `json:"tokens,omitempty"` // prompt + completion tokens for llm events
	Count     int            `json:"count,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`   // free text
	Extra     map[string]any `json:"extra,omitempty"` // escape hatch for unusual fields
}

// MarshalJSON implements json.Marshaler, converting Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
