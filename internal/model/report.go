package model

import (
	"fmt"
	"strings"
	"time"
)

// TopicMetadata is one topic in the structured LLM summarization response:
// the summarized update, its relevance score, and the compact reference IDs
// it cites.
type TopicMetadata struct {
	Topic          string `json:"topic"`
	RelevanceScore int    `json:"relevance_score"`
	SourceCitation []int  `json:"source_citation"`
}

// TopicCollection is the full structured summarization response.
type TopicCollection struct {
	Collection []TopicMetadata `json:"collection"`
}

// FollowUpAnalysis is the structured response of the follow-up question
// generation call.
type FollowUpAnalysis struct {
	Questions []string `json:"questions"`
}

// IntroSection is the generated introduction plus report title.
type IntroSection struct {
	IntroSection string `json:"intro_section"`
	ReportTitle  string `json:"report_title"`
}

// SingleBulletPoint is the structured response of a per-company intro bullet
// call.
type SingleBulletPoint struct {
	BulletPoint string `json:"bullet_point"`
}

// ReportTitle is the structured response of the title generation call.
type ReportTitle struct {
	ReportTitle string `json:"report_title"`
}

// BulletPoint is a single atomic claim about an entity together with its
// relevance score and the source chunks backing it. Source keys are tracked
// structurally so "used" detection does not depend on scanning rendered text.
type BulletPoint struct {
	Text       string   `json:"bullet_point"`
	Score      int      `json:"-"`
	SourceKeys []string `json:"sources"`
	Citation   string   `json:"-"`
}

// Rendered returns the bullet text with its inline citation markup appended.
func (b BulletPoint) Rendered() string {
	return b.Text + b.Citation
}

// SingleEntityReport is the per-entity section of a watchlist report.
type SingleEntityReport struct {
	EntityID   string
	EntityInfo map[string]string
	Bullets    []BulletPoint

	NoInfo  bool
	Step    GenerationStep
	Message string
}

// NoInfoReport builds the terminal report for an entity that produced
// nothing at the given generation step.
func NoInfoReport(entity Entity, step GenerationStep) SingleEntityReport {
	return SingleEntityReport{
		EntityID:   entity.ID,
		EntityInfo: entity.Info(),
		NoInfo:     true,
		Step:       step,
		Message:    fmt.Sprintf("No new information to report on %s.", entity.Name),
	}
}

// Scores returns the relevance scores of the report's bullets, in order.
func (r SingleEntityReport) Scores() []int {
	scores := make([]int, len(r.Bullets))
	for i, b := range r.Bullets {
		scores[i] = b.Score
	}
	return scores
}

// Render returns the entity section as markdown: a heading plus one line per
// bullet, citations stripped.
func (r SingleEntityReport) Render() string {
	name := r.EntityInfo["name"]
	if ticker := r.EntityInfo["ticker"]; ticker != "" {
		name = fmt.Sprintf("%s (%s)", name, ticker)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "#### %s\n\n", name)
	if r.NoInfo {
		sb.WriteString(r.Message)
		return sb.String()
	}
	for _, b := range r.Bullets {
		fmt.Fprintf(&sb, "* %s\n", b.Text)
	}
	return sb.String()
}

// WatchlistReport aggregates the surviving entity reports for one run.
type WatchlistReport struct {
	WatchlistID   string
	WatchlistName string
	ReportTitle   string
	ReportDate    time.Time
	Introduction  string
	EntityReports []SingleEntityReport
}

// IsEmpty reports whether no entity produced information.
func (w WatchlistReport) IsEmpty() bool {
	return len(w.EntityReports) == 0
}
