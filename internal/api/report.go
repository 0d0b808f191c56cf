package api

import (
	"time"

	"github.com/abelbrown/briefs/internal/attribution"
	"github.com/abelbrown/briefs/internal/brief"
	"github.com/abelbrown/briefs/internal/model"
)

// ReportBulletPoint is one claim of the output report, with inline citation
// markup and the source keys backing it.
type ReportBulletPoint struct {
	BulletPoint string   `json:"bullet_point"`
	Sources     []string `json:"sources"`
}

// EntityReport is the per-entity section of the output report.
type EntityReport struct {
	EntityID   string              `json:"entity_id"`
	EntityInfo map[string]string   `json:"entity_info"`
	Content    []ReportBulletPoint `json:"content"`
}

// BriefReport is the external serialization of a finished brief.
type BriefReport struct {
	WatchlistID    string                `json:"watchlist_id"`
	WatchlistName  string                `json:"watchlist_name"`
	IsEmpty        bool                  `json:"is_empty"`
	StartDate      string                `json:"start_date"`
	EndDate        string                `json:"end_date"`
	Novelty        bool                  `json:"novelty"`
	ReportTitle    string                `json:"report_title"`
	Introduction   string                `json:"introduction"`
	EntityReports  []EntityReport        `json:"entity_reports"`
	SourceMetadata attribution.SourceMap `json:"source_metadata"`
}

// NewBriefReport converts the pipeline output into the wire shape.
func NewBriefReport(rep *brief.Report, period model.DateRange) BriefReport {
	entityReports := make([]EntityReport, 0, len(rep.EntityReports))
	for _, er := range rep.EntityReports {
		content := make([]ReportBulletPoint, 0, len(er.Bullets))
		for _, b := range er.Bullets {
			content = append(content, ReportBulletPoint{
				BulletPoint: b.Rendered(),
				Sources:     b.SourceKeys,
			})
		}
		entityReports = append(entityReports, EntityReport{
			EntityID:   er.EntityID,
			EntityInfo: er.EntityInfo,
			Content:    content,
		})
	}

	return BriefReport{
		WatchlistID:    rep.WatchlistID,
		WatchlistName:  rep.WatchlistName,
		IsEmpty:        rep.IsEmpty(),
		StartDate:      period.Start.Format(time.RFC3339),
		EndDate:        period.End.Format(time.RFC3339),
		Novelty:        rep.Novelty,
		ReportTitle:    rep.ReportTitle,
		Introduction:   rep.Introduction,
		EntityReports:  entityReports,
		SourceMetadata: rep.Sources,
	}
}
