// Package brief orchestrates the report pipeline: per-entity search and
// summarization fan-out, novelty filtering, relevance ranking, and final
// watchlist-level aggregation.
package brief

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/abelbrown/briefs/internal/attribution"
	"github.com/abelbrown/briefs/internal/llm"
	"github.com/abelbrown/briefs/internal/logging"
	"github.com/abelbrown/briefs/internal/metrics"
	"github.com/abelbrown/briefs/internal/model"
	"github.com/abelbrown/briefs/internal/novelty"
	"github.com/abelbrown/briefs/internal/search"
	"github.com/abelbrown/briefs/internal/work"
)

var (
	// ErrEmptyWatchlist indicates the resolved entity set contains no
	// company entities to report on.
	ErrEmptyWatchlist = errors.New("watchlist contains no company entities")

	// ErrAllEntitiesFailed indicates every entity in the batch failed with
	// an unexpected error, as opposed to the normal no-info outcome.
	ErrAllEntitiesFailed = errors.New("all entities failed to generate a report")
)

// Searcher is the search fan-out surface the pipeline depends on.
type Searcher interface {
	CheckEntityHasResults(ctx context.Context, entityID string, dates model.DateRange, opts search.Options, rec *metrics.Recorder) ([]model.Result, error)
	RunExploratorySearch(ctx context.Context, entity model.Entity, topics []string, dates model.DateRange, opts search.Options, rec *metrics.Recorder) ([]model.Result, error)
	RunFollowUpQuestions(ctx context.Context, entity model.Entity, questions []string, dates model.DateRange, opts search.Options, rec *metrics.Recorder) model.QAPairs
}

// Directory resolves watchlists and entity metadata.
type Directory interface {
	GetWatchlist(ctx context.Context, watchlistID string) (model.Watchlist, error)
	GetEntities(ctx context.Context, entityIDs []string) ([]model.Entity, error)
}

// NoveltyFilter filters bullet points against the embedding history.
type NoveltyFilter interface {
	FilterByNovelty(ctx context.Context, req novelty.FilterRequest, rec *metrics.Recorder) ([]novelty.BulletPointEmbedding, *novelty.DebugInfo, error)
}

// Config tunes the pipeline.
type Config struct {
	// Topics is the catalog of exploratory topics; each contains a
	// {company} placeholder.
	Topics []string

	NoveltyEnabled      bool
	NoveltyLookbackDays int

	// MinRelevanceScore: bullets must score strictly above this to survive.
	MinRelevanceScore   int
	MaxIntroCompanies   int
	FollowUpQuestions   int
	WatchlistItemsLimit int

	// SemaphoreCapacity bounds concurrent search connections across all
	// entity pipelines.
	SemaphoreCapacity int
}

// Request is one brief generation request.
type Request struct {
	// Exactly one of WatchlistID or EntityIDs selects the universe.
	WatchlistID string
	EntityIDs   []string

	Dates model.ReportDates

	// Optional overrides.
	Topics         []string
	Sources        []string
	SourceBoost    int
	FreshnessBoost int
}

// Report is the persisted output: the watchlist report plus the consolidated
// map of sources actually cited.
type Report struct {
	model.WatchlistReport
	Sources attribution.SourceMap
	Novelty bool
}

// Service runs brief generation end to end.
type Service struct {
	searcher  Searcher
	directory Directory
	completer llm.Completer
	novelty   NoveltyFilter
	sem       *work.WeightedSemaphore
	cfg       Config
}

// NewService assembles the pipeline. The weighted semaphore is created here
// and shared by every entity pipeline of every run.
func NewService(searcher Searcher, directory Directory, completer llm.Completer, noveltyFilter NoveltyFilter, cfg Config) (*Service, error) {
	sem, err := work.NewWeightedSemaphore(cfg.SemaphoreCapacity)
	if err != nil {
		return nil, fmt.Errorf("create weighted semaphore: %w", err)
	}
	return &Service{
		searcher:  searcher,
		directory: directory,
		completer: completer,
		novelty:   noveltyFilter,
		sem:       sem,
		cfg:       cfg,
	}, nil
}

// Progress receives human-readable run updates; used to feed the request's
// append-only log. May be nil.
type Progress func(message string)

func (p Progress) log(format string, args ...any) {
	if p != nil {
		p(fmt.Sprintf(format, args...))
	}
}

// GenerateBrief validates the request, runs the watchlist pipeline, and
// returns the consolidated report with used sources only.
func (s *Service) GenerateBrief(ctx context.Context, req Request, rec *metrics.Recorder, progress Progress) (*Report, error) {
	progress.log("Validating input parameters")
	input, err := s.validate(ctx, req, progress)
	if err != nil {
		return nil, err
	}

	watchlistReport, sources, err := s.executeWatchlistPipeline(ctx, input, rec, progress)
	if err != nil {
		return nil, err
	}

	if rec != nil {
		logging.Debug("Summary of metrics",
			"watchlist_id", input.watchlist.ID,
			"llm", rec.LLMTotal(),
			"embeddings", rec.Embeddings(),
			"bullet_points", rec.Bullets(),
			"query_units", rec.QueryUnits())
	}

	report := &Report{
		WatchlistReport: watchlistReport,
		Sources:         attribution.UsedOnly(sources),
		Novelty:         input.dates.Novelty,
	}
	if report.IsEmpty() {
		logging.Debug("No new news for watchlist", "watchlist_id", input.watchlist.ID)
	}
	return report, nil
}

type entityOutcome struct {
	entity  model.Entity
	report  model.SingleEntityReport
	sources attribution.SourceMap
	err     error
}

func (s *Service) executeWatchlistPipeline(ctx context.Context, input validatedInput, rec *metrics.Recorder, progress Progress) (model.WatchlistReport, attribution.SourceMap, error) {
	progress.log("Generating report per entity")

	outcomes := make(chan entityOutcome, len(input.entities))
	for _, entity := range input.entities {
		entity := entity
		go func() {
			defer func() {
				if r := recover(); r != nil {
					outcomes <- entityOutcome{entity: entity, err: fmt.Errorf("panic in entity pipeline: %v", r)}
				}
			}()
			report, sources, err := s.runEntityPipeline(ctx, entity, input, rec)
			outcomes <- entityOutcome{entity: entity, report: report, sources: sources, err: err}
		}()
	}

	var (
		reports      []model.SingleEntityReport
		consolidated = make(attribution.SourceMap)
		failed       int
		noInfo       int
	)
	for range input.entities {
		outcome := <-outcomes
		if outcome.err != nil {
			failed++
			logging.Warn("Unhandled error generating entity report, entity ignored",
				"entity", outcome.entity.String(), "error", outcome.err)
			continue
		}
		logging.Debug("Finished entity report", "entity", outcome.entity.String())
		if outcome.report.NoInfo {
			noInfo++
			continue
		}
		reports = append(reports, outcome.report)
		attribution.Consolidate(consolidated, outcome.sources)
	}

	if failed == len(input.entities) {
		logging.Error("All entities failed to generate reports")
		return model.WatchlistReport{}, nil, ErrAllEntitiesFailed
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return CalculateRelevanceScore(reports[i].Scores()) > CalculateRelevanceScore(reports[j].Scores())
	})

	progress.log("Generated reports for %d entities, %d with information, %d without information and %d failed.",
		len(input.entities), len(reports), noInfo, failed)

	progress.log("Generating introduction section")
	intro := s.generateIntroAndTitle(ctx, reports, input.dates.DateRange, rec)
	progress.log("Introduction section generated")

	return model.WatchlistReport{
		WatchlistID:   input.watchlist.ID,
		WatchlistName: input.watchlist.Name,
		ReportTitle:   intro.ReportTitle,
		ReportDate:    input.dates.End,
		Introduction:  intro.IntroSection,
		EntityReports: reports,
	}, consolidated, nil
}

// runEntityPipeline walks one entity through the full state machine. Every
// early exit returns a no-info report tagged with the step that dried up.
func (s *Service) runEntityPipeline(ctx context.Context, entity model.Entity, input validatedInput, rec *metrics.Recorder) (model.SingleEntityReport, attribution.SourceMap, error) {
	logging.Debug("Starting report", "entity", entity.String())
	opts := search.Options{
		SourceFilter:   input.sources,
		SourceBoost:    input.sourceBoost,
		FreshnessBoost: input.freshnessBoost,
	}

	// Quick initial search to check if there are any results before
	// investing in the expensive phases.
	initial, err := s.searcher.CheckEntityHasResults(ctx, entity.ID, input.dates.DateRange, opts, rec)
	if err != nil {
		return model.SingleEntityReport{}, nil, err
	}
	if len(initial) == 0 {
		logging.Debug("No results found in initial search", "entity", entity.String())
		return model.NoInfoReport(entity, model.StepBeforeExploratorySearch), nil, nil
	}

	exploratory, err := s.exploratorySearch(ctx, entity, input, opts, rec)
	if err != nil {
		return model.SingleEntityReport{}, nil, err
	}
	if len(exploratory) == 0 {
		logging.Debug("No new information found", "entity", entity.String())
		return model.NoInfoReport(entity, model.StepExploratorySearch), nil, nil
	}

	questions, err := s.generateFollowUpQuestions(ctx, entity, input.topics, exploratory, input.dates.DateRange, rec)
	if err != nil {
		return model.SingleEntityReport{}, nil, err
	}
	if len(questions) == 0 {
		logging.Debug("No follow-up questions generated", "entity", entity.String())
		return model.NoInfoReport(entity, model.StepFollowUpQuestions), nil, nil
	}
	if len(questions) != s.cfg.FollowUpQuestions {
		logging.Debug("Unexpected number of follow-up questions", "count", len(questions))
	}

	qaPairs, err := s.followUpSearch(ctx, entity, questions, input, opts, rec)
	if err != nil {
		return model.SingleEntityReport{}, nil, err
	}
	if !qaPairs.HasAnswers() {
		logging.Debug("No qa-pairs generated", "entity", entity.String())
		return model.NoInfoReport(entity, model.StepQAPairs), nil, nil
	}

	bullets, sources, err := s.summarize(ctx, entity, qaPairs, input.dates.DateRange, rec)
	if err != nil {
		return model.SingleEntityReport{}, nil, err
	}
	if rec != nil {
		rec.AddBullets(metrics.BulletPointsUsage{BeforeNovelty: len(bullets)})
	}

	if s.cfg.NoveltyEnabled && input.dates.Novelty {
		bullets, err = s.filterNovelty(ctx, entity, bullets, input.dates, rec)
		if err != nil {
			return model.SingleEntityReport{}, nil, err
		}
	} else {
		logging.Info("Skipping novelty filtering",
			"entity_id", entity.ID, "is_enabled", input.dates.Novelty)
	}

	// Relevance filter: keep bullets strictly above the threshold, highest
	// first.
	kept := bullets[:0:0]
	for _, b := range bullets {
		if b.Score > s.cfg.MinRelevanceScore {
			kept = append(kept, b)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	if len(kept) == 0 {
		return model.NoInfoReport(entity, model.StepNovelty), nil, nil
	}

	// Only sources cited by surviving bullets count as used.
	for _, b := range kept {
		attribution.MarkUsed(sources, b.SourceKeys)
	}

	return model.SingleEntityReport{
		EntityID:   entity.ID,
		EntityInfo: entity.Info(),
		Bullets:    kept,
	}, sources, nil
}

// exploratorySearch gates the topic fan-out on the weighted semaphore: the
// weight is the number of simultaneous connections the phase will open.
func (s *Service) exploratorySearch(ctx context.Context, entity model.Entity, input validatedInput, opts search.Options, rec *metrics.Recorder) ([]model.Result, error) {
	release, err := s.sem.Acquire(len(input.topics) + 1)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.searcher.RunExploratorySearch(ctx, entity, input.topics, input.dates.DateRange, opts, rec)
}

func (s *Service) followUpSearch(ctx context.Context, entity model.Entity, questions []string, input validatedInput, opts search.Options, rec *metrics.Recorder) (model.QAPairs, error) {
	release, err := s.sem.Acquire(len(questions))
	if err != nil {
		return model.QAPairs{}, err
	}
	defer release()
	return s.searcher.RunFollowUpQuestions(ctx, entity, questions, input.dates.DateRange, opts, rec), nil
}

// completeJSON runs one completion and books its token usage on the run's
// recorder before surfacing any decode error.
func (s *Service) completeJSON(ctx context.Context, req llm.Request, out any, rec *metrics.Recorder) error {
	usage, err := llm.CompleteJSON(ctx, s.completer, req, out)
	if rec != nil && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
		rec.AddLLM(metrics.LLMUsage{
			Model:            usage.Model,
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.PromptTokens + usage.CompletionTokens,
		})
	}
	return err
}

func (s *Service) generateFollowUpQuestions(ctx context.Context, entity model.Entity, topics []string, results []model.Result, dates model.DateRange, rec *metrics.Recorder) ([]string, error) {
	var analysis model.FollowUpAnalysis
	err := s.completeJSON(ctx, llm.Request{
		SystemPrompt: followUpSystemPrompt,
		UserPrompt:   followUpQuestionsPrompt(entity, topics, results, dates, s.cfg.FollowUpQuestions),
	}, &analysis, rec)
	if err != nil {
		return nil, fmt.Errorf("generate follow-up questions for %s: %w", entity.ID, err)
	}
	return analysis.Questions, nil
}

// summarize builds the reference map, asks the LLM for scored topic
// summaries citing compact reference IDs, and resolves the citations back
// into bullet points with durable source keys.
func (s *Service) summarize(ctx context.Context, entity model.Entity, qaPairs model.QAPairs, dates model.DateRange, rec *metrics.Recorder) ([]model.BulletPoint, attribution.SourceMap, error) {
	sources, reverse := attribution.CreateReferenceMap(qaPairs)

	var collection model.TopicCollection
	err := s.completeJSON(ctx, llm.Request{
		SystemPrompt: summarizeSystemPrompt,
		UserPrompt:   summarizePrompt(entity, qaPairs, sources, dates),
	}, &collection, rec)
	if err != nil {
		return nil, nil, fmt.Errorf("generate report for %s: %w", entity.ID, err)
	}

	resolved := attribution.RewriteCitations(collection, reverse, entity)

	bullets := make([]model.BulletPoint, 0, len(resolved))
	for _, topic := range resolved {
		score := topic.RelevanceScore
		if score == 0 {
			// Degraded LLM output; manufacture a score that survives the
			// relevance filter rather than dropping the bullet.
			logging.Error("Missing relevance score for bullet point",
				"entity", entity.String(), "topic", topic.Topic)
			score = s.cfg.MinRelevanceScore + 1
		}
		markup, cited := attribution.BestSourceCitation(topic.SourceKeys, sources)
		bullets = append(bullets, model.BulletPoint{
			Text:       topic.Topic,
			Score:      score,
			SourceKeys: cited,
			Citation:   markup,
		})
	}
	return bullets, sources, nil
}

// filterNovelty drops bullets too similar to what was reported for this
// entity within the lookback window. Scores stay attached to their bullets,
// so filtering cannot misalign them.
func (s *Service) filterNovelty(ctx context.Context, entity model.Entity, bullets []model.BulletPoint, dates model.ReportDates, rec *metrics.Recorder) ([]model.BulletPoint, error) {
	window, err := dates.NoveltyDates(s.cfg.NoveltyLookbackDays)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(bullets))
	for i, b := range bullets {
		texts[i] = b.Text
	}

	novel, _, err := s.novelty.FilterByNovelty(ctx, novelty.FilterRequest{
		Texts:      texts,
		EntityID:   entity.ID,
		EntityName: entity.Name,
		Window:     window,
		Current:    dates.End,
	}, rec)
	if err != nil {
		return nil, fmt.Errorf("novelty filtering for %s: %w", entity.ID, err)
	}

	novelTexts := make(map[string]bool, len(novel))
	for _, bp := range novel {
		novelTexts[bp.Text] = true
	}
	kept := bullets[:0:0]
	for _, b := range bullets {
		if novelTexts[b.Text] {
			kept = append(kept, b)
		}
	}
	return kept, nil
}

// generateIntroAndTitle produces the executive summary: one bullet per top
// company, generated in parallel and individually fault-tolerant, plus a
// title named after the lead story.
func (s *Service) generateIntroAndTitle(ctx context.Context, reports []model.SingleEntityReport, dates model.DateRange, rec *metrics.Recorder) model.IntroSection {
	top := reports
	if len(top) > s.cfg.MaxIntroCompanies {
		top = top[:s.cfg.MaxIntroCompanies]
	}

	bullets := make([]string, len(top))
	var wg sync.WaitGroup
	for i, report := range top {
		i, report := i, report
		wg.Add(1)
		go func() {
			defer wg.Done()
			var single model.SingleBulletPoint
			err := s.completeJSON(ctx, llm.Request{
				SystemPrompt: introBulletSystemPrompt,
				UserPrompt:   introBulletPrompt(report, dates),
			}, &single, rec)
			if err != nil {
				logging.Warn("Failed to generate intro bullet point",
					"company", report.EntityInfo["name"], "error", err)
				return
			}
			bullets[i] = single.BulletPoint
		}()
	}
	wg.Wait()

	generated := bullets[:0:0]
	for _, b := range bullets {
		if b != "" {
			generated = append(generated, b)
		}
	}
	if len(generated) == 0 {
		return model.IntroSection{IntroSection: "", ReportTitle: "You are up to date"}
	}

	title := s.generateReportTitle(ctx, generated[0], dates, rec)
	intro := ""
	for i, b := range generated {
		if i > 0 {
			intro += "\n\n"
		}
		intro += b
	}
	return model.IntroSection{IntroSection: intro, ReportTitle: title}
}

func (s *Service) generateReportTitle(ctx context.Context, firstBullet string, dates model.DateRange, rec *metrics.Recorder) string {
	var title model.ReportTitle
	err := s.completeJSON(ctx, llm.Request{
		SystemPrompt: titleSystemPrompt,
		UserPrompt:   titlePrompt(firstBullet, dates),
	}, &title, rec)
	if err != nil {
		logging.Warn("Failed to generate report title", "error", err)
		return "You are up to date"
	}
	return title.ReportTitle
}
