// Command briefd runs the brief generation service: an HTTP API that turns
// watchlists of companies into sourced, novelty-filtered news briefs.
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abelbrown/briefs/internal/api"
	"github.com/abelbrown/briefs/internal/brief"
	"github.com/abelbrown/briefs/internal/config"
	"github.com/abelbrown/briefs/internal/embed"
	"github.com/abelbrown/briefs/internal/llm"
	"github.com/abelbrown/briefs/internal/logging"
	"github.com/abelbrown/briefs/internal/metrics"
	"github.com/abelbrown/briefs/internal/novelty"
	"github.com/abelbrown/briefs/internal/otel"
	"github.com/abelbrown/briefs/internal/search"
	"github.com/abelbrown/briefs/internal/store"
)

func main() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	logging.Init(level)

	if err := run(); err != nil {
		logging.Error("Service stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Observability: JSONL event log (optional) plus an in-memory ring
	// buffer served at /debug/events.
	var eventSink io.Writer = io.Discard
	if cfg.EventsLog != "" {
		f, err := os.OpenFile(cfg.EventsLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		eventSink = f
	}
	tracer := otel.NewLogger(eventSink)
	defer tracer.Close()
	events := otel.NewRingBuffer(otel.DefaultRingSize)
	tracer.SetRingBuffer(events)

	runs, err := store.Open(cfg.RunsDB)
	if err != nil {
		return err
	}
	defer runs.Close()

	// Billing hooks fire on shared clients, so they feed a process-lifetime
	// recorder. Per-run recorders aggregate the counts that flow through the
	// pipeline call paths.
	usage := metrics.NewRecorder()

	searchClient := search.NewClient(cfg.Search.APIKey, cfg.Search.BaseURL)
	searchClient.OnQueryUnits(usage.AddQueryUnits)
	searcher := search.NewService(searchClient, search.Config{
		ExploratorySentiment: cfg.Search.ExploratorySentiment,
		ExploratoryChunks:    cfg.Search.ExploratoryChunks,
		ExploratoryRerank:    cfg.Search.ExploratoryRerank,
		FollowUpSentiment:    cfg.Search.FollowUpSentiment,
		FollowUpChunks:       cfg.Search.FollowUpChunks,
		FollowUpRerank:       cfg.Search.FollowUpRerank,
		SourceBoost:          cfg.Search.SourceRankBoost,
		FreshnessBoost:       cfg.Search.FreshnessBoost,
	})

	completer := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model)
	completer.OnUsage(func(u llm.Usage) {
		usage.AddLLM(metrics.LLMUsage{
			Model:            u.Model,
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.PromptTokens + u.CompletionTokens,
		})
		tracer.Emit(otel.Event{
			Kind:   otel.KindCompletion,
			Comp:   "llm",
			Tokens: u.PromptTokens + u.CompletionTokens,
		})
	})

	var noveltyFilter brief.NoveltyFilter
	if cfg.Novelty.Enabled {
		embedder := embed.NewOpenAIEmbedder(cfg.LLM.APIKey, cfg.LLM.EmbeddingModel)
		embedder.OnUsage(func(model string, tokens int) {
			usage.AddEmbeddings(model, tokens)
			tracer.Emit(otel.Event{Kind: otel.KindEmbedding, Comp: "llm", Tokens: tokens})
		})
		embeddings, err := novelty.OpenStore(cfg.Novelty.DBPath)
		if err != nil {
			return err
		}
		defer embeddings.Close()
		noveltyFilter = novelty.NewService(embedder, embeddings, novelty.Config{
			ReportThreshold:  float32(cfg.Novelty.ReportThreshold),
			StorageThreshold: float32(cfg.Novelty.StorageThreshold),
			StorageLookback:  cfg.Novelty.StorageLookback,
		})
	}

	briefs, err := brief.NewService(searcher, searchClient, completer, noveltyFilter, brief.Config{
		Topics:              config.TopicQuestions(),
		NoveltyEnabled:      cfg.Novelty.Enabled,
		NoveltyLookbackDays: cfg.Novelty.LookbackDays,
		MinRelevanceScore:   cfg.Brief.MinRelevanceScore,
		MaxIntroCompanies:   cfg.Brief.MaxIntroCompanies,
		FollowUpQuestions:   cfg.LLM.FollowUpQuestions,
		WatchlistItemsLimit: cfg.Brief.WatchlistItemsLimit,
		SemaphoreCapacity:   cfg.Search.SimultaneousRequests,
	})
	if err != nil {
		return err
	}

	server := api.NewServer(runs, briefs, tracer, events)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracer.Info(otel.KindStartup, "main", "briefs service starting")
	errCh := make(chan error, 1)
	go func() {
		logging.Info("Briefs service listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutdown signal received")
	tracer.Info(otel.KindShutdown, "main", "briefs service stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server shutdown", "error", err)
	}

	logging.Info("Session usage",
		"llm", usage.LLMTotal(),
		"embeddings", usage.Embeddings(),
		"query_units", usage.QueryUnits())
	return nil
}
