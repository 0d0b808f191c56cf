package config_test

import (
	"testing"
	"time"

	"github.com/abelbrown/briefs/internal/config"
	"github.com/stretchr/testify/require"
)

func setRequiredKeys(t *testing.T) {
	t.Setenv("BIGDATA_API_KEY", "bd-test-key")
	t.Setenv("OPENAI_API_KEY", "oa-test-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredKeys(t)
	t.Setenv("BRIEFS_BIND_ADDR", "")
	t.Setenv("NOVELTY_THRESHOLD", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:8080", cfg.BindAddr)
	require.Equal(t, "briefs.db", cfg.RunsDB)
	require.Equal(t, "https://api.bigdata.com", cfg.Search.BaseURL)
	require.Equal(t, 0.3, cfg.Search.ExploratorySentiment)
	require.Equal(t, 5, cfg.Search.ExploratoryChunks)
	require.Equal(t, 0.8, cfg.Search.ExploratoryRerank)
	require.Equal(t, 0.9, cfg.Search.FollowUpRerank)
	require.Equal(t, 80, cfg.Search.SimultaneousRequests)
	require.Equal(t, "gpt-5.2", cfg.LLM.Model)
	require.Equal(t, "text-embedding-3-large", cfg.LLM.EmbeddingModel)
	require.Equal(t, 5, cfg.LLM.FollowUpQuestions)
	require.True(t, cfg.Novelty.Enabled)
	require.Equal(t, 0.7, cfg.Novelty.ReportThreshold)
	require.Equal(t, 0.8, cfg.Novelty.StorageThreshold)
	require.Equal(t, time.Hour, cfg.Novelty.StorageLookback)
	require.Equal(t, 14, cfg.Novelty.LookbackDays)
	require.Equal(t, 3, cfg.Brief.MinRelevanceScore)
	require.Equal(t, 8, cfg.Brief.MaxIntroCompanies)
	require.Equal(t, 200, cfg.Brief.WatchlistItemsLimit)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredKeys(t)
	t.Setenv("BRIEFS_BIND_ADDR", ":9191")
	t.Setenv("BIGDATA_BASE_URL", "https://staging.bigdata.test")
	t.Setenv("SEARCH_EXPLORATORY_RERANK", "0.65")
	t.Setenv("NOVELTY_ENABLED", "false")
	t.Setenv("NOVELTY_STORAGE_LOOKBACK", "30m")
	t.Setenv("WATCHLIST_ITEMS_LIMIT", "50")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, ":9191", cfg.BindAddr)
	require.Equal(t, "https://staging.bigdata.test", cfg.Search.BaseURL)
	require.Equal(t, 0.65, cfg.Search.ExploratoryRerank)
	require.False(t, cfg.Novelty.Enabled)
	require.Equal(t, 30*time.Minute, cfg.Novelty.StorageLookback)
	require.Equal(t, 50, cfg.Brief.WatchlistItemsLimit)
}

func TestLoadRequiresAPIKeys(t *testing.T) {
	t.Setenv("BIGDATA_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "oa-test-key")
	_, err := config.Load()
	require.ErrorContains(t, err, "BIGDATA_API_KEY")

	t.Setenv("BIGDATA_API_KEY", "bd-test-key")
	t.Setenv("OPENAI_API_KEY", "")
	_, err = config.Load()
	require.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	setRequiredKeys(t)
	t.Setenv("NOVELTY_THRESHOLD", "1.5")
	_, err := config.Load()
	require.ErrorContains(t, err, "NOVELTY_THRESHOLD")
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	setRequiredKeys(t)
	t.Setenv("SEARCH_EXPLORATORY_CHUNKS", "not-a-number")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Search.ExploratoryChunks)
}

func TestTopicQuestions(t *testing.T) {
	questions := config.TopicQuestions()
	require.Len(t, questions, len(config.DefaultTopics))
	seen := make(map[string]bool, len(questions))
	for _, q := range questions {
		require.Contains(t, q, "{company}")
		// Each topic must probe the corpus differently; a repeated question
		// is the same exploratory query paid for twice.
		require.False(t, seen[q], "duplicate topic question: %q", q)
		seen[q] = true
	}
	// Stable order across calls.
	require.Equal(t, questions, config.TopicQuestions())
}
