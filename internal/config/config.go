// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"
)

// DefaultTopics is the catalog of exploratory research questions, keyed by
// topic label. Every question carries a {company} placeholder substituted
// per entity at search time.
var DefaultTopics = map[string]string{
	// Financial performance
	"Earnings":          "What key takeaways emerged from {company}'s latest earnings report?",
	"Financial Metrics": "What notable changes in {company}'s financial performance metrics have been reported recently?",
	"Guidance":          "Has {company} revised its financial or operational guidance for upcoming periods?",
	// Corporate strategy
	"Strategic Initiatives": "What significant strategic initiatives or business pivots has {company} announced recently?",
	"M&A Activity":          "What material acquisition, merger, or divestiture activities involve {company} currently?",
	"Leadership":            "What executive leadership changes have been announced at {company} recently?",
	"Contract News":         "What significant contract wins, losses, or renewals has {company} recently announced?",
	"Product Launches":      "What significant new product launches or pipeline developments has {company} announced?",
	// Operations
	"Operational Status": "What material operational disruptions or capacity changes is {company} experiencing currently?",
	"Supply Chain":       "How are supply chain conditions affecting {company}'s operations and outlook?",
	"Production":         "What production milestones or efficiency improvements has {company} achieved recently?",
	"Cost Management":    "What cost-cutting measures or expense management initiatives has {company} recently disclosed?",
	// Market position
	"Market Share":          "What notable market share shifts has {company} experienced recently?",
	"Competitive Landscape": "How is {company} responding to new competitive threats or significant competitor actions?",
	"Product Development":   "What progress on product development, R&D programs, or pipeline milestones has {company} reported?",
	// External factors
	"Regulatory Environment": "What specific regulatory developments are materially affecting {company}?",
	"Macroeconomic Impact":   "How are current macroeconomic factors affecting {company}'s performance and outlook?",
	"Legal Proceedings":      "What material litigation developments involve {company} currently?",
	"Industry Trends":        "What industry-specific trends or disruptions are directly affecting {company}?",
	// Capital structure
	"Capital Allocation":  "What significant capital allocation decisions has {company} announced recently?",
	"Shareholder Returns": "What changes to dividends, buybacks, or other shareholder return programs has {company} announced?",
	"Debt Management":     "What debt issuance, refinancing, or covenant changes has {company} recently announced?",
	"Credit Rating":       "Have there been any credit rating actions or outlook changes for {company} recently?",
	// Market sentiment
	"Investor Shifts":      "What shifts in the prevailing narrative around {company} are emerging among influential investors?",
	"Upcoming Catalysts":   "What significant events could impact {company}'s performance in the near term?",
	"Unusual Developments": "What unexpected disclosures or unusual trading patterns has {company} experienced recently?",
	"Activist Involvement": "Is there any activist investor involvement or significant shareholder actions affecting {company}?",
}

// TopicQuestions returns the catalog's questions in stable (label-sorted) order.
func TopicQuestions() []string {
	labels := make([]string, 0, len(DefaultTopics))
	for label := range DefaultTopics {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	questions := make([]string, len(labels))
	for i, label := range labels {
		questions[i] = DefaultTopics[label]
	}
	return questions
}

// Search holds content-API parameters.
type Search struct {
	APIKey  string
	BaseURL string

	ExploratorySentiment float64
	ExploratoryChunks    int
	ExploratoryRerank    float64
	FollowUpSentiment    float64
	FollowUpChunks       int
	FollowUpRerank       float64

	SourceRankBoost int
	FreshnessBoost  int

	SimultaneousRequests int
}

// LLM holds completion and embedding model parameters.
type LLM struct {
	APIKey            string
	Model             string
	EmbeddingModel    string
	FollowUpQuestions int
}

// Novelty configures the repeat-content filter.
type Novelty struct {
	Enabled          bool
	DBPath           string
	ReportThreshold  float64
	StorageThreshold float64
	StorageLookback  time.Duration
	LookbackDays     int
}

// Brief tunes report assembly.
type Brief struct {
	MinRelevanceScore   int
	MaxIntroCompanies   int
	WatchlistItemsLimit int
}

// Service is the full configuration for the briefs daemon.
type Service struct {
	BindAddr  string
	RunsDB    string
	EventsLog string

	Search  Search
	LLM     LLM
	Novelty Novelty
	Brief   Brief
}

// Load builds a Service config from environment variables. The two API keys
// are required; everything else has production defaults.
func Load() (*Service, error) {
	c := &Service{
		BindAddr:  getEnv("BRIEFS_BIND_ADDR", "0.0.0.0:8080"),
		RunsDB:    getEnv("BRIEFS_DB_PATH", "briefs.db"),
		EventsLog: getEnv("BRIEFS_EVENTS_LOG", ""),
		Search: Search{
			APIKey:               os.Getenv("BIGDATA_API_KEY"),
			BaseURL:              getEnv("BIGDATA_BASE_URL", "https://api.bigdata.com"),
			ExploratorySentiment: getFloat("SEARCH_EXPLORATORY_SENTIMENT", 0.3),
			ExploratoryChunks:    getInt("SEARCH_EXPLORATORY_CHUNKS", 5),
			ExploratoryRerank:    getFloat("SEARCH_EXPLORATORY_RERANK", 0.8),
			FollowUpSentiment:    getFloat("SEARCH_FOLLOWUP_SENTIMENT", 0.3),
			FollowUpChunks:       getInt("SEARCH_FOLLOWUP_CHUNKS", 5),
			FollowUpRerank:       getFloat("SEARCH_FOLLOWUP_RERANK", 0.9),
			SourceRankBoost:      getInt("API_SOURCE_RANK_BOOST", 1),
			FreshnessBoost:       getInt("API_FRESHNESS_BOOST", 1),
			SimultaneousRequests: getInt("SEARCH_SIMULTANEOUS_REQUESTS", 80),
		},
		LLM: LLM{
			APIKey:            os.Getenv("OPENAI_API_KEY"),
			Model:             getEnv("LLM_MODEL", "gpt-5.2"),
			EmbeddingModel:    getEnv("NOVELTY_MODEL", "text-embedding-3-large"),
			FollowUpQuestions: getInt("LLM_FOLLOW_UP_QUESTIONS", 5),
		},
		Novelty: Novelty{
			Enabled:          getBool("NOVELTY_ENABLED", true),
			DBPath:           getEnv("NOVELTY_DB_PATH", "novelty.db"),
			ReportThreshold:  getFloat("NOVELTY_THRESHOLD", 0.7),
			StorageThreshold: getFloat("NOVELTY_STORAGE_THRESHOLD", 0.8),
			StorageLookback:  getDuration("NOVELTY_STORAGE_LOOKBACK", "1h"),
			LookbackDays:     getInt("NOVELTY_LOOKBACK_DAYS", 14),
		},
		Brief: Brief{
			MinRelevanceScore:   getInt("INTRO_SECTION_MIN_RELEVANCE_SCORE", 3),
			MaxIntroCompanies:   getInt("MAX_INTRO_SECTION_COMPANIES", 8),
			WatchlistItemsLimit: getInt("WATCHLIST_ITEMS_LIMIT", 200),
		},
	}

	if c.Search.APIKey == "" {
		return nil, fmt.Errorf("BIGDATA_API_KEY must be set")
	}
	if c.LLM.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if c.Search.SimultaneousRequests <= 0 {
		return nil, fmt.Errorf("SEARCH_SIMULTANEOUS_REQUESTS must be positive")
	}
	if c.LLM.FollowUpQuestions <= 0 {
		return nil, fmt.Errorf("LLM_FOLLOW_UP_QUESTIONS must be positive")
	}
	if c.Brief.WatchlistItemsLimit <= 0 {
		return nil, fmt.Errorf("WATCHLIST_ITEMS_LIMIT must be positive")
	}
	if c.Brief.MaxIntroCompanies <= 0 {
		return nil, fmt.Errorf("MAX_INTRO_SECTION_COMPANIES must be positive")
	}
	if c.Search.SourceRankBoost < 0 || c.Search.SourceRankBoost > 10 {
		return nil, fmt.Errorf("API_SOURCE_RANK_BOOST must be within [0, 10]")
	}
	if c.Search.FreshnessBoost < 0 || c.Search.FreshnessBoost > 10 {
		return nil, fmt.Errorf("API_FRESHNESS_BOOST must be within [0, 10]")
	}
	if c.Novelty.ReportThreshold < 0 || c.Novelty.ReportThreshold > 1 {
		return nil, fmt.Errorf("NOVELTY_THRESHOLD must be within [0, 1]")
	}
	if c.Novelty.StorageThreshold < 0 || c.Novelty.StorageThreshold > 1 {
		return nil, fmt.Errorf("NOVELTY_STORAGE_THRESHOLD must be within [0, 1]")
	}
	if c.Novelty.LookbackDays <= 0 {
		return nil, fmt.Errorf("NOVELTY_LOOKBACK_DAYS must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}
