// Package search wraps the news search API: rate-limited HTTP access, query
// construction, and the fan-out search phases of the report pipeline.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/abelbrown/briefs/internal/logging"
	"github.com/abelbrown/briefs/internal/metrics"
	"github.com/abelbrown/briefs/internal/model"
	"github.com/abelbrown/briefs/internal/ratelimit"
)

// ErrTooManyAPIRetries indicates a search API call failed on every attempt.
var ErrTooManyAPIRetries = errors.New("exceeded max retries calling search API")

const (
	defaultBaseURL = "https://api.bigdata.com"

	// Backend rate limit is 500 requests per minute; stay under it with a
	// safety margin. Lower refresh windows smooth request bursts at the
	// cost of bookkeeping overhead.
	maxRequestsPerMinute = 460
	rateLimitRefresh     = 5 * time.Second
	rateLimitRetryDelay  = 1 * time.Second

	// Max concurrent connections to the backend.
	simultaneousRequests = 80

	maxAttempts    = 3
	requestTimeout = 60 * time.Second

	// Max entities per knowledge-graph lookup request.
	entityBatchSize = 100
)

// Client is the HTTP client for the search and knowledge-graph endpoints.
// Safe for concurrent use; all calls share one connection semaphore and one
// rate limiter.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	sem     chan struct{}
	limiter *ratelimit.Controller

	onQueryUnits func(int)

	// test seams
	sleep func(time.Duration)
}

// NewClient creates a search API client. baseURL may be empty to use the
// default.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
		sem:     make(chan struct{}, simultaneousRequests),
		limiter: ratelimit.NewController(maxRequestsPerMinute, rateLimitRefresh, rateLimitRetryDelay),
		sleep:   time.Sleep,
	}
}

// OnQueryUnits registers a callback invoked with the query units billed for
// each search call.
func (c *Client) OnQueryUnits(fn func(int)) {
	c.onQueryUnits = fn
}

// wire shapes of the search response

type wireHighlight struct {
	Pnum int `json:"pnum"`
	Snum int `json:"snum"`
}

type wireChunk struct {
	Text       string          `json:"text"`
	Chunk      int             `json:"chunk"`
	Relevance  float64         `json:"relevance"`
	Sentiment  float64         `json:"sentiment"`
	Highlights []wireHighlight `json:"highlights"`
}

type wireResult struct {
	DocumentID    string      `json:"document_id"`
	Headline      string      `json:"headline"`
	Timestamp     time.Time   `json:"ts"`
	DocumentScope string      `json:"document_scope"`
	Language      string      `json:"language"`
	URL           string      `json:"url"`
	Source        struct {
		Key  string `json:"key"`
		Name string `json:"name"`
		Rank int    `json:"rank"`
	} `json:"source"`
	Chunks []wireChunk `json:"chunks"`
}

type searchResponse struct {
	Results []wireResult `json:"results"`
	Usage   struct {
		APIQueryUnits int `json:"api_query_units"`
	} `json:"usage"`
}

func (w wireResult) toModel() model.Result {
	r := model.Result{
		DocumentID:    w.DocumentID,
		Headline:      w.Headline,
		Timestamp:     w.Timestamp,
		SourceKey:     w.Source.Key,
		SourceName:    w.Source.Name,
		SourceRank:    w.Source.Rank,
		URL:           w.URL,
		DocumentScope: w.DocumentScope,
		Language:      w.Language,
	}
	for _, c := range w.Chunks {
		chunk := model.Chunk{
			Text:      c.Text,
			Index:     c.Chunk,
			Relevance: c.Relevance,
			Sentiment: c.Sentiment,
		}
		for _, h := range c.Highlights {
			chunk.Highlights = append(chunk.Highlights, model.ChunkHighlight{
				Paragraph: h.Pnum,
				Sentence:  h.Snum,
			})
		}
		r.Chunks = append(r.Chunks, chunk)
	}
	r.NormalizeChunks()
	return r
}

// Search runs one query against the search endpoint. Billed query units are
// booked on rec when given, in addition to the client-wide usage callback.
func (c *Client) Search(ctx context.Context, params QueryParams, rec *metrics.Recorder) ([]model.Result, error) {
	payload, err := buildQuery(params)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := c.callAPI(ctx, "POST", "/v1/search", payload, &resp); err != nil {
		return nil, err
	}

	if rec != nil {
		rec.AddQueryUnits(resp.Usage.APIQueryUnits)
	}
	if c.onQueryUnits != nil {
		c.onQueryUnits(resp.Usage.APIQueryUnits)
	}

	results := make([]model.Result, 0, len(resp.Results))
	for _, w := range resp.Results {
		results = append(results, w.toModel())
	}
	return results, nil
}

// GetEntities resolves entity IDs through the knowledge graph, batching
// requests to the per-call ID limit.
func (c *Client) GetEntities(ctx context.Context, entityIDs []string) ([]model.Entity, error) {
	var entities []model.Entity
	for start := 0; start < len(entityIDs); start += entityBatchSize {
		end := start + entityBatchSize
		if end > len(entityIDs) {
			end = len(entityIDs)
		}

		var resp struct {
			Results map[string]struct {
				ID            string `json:"id"`
				Name          string `json:"name"`
				EntityType    string `json:"entity_type"`
				Ticker        string `json:"ticker"`
				Description   string `json:"description"`
				CompanyType   string `json:"company_type"`
				Country       string `json:"country"`
				Sector        string `json:"sector"`
				IndustryGroup string `json:"industry_group"`
				Industry      string `json:"industry"`
				Webpage       string `json:"webpage"`
			} `json:"results"`
		}
		payload := map[string][]string{"values": entityIDs[start:end]}
		if err := c.callAPI(ctx, "POST", "/v1/knowledge-graph/entities/id", payload, &resp); err != nil {
			return nil, err
		}

		for _, e := range resp.Results {
			entities = append(entities, model.Entity{
				ID:            e.ID,
				Name:          e.Name,
				EntityType:    e.EntityType,
				Ticker:        e.Ticker,
				Description:   e.Description,
				CompanyType:   e.CompanyType,
				Country:       e.Country,
				Sector:        e.Sector,
				IndustryGroup: e.IndustryGroup,
				Industry:      e.Industry,
				Webpage:       e.Webpage,
			})
		}
	}
	return entities, nil
}

// GetWatchlist fetches a watchlist definition by ID.
func (c *Client) GetWatchlist(ctx context.Context, watchlistID string) (model.Watchlist, error) {
	var resp struct {
		ID    string   `json:"id"`
		Name  string   `json:"name"`
		Items []string `json:"items"`
	}
	endpoint := "/v1/watchlists/" + watchlistID
	if err := c.callAPI(ctx, "GET", endpoint, nil, &resp); err != nil {
		return model.Watchlist{}, err
	}
	return model.Watchlist{ID: resp.ID, Name: resp.Name, Items: resp.Items}, nil
}

// callAPI performs one rate-limited, semaphore-gated request with bounded
// retries, decoding the JSON response into out.
func (c *Client) callAPI(ctx context.Context, method, endpoint string, payload, out any) error {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(backoffDelay(attempt - 1))
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.limiter.Acquire(); err != nil {
			return err
		}
		err := c.doRequest(ctx, method, endpoint, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		logging.Warn("Error calling search API",
			"method", method, "endpoint", endpoint, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("%w: %s %s: %v", ErrTooManyAPIRetries, method, endpoint, lastErr)
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, out)
}

// backoffDelay returns a jittered delay uniform in [0.5s, min(20s, 2^retry s)].
func backoffDelay(retry int) time.Duration {
	ceiling := time.Second << retry
	if ceiling > 20*time.Second {
		ceiling = 20 * time.Second
	}
	min := 500 * time.Millisecond
	if ceiling <= min {
		return ceiling
	}
	return min + time.Duration(rand.Int63n(int64(ceiling-min)))
}
