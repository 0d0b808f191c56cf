package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abelbrown/briefs/internal/model"
)

func TestUnmarshalLenientCleanJSON(t *testing.T) {
	var got model.TopicCollection
	content := `{"collection": [{"topic": "Revenue up", "relevance_score": 4, "source_citation": [1, 2]}]}`
	if err := UnmarshalLenient(content, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Collection) != 1 || got.Collection[0].RelevanceScore != 4 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestUnmarshalLenientCodeFence(t *testing.T) {
	var got model.FollowUpAnalysis
	content := "Here is the analysis you asked for:\n```json\n{\"questions\": [\"q1\", \"q2\"]}\n```\nLet me know if you need more."
	if err := UnmarshalLenient(content, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Questions) != 2 || got.Questions[0] != "q1" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestUnmarshalLenientSurroundingProse(t *testing.T) {
	var got model.ReportTitle
	content := `Sure! {"report_title": "Markets on the Move"} Hope that helps.`
	if err := UnmarshalLenient(content, &got); err != nil {
		t.Fatal(err)
	}
	if got.ReportTitle != "Markets on the Move" {
		t.Fatalf("unexpected title: %q", got.ReportTitle)
	}
}

func TestUnmarshalLenientNoJSON(t *testing.T) {
	var got model.ReportTitle
	if err := UnmarshalLenient("I cannot answer that.", &got); err == nil {
		t.Fatal("expected error for response without JSON")
	}
}

func newTestClient(url string) *Client {
	c := NewClient("test-key", "")
	c.endpoint = url
	c.sleep = func(time.Duration) {}
	return c
}

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"model": "gpt-5.2",
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 7},
	})
	return string(b)
}

func TestClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("wrong auth header: %q", got)
		}
		w.Write([]byte(completionBody("hello")))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	var usage Usage
	c.OnUsage(func(u Usage) { usage = u })

	resp, err := c.Complete(context.Background(), Request{UserPrompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" {
		t.Errorf("wrong content: %q", resp.Content)
	}
	if usage.PromptTokens != 12 || usage.CompletionTokens != 7 {
		t.Errorf("usage callback not fed: %+v", usage)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(completionBody("recovered")))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.Complete(context.Background(), Request{UserPrompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "recovered" {
		t.Errorf("wrong content: %q", resp.Content)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.Complete(context.Background(), Request{UserPrompt: "hi"}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, calls.Load())
	}
}

func TestClientDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.Complete(context.Background(), Request{UserPrompt: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("client errors must not be retried, got %d attempts", calls.Load())
	}
}
