package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/textchamp/textchamp/internal/model"
)

// fakeOracle serves an OpenAI-compatible chat completions endpoint that answers
// every request with content, or with status when it is not 200.
func fakeOracle(t *testing.T, status int, content string) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			return
		}
		resp := map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "test-key", "test-model", "standard")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &calls
}

func testRequest(t *testing.T) EvaluationRequest {
	t.Helper()
	req, err := BuildRequest("A short story.", []model.AnswerTriple{
		{Question: "Who?", IdealAnswer: "Ali", UserAnswer: "Ali"},
	})
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	return req
}

func TestBuildRequest(t *testing.T) {
	items := []model.AnswerTriple{{Question: " Why? ", IdealAnswer: "Because.", UserAnswer: ""}}

	tests := []struct {
		name    string
		story   string
		items   []model.AnswerTriple
		wantErr bool
	}{
		{"valid with empty answer", "Story", items, false},
		{"blank story", "   \n", items, true},
		{"no items", "Story", nil, true},
		{"blank question", "Story", []model.AnswerTriple{{Question: " "}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := BuildRequest(tt.story, tt.items)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildRequest: %v", err)
			}
			if req.Items[0].Question != "Why?" {
				t.Errorf("question not trimmed: %q", req.Items[0].Question)
			}
		})
	}
}

func TestTriplesFor(t *testing.T) {
	qs := []model.Question{
		{ID: 7, Prompt: "Q1", IdealAnswer: "A1"},
		{ID: 9, Prompt: "Q2", IdealAnswer: "A2"},
	}
	got := TriplesFor(qs, model.AnswerSet{Questions: map[int64]string{9: "mine"}})
	if len(got) != 2 || got[0].UserAnswer != "" || got[1].UserAnswer != "mine" || got[1].IdealAnswer != "A2" {
		t.Errorf("unexpected triples: %+v", got)
	}
}

func TestParseEvaluation(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantFeedback string
		wantScore    float64
		wantDegraded bool
	}{
		{"well formed", `{"feedback":"Good work","score":4}`, "Good work", 4, false},
		{"numeric string", `{"feedback":"ok","score":"3.7"}`, "ok", 3.7, false},
		{"not a number", `{"feedback":"ok","score":"not-a-number"}`, "ok", 0, true},
		{"NaN string", `{"feedback":"ok","score":"NaN"}`, "ok", 0, true},
		{"too high", `{"feedback":"ok","score":7}`, "ok", 5, false},
		{"negative", `{"feedback":"ok","score":-10}`, "ok", 0, false},
		{"empty feedback keeps score", `{"feedback":"","score":4}`, FallbackFeedback, 4, true},
		{"missing feedback keeps score", `{"score":2}`, FallbackFeedback, 2, true},
		{"null score", `{"feedback":"ok","score":null}`, "ok", 0, true},
		{"true score", `{"feedback":"ok","score":true}`, "ok", 1, false},
		{"false score", `{"feedback":"ok","score":false}`, "ok", 0, false},
		{"fenced", "```json\n{\"feedback\":\"fenced\",\"score\":1}\n```", "fenced", 1, false},
		{"garbage", `I think it deserves a 3`, FallbackFeedback, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseEvaluation(tt.raw)
			if got.Feedback != tt.wantFeedback {
				t.Errorf("Feedback = %q, want %q", got.Feedback, tt.wantFeedback)
			}
			if got.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", got.Score, tt.wantScore)
			}
			if got.Degraded != tt.wantDegraded {
				t.Errorf("Degraded = %v, want %v", got.Degraded, tt.wantDegraded)
			}
			if got.Score < 0 || got.Score > 5 {
				t.Errorf("Score %v outside [0,5]", got.Score)
			}
		})
	}
}

func TestEvaluateSuccess(t *testing.T) {
	c, calls := fakeOracle(t, http.StatusOK, `{"feedback":"**Well done**","score":3}`)

	got := c.Evaluate(context.Background(), testRequest(t))
	if got.Feedback != "**Well done**" || got.Score != 3 || got.Degraded {
		t.Errorf("unexpected result: %+v", got)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestEvaluateServerErrorFallsBackWithoutRetry(t *testing.T) {
	c, calls := fakeOracle(t, http.StatusInternalServerError, "")

	got := c.Evaluate(context.Background(), testRequest(t))
	if got.Feedback != FallbackFeedback || got.Score != 0 || !got.Degraded {
		t.Errorf("expected fallback result, got %+v", got)
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls.Load())
	}
}

func TestEvaluateTransportError(t *testing.T) {
	c, err := New("http://127.0.0.1:1/v1", "k", "m", "standard")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.Evaluate(context.Background(), testRequest(t))
	if got.Feedback != FallbackFeedback || got.Score != 0 {
		t.Errorf("expected fallback result, got %+v", got)
	}
}

func TestEvaluateSendsPromptWithJSONFormat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"feedback\":\"x\",\"score\":5}"}}]}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "k", "grader", "strict")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Evaluate(context.Background(), testRequest(t))

	if body["model"] != "grader" {
		t.Errorf("model = %v, want grader", body["model"])
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", body["response_format"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	content, _ := msgs[0].(map[string]any)["content"].(string)
	if !strings.Contains(content, "A short story.") || !strings.Contains(content, "Who?") {
		t.Error("prompt should embed the story and questions")
	}
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	if _, err := New("", "k", "m", "harsh"); err == nil {
		t.Fatal("expected error for unknown variant")
	}
}
