package reranker

import (
	"context"
	"testing"

	"github.com/mediboard/rag/internal/llm"
)

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return f.response, f.err
}

func TestLLMReranker_OrdersByScore(t *testing.T) {
	client := &fakeLLM{response: `{"scores": [{"doc_index": 0, "score": 0.2}, {"doc_index": 1, "score": 0.9}, {"doc_index": 2, "score": 0.5}]}`}
	r := NewLLMReranker(client)

	ranked, err := r.Rerank(context.Background(), "insulin dosage", []string{"a", "b", "c"}, 3)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}

	wantOrder := []int{1, 2, 0}
	if len(ranked) != len(wantOrder) {
		t.Fatalf("Rerank() returned %d results, want %d", len(ranked), len(wantOrder))
	}
	for i, want := range wantOrder {
		if ranked[i].Index != want {
			t.Errorf("ranked[%d].Index = %d, want %d", i, ranked[i].Index, want)
		}
	}
}

func TestLLMReranker_MarkdownFencedJSON(t *testing.T) {
	client := &fakeLLM{response: "```json\n{\"scores\": [{\"doc_index\": 0, \"score\": 1.0}]}\n```"}
	r := NewLLMReranker(client)

	ranked, err := r.Rerank(context.Background(), "q", []string{"only"}, 1)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(ranked) != 1 || ranked[0].RelevanceScore != 1.0 {
		t.Errorf("Rerank() = %+v, want single result with score 1.0", ranked)
	}
}

func TestLLMReranker_UnparseableResponse(t *testing.T) {
	client := &fakeLLM{response: "I think document 1 is the most relevant."}
	r := NewLLMReranker(client)

	if _, err := r.Rerank(context.Background(), "q", []string{"a", "b"}, 2); err == nil {
		t.Fatal("Rerank() error = nil, want parse error")
	}
}

func TestLLMReranker_ClampsAndDefaults(t *testing.T) {
	// Out-of-range scores clamp, missing entries keep a neutral 0.5.
	client := &fakeLLM{response: `{"scores": [{"doc_index": 0, "score": 1.7}, {"doc_index": 5, "score": 0.9}]}`}
	r := NewLLMReranker(client)

	ranked, err := r.Rerank(context.Background(), "q", []string{"a", "b"}, 2)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if ranked[0].Index != 0 || ranked[0].RelevanceScore != 1.0 {
		t.Errorf("ranked[0] = %+v, want index 0 with clamped score 1.0", ranked[0])
	}
	if ranked[1].Index != 1 || ranked[1].RelevanceScore != 0.5 {
		t.Errorf("ranked[1] = %+v, want index 1 with default score 0.5", ranked[1])
	}
}

func TestLLMReranker_TopKLimitsOutput(t *testing.T) {
	client := &fakeLLM{response: `{"scores": [{"doc_index": 0, "score": 0.1}, {"doc_index": 1, "score": 0.9}, {"doc_index": 2, "score": 0.5}]}`}
	r := NewLLMReranker(client)

	ranked, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 2)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("Rerank() returned %d results, want 2", len(ranked))
	}
	if ranked[0].Index != 1 || ranked[1].Index != 2 {
		t.Errorf("top 2 = [%d %d], want [1 2]", ranked[0].Index, ranked[1].Index)
	}
}
