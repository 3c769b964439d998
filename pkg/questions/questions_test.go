package questions_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/natefell/quizarena/internal/logger"
	"github.com/natefell/quizarena/pkg/questions"
)

func TestSelectBatch_SendsRequestAndParsesResponse(t *testing.T) {
	var gotBody struct {
		Category string   `json:"category"`
		Exclude  []string `json:"exclude"`
		Count    int      `json:"count"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/questions/select" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request failed: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"questions": []questions.Seed{
				{ID: "q1", Text: "What?", CorrectAnswer: "yes", IncorrectAnswers: []string{"no"}},
			},
		})
	}))
	defer server.Close()

	c := questions.NewHTTPClient(logger.New(), server.URL)
	seeds, err := c.SelectBatch(context.Background(), "science", []string{"q0"}, 5)
	if err != nil {
		t.Fatalf("SelectBatch failed: %v", err)
	}

	if gotBody.Category != "science" || gotBody.Count != 5 {
		t.Errorf("unexpected request body %+v", gotBody)
	}
	if len(gotBody.Exclude) != 1 || gotBody.Exclude[0] != "q0" {
		t.Errorf("unexpected exclude list %v", gotBody.Exclude)
	}
	if len(seeds) != 1 || seeds[0].ID != "q1" {
		t.Errorf("unexpected seeds %+v", seeds)
	}
}

func TestSelectBatch_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := questions.NewHTTPClient(logger.New(), server.URL)
	if _, err := c.SelectBatch(context.Background(), "science", nil, 5); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestMarkUsed_SkipsEmptyBatch(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	c := questions.NewHTTPClient(logger.New(), server.URL)
	if err := c.MarkUsed(context.Background(), nil); err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}
	if called {
		t.Error("expected no request for empty id list")
	}
}

func TestMarkUsed_ReportsIDs(t *testing.T) {
	var got struct {
		IDs []string `json:"ids"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/questions/mark-used" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := questions.NewHTTPClient(logger.New(), server.URL)
	if err := c.MarkUsed(context.Background(), []string{"q1", "q2"}); err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}
	if len(got.IDs) != 2 {
		t.Errorf("expected 2 ids, got %v", got.IDs)
	}
}
