// Package questions provides a client for the external question content
// service. The service owns question storage and selection; this package
// only fetches batches and reports usage back.
package questions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/natefell/quizarena/internal/logger"
)

// Seed is one question as delivered by the content service: the correct
// answer first, incorrect answers after. Answer shuffling is the caller's
// responsibility.
type Seed struct {
	ID               string   `json:"id"`
	Text             string   `json:"text"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
	Difficulty       string   `json:"difficulty"`
}

// Client is the interface consumed by the match layer
type Client interface {
	// SelectBatch fetches count questions for a category, excluding ids any
	// participant has recently seen.
	SelectBatch(ctx context.Context, category string, exclude []string, count int) ([]Seed, error)
	// MarkUsed reports consumed question ids back to the service.
	MarkUsed(ctx context.Context, ids []string) error
}

// HTTPClient talks to the question service over HTTP/JSON
type HTTPClient struct {
	log     logger.Logger
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a question service client for the given base URL
func NewHTTPClient(log logger.Logger, baseURL string) *HTTPClient {
	return &HTTPClient{
		log:     log,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type selectBatchRequest struct {
	Category string   `json:"category"`
	Exclude  []string `json:"exclude,omitempty"`
	Count    int      `json:"count"`
}

type selectBatchResponse struct {
	Questions []Seed `json:"questions"`
}

// SelectBatch fetches a batch of questions from the service
func (c *HTTPClient) SelectBatch(ctx context.Context, category string, exclude []string, count int) ([]Seed, error) {
	body, err := json.Marshal(selectBatchRequest{Category: category, Exclude: exclude, Count: count})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/questions/select", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("question service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("question service returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed selectBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode question batch: %w", err)
	}

	c.log.Debug("Fetched question batch", "category", category, "count", len(parsed.Questions))
	return parsed.Questions, nil
}

type markUsedRequest struct {
	IDs []string `json:"ids"`
}

// MarkUsed reports consumed question ids. Failures are returned but callers
// treat usage reporting as best-effort.
func (c *HTTPClient) MarkUsed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	body, err := json.Marshal(markUsedRequest{IDs: ids})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/questions/mark-used", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("question service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("question service returned %d", resp.StatusCode)
	}
	return nil
}
