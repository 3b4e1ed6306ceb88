// Package embedding turns chunk and query text into vectors through the
// OpenAI embeddings API.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"notes-sync-indexer/internal/domain"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1/embeddings"
	DefaultModel      = "text-embedding-3-large"
	DefaultDimensions = 3072

	defaultMaxRetries   = 3
	defaultInitialDelay = 1 * time.Second
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	// RequestsPerSecond of zero disables client-side throttling.
	RequestsPerSecond float64
	MaxRetries        int
	InitialDelay      time.Duration
	HTTPClient        *http.Client
}

// OpenAIClient embeds one text per request so a failing chunk never takes
// its siblings down with it.
type OpenAIClient struct {
	apiKey       string
	baseURL      string
	model        string
	dimensions   int
	maxRetries   int
	initialDelay time.Duration
	limiter      *rate.Limiter
	client       *http.Client
}

type openaiRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format"`
	Dimensions     int    `json:"dimensions,omitempty"`
}

type openaiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type openaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func NewOpenAIClient(cfg Config) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		model:        cfg.Model,
		dimensions:   cfg.Dimensions,
		maxRetries:   cfg.MaxRetries,
		initialDelay: cfg.InitialDelay,
		client:       cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.dimensions <= 0 {
		c.dimensions = DefaultDimensions
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.initialDelay <= 0 {
		c.initialDelay = defaultInitialDelay
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}

// Embed returns the vector for text. Any failure is an *domain.EmbeddingError.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embed(ctx, text)
	if err != nil {
		return nil, &domain.EmbeddingError{Err: err}
	}
	return vec, nil
}

func (c *OpenAIClient) embed(ctx context.Context, text string) ([]float32, error) {
	if c.apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	if text == "" {
		return nil, errors.New("no text provided")
	}

	body, err := json.Marshal(openaiRequest{
		Input:          text,
		Model:          c.model,
		EncodingFormat: "float",
		Dimensions:     c.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			// 1x, 2x, 4x the initial delay
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.initialDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vec, retry, err := c.do(ctx, body)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

func (c *OpenAIClient) do(ctx context.Context, body []byte) ([]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openaiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			err = fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		} else {
			err = fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, string(respBody))
		}
		// 429 and 5xx are worth another attempt, other client errors are not.
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, err
	}

	var parsed openaiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Data) != 1 {
		return nil, false, fmt.Errorf("expected 1 embedding, got %d", len(parsed.Data))
	}

	vec := parsed.Data[0].Embedding
	if len(vec) == 0 {
		return nil, false, errors.New("empty embedding returned")
	}
	if len(vec) != c.dimensions {
		return nil, false, fmt.Errorf("expected %d dimensions, got %d", c.dimensions, len(vec))
	}
	return vec, false, nil
}
