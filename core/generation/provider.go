package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrProvider wraps every failure reported by the synthesis provider.
var ErrProvider = errors.New("provider error")

// Result is what a successful provider call returns. Empty fields were not
// supplied by the provider.
type Result struct {
	AudioURL string  `json:"audio_url"`
	ImageURL string  `json:"image_url"`
	JobID    string  `json:"id"`
	Duration float64 `json:"duration"`
}

// Provider synthesizes music for an enriched prompt.
type Provider interface {
	Generate(ctx context.Context, apiKey, prompt string) (*Result, error)
}

type generateRequest struct {
	Prompt           string `json:"prompt"`
	Duration         int    `json:"duration"`
	MakeInstrumental bool   `json:"make_instrumental"`
}

// SunoClient calls the Suno generation endpoint.
type SunoClient struct {
	baseURL    string
	duration   int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSunoClient creates a client for baseURL. ratePerSec throttles outgoing
// calls; zero or less disables throttling.
func NewSunoClient(baseURL string, duration int, timeout time.Duration, ratePerSec float64) *SunoClient {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &SunoClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		duration: duration,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Generate submits one generation request and waits for its result.
func (c *SunoClient) Generate(ctx context.Context, apiKey, prompt string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(generateRequest{
		Prompt:           prompt,
		Duration:         c.duration,
		MakeInstrumental: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: invalid response body: %v", ErrProvider, err)
	}
	if result.AudioURL == "" {
		return nil, fmt.Errorf("%w: response has no audio_url", ErrProvider)
	}
	return &result, nil
}
