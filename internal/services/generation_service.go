package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"reverie/internal/apperrors"
	"reverie/internal/config"
)

// Generator is the seam between the engine and the external text
// generation service. The engine calls it at most once per validated
// turn plus at most one regeneration after an Unsafe verdict.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, prompt string) (*GenerationResult, error)
}

// GenerationResult is a completed generation call.
type GenerationResult struct {
	Text       string
	TokensUsed int
}

// GenerationService talks to an OpenAI-compatible /chat/completions
// endpoint. A shared rate limiter caps outbound request rate across
// all concurrent turns; retry policy belongs to the caller.
type GenerationService struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	limiter     *rate.Limiter
}

// NewGenerationService creates the client from config.
func NewGenerationService(cfg *config.Config) *GenerationService {
	burst := int(cfg.GenerationRPS)
	if burst < 1 {
		burst = 1
	}
	return &GenerationService{
		baseURL:     cfg.GenerationBaseURL,
		apiKey:      cfg.GenerationAPIKey,
		model:       cfg.GenerationModel,
		maxTokens:   cfg.GenerationMaxTokens,
		temperature: cfg.GenerationTemperature,
		client:      &http.Client{Timeout: cfg.GenerationTimeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.GenerationRPS), burst),
	}
}

// Generate performs a synchronous (non-streaming) completion call.
// Timeouts, 429, and 5xx come back as retryable GenerationFailure;
// other failures are terminal.
func (g *GenerationService) Generate(ctx context.Context, systemPrompt, prompt string) (*GenerationResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewGenerationFailure("generation rate wait cancelled", false, err)
	}

	reqBody := map[string]interface{}{
		"model": g.model,
		"messages": []map[string]interface{}{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"max_tokens":  g.maxTokens,
		"temperature": g.temperature,
		"stream":      false,
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.NewGenerationFailure("failed to marshal request", false, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/chat/completions", bytes.NewBuffer(reqJSON))
	if err != nil {
		return nil, apperrors.NewGenerationFailure("failed to create request", false, err)
	}

	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		// Timeouts and transport failures are transient.
		if errors.Is(err, context.Canceled) {
			return nil, apperrors.NewGenerationFailure("generation cancelled", false, err)
		}
		return nil, apperrors.NewGenerationFailure("generation request failed", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, apperrors.NewGenerationFailure(
			fmt.Sprintf("generation API error (status %d)", resp.StatusCode),
			retryable,
			fmt.Errorf("%s", string(body)),
		)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.NewGenerationFailure("failed to decode response", false, err)
	}
	if len(result.Choices) == 0 {
		return nil, apperrors.NewGenerationFailure("no choices in response", false, nil)
	}

	text := result.Choices[0].Message.Content
	logrus.Debugf("📡 [GENERATION] Completion in %s: %d chars, %d tokens",
		time.Since(start).Round(time.Millisecond), len(text), result.Usage.TotalTokens)

	return &GenerationResult{Text: text, TokensUsed: result.Usage.TotalTokens}, nil
}
