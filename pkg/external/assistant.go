// Package external holds clients for services outside the clinical engine.
// None of them are required for the engine to operate.
package external

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

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/metrics"
)

const (
	DefaultAssistantBaseURL = "https://generativelanguage.googleapis.com"
	DefaultAssistantModel   = "gemini-2.0-flash"
)

// SystemPrompt frames every question sent to the model.
const SystemPrompt = "You are a document assistant for the South African IMPCG 2024 (maternal and perinatal care). " +
	"Answer by summarising guideline concepts at a high level. " +
	"Do NOT give personalised medical advice, diagnoses, or dosing for a specific patient. " +
	"Always remind the user to verify against the official guideline and local protocols."

var (
	// ErrMissingAPIKey means the assistant was never configured.
	ErrMissingAPIKey = errors.New("missing assistant API key")
	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("missing question")
)

// Assistant answers free-text guideline questions.
type Assistant interface {
	Ask(ctx context.Context, question string) (string, error)
}

// AssistantClient calls the Gemini generateContent endpoint behind a rate
// limiter and a circuit breaker.
type AssistantClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// NewAssistantClient creates a client from configuration. A missing API key
// is not an error here; Ask reports it.
func NewAssistantClient(cfg domain.AssistantConfig, logger *logrus.Logger) *AssistantClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAssistantBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAssistantModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 2
	}
	if logger == nil {
		logger = logrus.New()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Assistant",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &AssistantClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		rateLimit:  rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		breaker:    breaker,
		logger:     logger,
	}
}

// Configured reports whether an API key is present.
func (c *AssistantClient) Configured() bool {
	return c.apiKey != ""
}

// Model returns the model name used for requests.
func (c *AssistantClient) Model() string {
	return c.model
}

// Ask sends the trimmed question and returns the model's text. Upstream
// failures and an open breaker are reported as domain.ErrAssistantUnavailable.
func (c *AssistantClient) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	if c.apiKey == "" {
		metrics.IncAssistantRequest("unconfigured")
		return "", ErrMissingAPIKey
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		metrics.IncAssistantRequest("rate_limited")
		return "", fmt.Errorf("%w: rate limit wait failed: %v", domain.ErrAssistantUnavailable, err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.generate(ctx, question)
	})
	if err != nil {
		metrics.IncAssistantRequest("error")
		c.logger.WithError(err).Warn("Guideline assistant request failed")
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", domain.ErrAssistantUnavailable, err)
		}
		return "", err
	}
	metrics.IncAssistantRequest("ok")
	return out.(string), nil
}

func (c *AssistantClient) generate(ctx context.Context, question string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: SystemPrompt + "\n\nQuestion: " + question}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request failed: %v", domain.ErrAssistantUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: upstream returned status %d: %s",
			domain.ErrAssistantUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", domain.ErrAssistantUnavailable, err)
	}

	var sb strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, p := range parsed.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), nil
}
