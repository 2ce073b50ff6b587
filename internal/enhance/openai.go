// Package enhance calls an LLM to add feedback and rationale content to
// QTI documents and to render the semantic quality verdict. It implements
// the gate collaborator interfaces over the OpenAI chat completions API.
package enhance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"itemforge/api/internal/gate"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 120 * time.Second

	// Rate-limit retry policy. Distinct from the enrichment attempt
	// budget: these retries are invisible to the caller.
	maxRetries  = 3
	baseBackoff = 2 * time.Second
	maxBackoff  = 32 * time.Second
)

var ErrAPIKeyNotSet = errors.New("openai api key not set")

// Client implements gate.Enhancer and gate.SemanticChecker.
type Client struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: defaultTimeout,
	}, nil
}

// Enhance produces an enriched candidate document. correctiveFeedback
// carries structural violations from the previous attempt.
func (c *Client) Enhance(ctx context.Context, document string, correctiveFeedback []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content, err := c.complete(ctx, enhanceSystemPrompt, enhanceUserPrompt(document, correctiveFeedback), false)
	if err != nil {
		return "", err
	}
	candidate := stripCodeFence(content)
	if strings.TrimSpace(candidate) == "" {
		return "", errors.New("model returned empty document")
	}
	return candidate, nil
}

// semanticResponse is the JSON shape the model is instructed to return.
type semanticResponse struct {
	Checks map[string]struct {
		Status string   `json:"status"`
		Issues []string `json:"issues"`
	} `json:"checks"`
}

// CheckSemantics runs the quality checks. The overall status is computed
// locally from the per-check verdicts, never taken from the model.
func (c *Client) CheckSemantics(ctx context.Context, document string) (gate.SemanticVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content, err := c.complete(ctx, semanticSystemPrompt, semanticUserPrompt(document), true)
	if err != nil {
		return gate.SemanticVerdict{}, err
	}

	var resp semanticResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return gate.SemanticVerdict{}, fmt.Errorf("parse semantic verdict: %w", err)
	}
	if len(resp.Checks) == 0 {
		return gate.SemanticVerdict{}, errors.New("semantic verdict missing checks")
	}

	checks := make(map[string]gate.CheckVerdict, len(resp.Checks))
	for name, check := range resp.Checks {
		status, err := parseStatus(check.Status)
		if err != nil {
			return gate.SemanticVerdict{}, fmt.Errorf("check %s: %w", name, err)
		}
		checks[name] = gate.CheckVerdict{Status: status, Issues: check.Issues}
	}
	return gate.SemanticVerdict{Overall: gate.OverallStatus(checks), Checks: checks}, nil
}

func parseStatus(raw string) (gate.Status, error) {
	switch gate.Status(strings.ToLower(strings.TrimSpace(raw))) {
	case gate.StatusPass:
		return gate.StatusPass, nil
	case gate.StatusFail:
		return gate.StatusFail, nil
	case gate.StatusNotApplicable:
		return gate.StatusNotApplicable, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// complete calls the chat completions API with exponential backoff on
// rate-limit responses.
func (c *Client) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * baseBackoff
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		params := openai.ChatCompletionNewParams{
			Model: shared.ChatModel(c.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
			Temperature: openai.Float(0.2),
		}
		if jsonMode {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
			}
		}

		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				continue
			}
			return "", fmt.Errorf("openai call failed: %w", err)
		}
		if len(completion.Choices) == 0 {
			return "", errors.New("no completion choices returned")
		}
		return completion.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// stripCodeFence unwraps a ```xml fenced block if the model added one.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```xml")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

var (
	_ gate.Enhancer        = (*Client)(nil)
	_ gate.SemanticChecker = (*Client)(nil)
)
