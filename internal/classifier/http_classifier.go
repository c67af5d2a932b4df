package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const systemPrompt = `You assess short phone replies to a personal safety check-in.
Estimate the probability (0 to 1) that the speaker is in distress, in danger, or being coerced.
Answer with JSON only: {"probability": <number>, "rationale": "<one sentence>"}`

// Options HTTPClassifier settings
type Options struct {
	// Endpoint base URL of an OpenAI-compatible API, e.g. https://api.openai.com/v1
	Endpoint      string
	APIKey        string
	Model         string
	Timeout       time.Duration
	FailurePolicy string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// HTTPClassifier asks a chat-completions endpoint for a distress probability
type HTTPClassifier struct {
	httpClient *resty.Client
	model      string
	policy     string
	logger     *zap.Logger
}

func NewHTTPClassifier(opts Options, logger *zap.Logger) *HTTPClassifier {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.Endpoint, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}

	return &HTTPClassifier{
		httpClient: client,
		model:      opts.Model,
		policy:     opts.FailurePolicy,
		logger:     logger,
	}
}

// Classify empty or whitespace-only text scores 0 without a remote call
func (c *HTTPClassifier) Classify(ctx context.Context, text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Probability: 0, Rationale: "empty transcript", Available: true}
	}

	request := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
	}

	var response chatResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/chat/completions")
	if err != nil {
		c.logger.Warn("Classifier request failed", zap.Error(err))
		return Unavailable(c.policy, "classifier unreachable")
	}
	if resp.IsError() {
		c.logger.Warn("Classifier returned error status",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", truncate(resp.String(), 200)),
		)
		return Unavailable(c.policy, fmt.Sprintf("classifier status %d", resp.StatusCode()))
	}
	if len(response.Choices) == 0 {
		c.logger.Warn("Classifier returned no choices")
		return Unavailable(c.policy, "classifier returned no choices")
	}

	result, err := parseVerdict(response.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("Failed to parse classifier verdict", zap.Error(err))
		return Unavailable(c.policy, "unparseable classifier verdict")
	}
	return result
}

// parseVerdict reads {"probability":x,"rationale":"..."}, tolerating code fences
func parseVerdict(content string) (Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return Result{}, fmt.Errorf("no JSON object in %q", truncate(content, 80))
	}

	var verdict struct {
		Probability *float64 `json:"probability"`
		Rationale   string   `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err != nil {
		return Result{}, fmt.Errorf("invalid verdict JSON: %w", err)
	}
	if verdict.Probability == nil {
		return Result{}, fmt.Errorf("verdict has no probability")
	}

	p := *verdict.Probability
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return Result{Probability: p, Rationale: verdict.Rationale, Available: true}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
