// Package groq implements the ai collaborators over Groq's OpenAI-compatible
// chat completions API.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/auto-applier/internal/ai"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	defaultTimeout = 60 * time.Second
	defaultRetries = 3
	maxLogLength   = 200
)

// Options configures a Client.
type Options struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
	Timeout           time.Duration
	// MaxRetries is the number of attempts for rate-limited or failed requests.
	MaxRetries int
}

// Client is a minimal chat completions client.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	httpDo  *http.Client
	limiter *rate.Limiter
	retries int
	wait    func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
	// RetryAfter is the server's retry-after hint, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("groq http %d: %s", e.StatusCode, e.Body)
}

func New(opts Options, log *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("groq api key is required")
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, errors.New("groq model is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
	}

	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultRetries
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpDo:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		retries: retries,
		wait:    utils.WaitFor,
		logger:  logger.WithCommonFields(log, ai.ProviderGroq, model),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate implements ai.Generator.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	return c.complete(ctx, system, prompt, false)
}

// GenerateJSON asks for a json_object response.
func (c *Client) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	return c.complete(ctx, system, prompt, true)
}

func (c *Client) complete(ctx context.Context, system, prompt string, jsonMode bool) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	req := chatRequest{Model: c.model}
	if system = strings.TrimSpace(system); system != "" {
		req.Messages = append(req.Messages, message{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, message{Role: "user", Content: prompt})
	if jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	out, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(out.Content)
	if text == "" {
		return "", ai.ErrEmptyResponse
	}
	return text, nil
}

func (c *Client) do(ctx context.Context, req chatRequest) (*message, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("groq chat completion request",
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(req.Tools)),
	)

	var msg *message
	err = ai.Retrier{
		MaxRetries: c.retries,
		Delay:      retryDelay,
		Wait:       c.wait,
		Logger:     c.logger,
	}.Do(ctx, func() error {
		var sendErr error
		msg, sendErr = c.send(ctx, data)
		return sendErr
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// retryDelay retries rate limits and gateway errors with the shared policy.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	return ai.StatusRetryDelay(apiErr.StatusCode, apiErr.RetryAfter, attempt)
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func (c *Client) send(ctx context.Context, data []byte) (*message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpDo.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("groq request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode groq response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("no choices returned by model")
	}

	msg := out.Choices[0].Message
	c.logger.Debug("groq chat completion response",
		zap.String("finish_reason", out.Choices[0].FinishReason),
		zap.Int("tool_calls", len(msg.ToolCalls)),
		zap.String("response_preview", utils.TruncateForLog(msg.Content, maxLogLength)),
	)

	return &msg, nil
}
