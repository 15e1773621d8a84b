package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/xgr-network/xgr-relay/types"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-3.5-turbo-16k"
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 4 << 20
	maxErrorBytes    = 4096

	finishReasonLength = "length"
)

// Request is one prompt bound to the request it answers.
type Request struct {
	RequestID types.RequestID
	System    string
	Prompt    string
}

// Result is the completion text handed to the relay.
type Result struct {
	RequestID    types.RequestID
	Text         string
	RawLength    int
	Truncated    bool
	Model        string
	FinishReason string
}

// Completer turns a prompt into text. Implementations do not retry.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}

type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	// MaxResultBytes clips the text (rune-safe) before it goes on-chain, 0 disables.
	MaxResultBytes    int
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            hclog.Logger
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	endpoint string
	cfg      Config
	limiter  *rate.Limiter
	logger   hclog.Logger
}

var _ Completer = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("completion api key is required")
	}

	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		logger:   cfg.Logger.Named("completion"),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one chat completion request.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}

	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:     c.cfg.Model,
		Messages:  messages,
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readUpstreamError(resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &UpstreamError{StatusCode: 0, Err: fmt.Errorf("read completion body: %w", err)}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrInvalidResponse, err)
	}

	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ErrInvalidResponse)
	}

	choice := out.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return nil, fmt.Errorf("%w: empty message content", ErrInvalidResponse)
	}

	text, clipped := clip(choice.Message.Content, c.cfg.MaxResultBytes)

	res := &Result{
		RequestID:    req.RequestID,
		Text:         text,
		RawLength:    len(choice.Message.Content),
		Truncated:    clipped || choice.FinishReason == finishReasonLength,
		Model:        out.Model,
		FinishReason: choice.FinishReason,
	}

	c.logger.Debug("completion received",
		"request", req.RequestID.Short(),
		"model", res.Model,
		"length", res.RawLength,
		"truncated", res.Truncated,
		"took", time.Since(start),
	)

	return res, nil
}

func readUpstreamError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))

	msg := strings.TrimSpace(string(b))

	var apiErr apiErrorBody
	if json.Unmarshal(b, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	return &UpstreamError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}

	return time.Duration(secs) * time.Second
}

func clip(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}

	i := max
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}

	return s[:i], true
}
