package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"goa.design/taskflow/clock"
	"goa.design/taskflow/errs"
)

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	// Endpoint is the primary chat-completions URL (§6 apiEndpoint.primary).
	Endpoint string
	// FallbackEndpoint replaces Endpoint for the remaining attempts once an
	// attempt fails with a transport-kind error (connection failure or 5xx),
	// when UseFallback is true.
	FallbackEndpoint string
	UseFallback      bool
	// FallbackModel, when non-empty, replaces Request.Model once
	// Retry.FallbackAfter attempts have failed.
	FallbackModel string

	HTTPClient *http.Client
	RateLimit  *RateLimiter
	Retry      RetryPolicy
	Clock      clock.Clock
}

// HTTPClient implements Client against the bespoke chat-completions shape of
// §6 directly over net/http: no vendor SDK describes this contract because
// it is the spec's own wire format, not a third-party API.
type HTTPClient struct {
	opts HTTPOptions
}

// NewHTTPClient builds an HTTPClient. A zero-value opts.HTTPClient,
// opts.Retry and opts.Clock are replaced with http.DefaultClient,
// DefaultRetryPolicy() and a real clock respectively.
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	if opts.Endpoint == "" {
		return nil, errEmptyEndpoint
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &HTTPClient{opts: opts}, nil
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

type chatCompletionChoice struct {
	Text    string `json:"text"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type chatCompletionResponse struct {
	Choices []chatCompletionChoice `json:"choices"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete posts req to the configured endpoint, retrying and falling back
// to the secondary endpoint/model per §4.4's schedule.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	fallbackModel := c.opts.FallbackModel
	endpoint := c.opts.Endpoint

	call := func(ctx context.Context, model string) (Response, error) {
		tokens := EstimateTokens(req)
		if c.opts.RateLimit != nil {
			if err := c.opts.RateLimit.Wait(ctx, tokens); err != nil {
				return Response{}, err
			}
		}
		resp, err := c.post(ctx, endpoint, req, model)
		if c.opts.RateLimit != nil {
			c.opts.RateLimit.Observe(err)
		}
		if err != nil && c.opts.UseFallback && c.opts.FallbackEndpoint != "" && errs.KindOf(err) == errs.KindTransport {
			endpoint = c.opts.FallbackEndpoint
		}
		return resp, err
	}

	return withRetry(ctx, c.opts.Clock, c.opts.Retry, req.Model, fallbackModel, call)
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, req Request, model string) (Response, error) {
	body := chatCompletionRequest{
		Model:          model,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: req.ResponseFormat,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Response{}, errs.Wrap(errs.KindParse, "llm: marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return Response{}, errs.Wrap(errs.KindTransport, "llm: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return Response{}, errs.Wrap(errs.KindTransport, "llm: request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, errs.New(errs.KindRateLimit, "llm: rate limited (429)")
	}
	if resp.StatusCode >= 500 {
		return Response{}, errs.New(errs.KindTransport, fmt.Sprintf("llm: server error (%d)", resp.StatusCode))
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, errs.Wrap(errs.KindParse, "llm: decode response", err)
	}
	if parsed.Error != nil && parsed.Error.Code == "RATE_LIMIT" {
		return Response{}, errs.New(errs.KindRateLimit, "llm: rate limited (body)")
	}
	if resp.StatusCode >= 400 {
		return Response{}, errs.New(errs.KindParse, fmt.Sprintf("llm: client error (%d)", resp.StatusCode))
	}

	content := ""
	if len(parsed.Choices) > 0 {
		if parsed.Choices[0].Message.Content != "" {
			content = parsed.Choices[0].Message.Content
		} else {
			content = parsed.Choices[0].Text
		}
	}
	if content == "" {
		return Response{}, errs.New(errs.KindParse, "llm: empty response content")
	}
	return Response{Content: content, Model: model}, nil
}

var errEmptyEndpoint = errors.New("llm: endpoint is required")
