// Package completion talks to an OpenAI-compatible chat completion endpoint.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/virto-network/reference-bot/bot"
)

// Options configures the HTTP client used for completions.
type Options struct {
	APIKey  string
	BaseURL string // empty means the public OpenAI endpoint
	Timeout time.Duration
	// MaxRetries is the SDK's own retry budget for 429/5xx answers. Zero disables it.
	MaxRetries int
	HTTPClient *http.Client
}

// Client implements bot.Completer.
type Client struct {
	api openai.Client
}

var _ bot.Completer = (*Client)(nil)

// New returns a client authenticated with opts.APIKey.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("completion: api key is required")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &Client{api: openai.NewClient(reqOpts...)}, nil
}

// Complete sends one chat completion request and maps the answer without
// interpreting it: an empty choice list or absent content is left for the
// caller to reject.
func (c *Client) Complete(ctx context.Context, req bot.CompletionRequest) (*bot.CompletionResponse, error) {
	var httpResp *http.Response
	out, err := c.api.Chat.Completions.New(ctx, toParams(req), option.WithResponseInto(&httpResp))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	resp := fromCompletion(out)
	if httpResp != nil {
		resp.RequestID = httpResp.Header.Get("x-request-id")
	}
	return resp, nil
}

func toParams(req bot.CompletionRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.UserMessage(m.Content))
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

func fromCompletion(out *openai.ChatCompletion) *bot.CompletionResponse {
	if out == nil {
		return &bot.CompletionResponse{}
	}
	resp := &bot.CompletionResponse{
		ID:    out.ID,
		Model: out.Model,
		Usage: bot.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}
	for _, ch := range out.Choices {
		choice := bot.Choice{FinishReason: string(ch.FinishReason)}
		if ch.Message.JSON.Content.Valid() {
			content := ch.Message.Content
			choice.Content = &content
		}
		resp.Choices = append(resp.Choices, choice)
	}
	return resp
}
