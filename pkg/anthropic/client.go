// Package anthropic is a thin single-turn wrapper over the Anthropic SDK. The
// engine only ever sends one system prompt and one user prompt and reads the
// text answer back, so that is all this package exposes.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client completes single-turn prompts.
type Client interface {
	Complete(ctx context.Context, c Completion) (*Reply, error)
}

// Completion is one system+user exchange.
type Completion struct {
	Model     string
	MaxTokens int64
	System    string
	// CacheSystem marks the system prompt with an hour-long cache breakpoint.
	// Classification prompts are reused across a whole batch.
	CacheSystem bool
	Prompt      string
	Temperature *float64
}

// Reply is the model's answer with text blocks already joined.
type Reply struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      Usage
}

// Usage counts tokens billed for one call.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// Price is USD per million tokens.
type Price struct {
	Input  float64
	Output float64
}

// Prices lists known models. Unknown models are logged with zero cost.
var Prices = map[string]Price{
	"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
	"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
}

const (
	cacheWriteFactor = 1.25
	cacheReadFactor  = 0.1
)

// Cost returns the USD cost of u at price p.
func (u Usage) Cost(p Price) float64 {
	perTok := func(n int64, rate float64) float64 { return float64(n) * rate / 1e6 }
	return perTok(u.Input, p.Input) +
		perTok(u.Output, p.Output) +
		perTok(u.CacheWrite, p.Input*cacheWriteFactor) +
		perTok(u.CacheRead, p.Input*cacheReadFactor)
}

// Log records u against task at debug level.
func (u Usage) Log(model, task string) {
	zap.L().Debug("anthropic: usage",
		zap.String("model", model),
		zap.String("task", task),
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.Float64("cost_usd", u.Cost(Prices[model])),
	)
}

type sdkClient struct {
	client sdk.Client
}

// NewClient returns a Client backed by the SDK. SDK retries are off; callers
// retry through resilience.Do.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	base := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	return &sdkClient{client: sdk.NewClient(append(base, opts...)...)}
}

func (c *sdkClient) Complete(ctx context.Context, in Completion) (*Reply, error) {
	msg, err := c.client.Messages.New(ctx, newParams(in))
	if err != nil {
		return nil, eris.Wrapf(err, "anthropic: complete with %s", in.Model)
	}
	return newReply(msg), nil
}

func newParams(in Completion) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(in.Model),
		MaxTokens: in.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(in.Prompt))},
	}
	if in.System != "" {
		block := sdk.TextBlockParam{Text: in.System}
		if in.CacheSystem {
			cc := sdk.NewCacheControlEphemeralParam()
			cc.TTL = sdk.CacheControlEphemeralTTL("1h")
			block.CacheControl = cc
		}
		params.System = []sdk.TextBlockParam{block}
	}
	if in.Temperature != nil {
		params.Temperature = sdk.Float(*in.Temperature)
	}
	return params
}

func newReply(msg *sdk.Message) *Reply {
	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &Reply{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			Input:      msg.Usage.InputTokens,
			Output:     msg.Usage.OutputTokens,
			CacheWrite: msg.Usage.CacheCreationInputTokens,
			CacheRead:  msg.Usage.CacheReadInputTokens,
		},
	}
}

// StatusCode returns the HTTP status carried by an API error, or 0.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsRetryable reports whether err is worth another attempt: timeouts,
// conflicts, rate limits, overload (529) and 5xx.
func IsRetryable(err error) bool {
	code := StatusCode(err)
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusConflict, code == http.StatusTooManyRequests:
		return true
	case code >= http.StatusInternalServerError && code != http.StatusNotImplemented:
		return true
	}
	return false
}
