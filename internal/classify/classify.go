// Package classify is the boundary to the text model. A Request carries the
// instructions, a JSON shape description and the evidence; Classify decodes
// the reply into a caller-supplied struct and validates it. A reply that does
// not parse or validate is retried once with a stricter JSON-only instruction,
// after which ErrMalformedOutput is returned.
package classify

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/resilience"
)

var (
	// ErrMalformedOutput means the model reply could not be decoded into the
	// requested shape, even after the stricter retry.
	ErrMalformedOutput = eris.New("classify: malformed model output")
	// ErrNotConfigured is returned by callers whose classifier is unset.
	ErrNotConfigured = eris.New("classify: model not configured")
)

const strictSuffix = "Your previous reply could not be parsed. Respond with ONLY a single JSON value matching the shape above. No prose, no markdown fences, no comments."

// Prompt is one model call.
type Prompt struct {
	Task      string
	System    string
	User      string
	MaxTokens int64
}

// Model completes a prompt with raw text.
type Model interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, p Prompt) (string, error)

// Complete calls f.
func (f ModelFunc) Complete(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

// Request describes a structured judgment.
type Request struct {
	// Task names the judgment in logs and cost attribution.
	Task string
	// Instructions is the system prompt.
	Instructions string
	// Shape describes the expected JSON, usually an example object.
	Shape string
	// Evidence is the material being judged.
	Evidence string
	// MaxTokens bounds the reply. Zero uses the classifier default.
	MaxTokens int64
}

// Validator is implemented by output types with semantic checks beyond JSON
// decoding.
type Validator interface {
	Validate() error
}

// Classifier turns evidence into validated structs.
type Classifier struct {
	model     Model
	retry     resilience.RetryPolicy
	maxTokens int64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithRetry sets the policy for transient model failures.
func WithRetry(p resilience.RetryPolicy) Option {
	return func(c *Classifier) { c.retry = p }
}

// WithMaxTokens sets the default reply budget.
func WithMaxTokens(n int64) Option {
	return func(c *Classifier) { c.maxTokens = n }
}

// New creates a Classifier over model.
func New(model Model, opts ...Option) *Classifier {
	c := &Classifier{
		model:     model,
		retry:     resilience.DefaultRetryPolicy(),
		maxTokens: 1024,
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.Retryable == nil {
		c.retry.Retryable = isRetryable
	}
	return c
}

// Classify asks the model for a judgment and decodes it into out, which must
// be a non-nil pointer. Transport failures are returned as-is after the
// transient retry policy is exhausted.
func (c *Classifier) Classify(ctx context.Context, req Request, out any) error {
	if c == nil || c.model == nil {
		return ErrNotConfigured
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return eris.Errorf("classify: %s: out must be a non-nil pointer", req.Task)
	}

	log := zap.L().With(zap.String("task", req.Task))
	p := Prompt{
		Task:      req.Task,
		System:    systemPrompt(req),
		User:      req.Evidence,
		MaxTokens: req.MaxTokens,
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = c.maxTokens
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt == 1 {
			p.System += "\n\n" + strictSuffix
		}
		retry := c.retry
		retry.Notify = resilience.LogRetry("model", req.Task)
		text, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (string, error) {
			return c.model.Complete(ctx, p)
		})
		if err != nil {
			return eris.Wrapf(err, "classify: %s", req.Task)
		}

		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
		if lastErr = decode(text, out); lastErr == nil {
			return nil
		}
		log.Warn("classify: unusable model output",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return eris.Wrapf(ErrMalformedOutput, "classify: %s: %v", req.Task, lastErr)
}

func decode(text string, out any) error {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return eris.New("empty reply")
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return eris.Wrap(err, "decode")
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return eris.Wrap(err, "validate")
		}
	}
	return nil
}

func systemPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(req.Instructions))
	if req.Shape != "" {
		sb.WriteString("\n\nRespond with a valid JSON value of this shape:\n")
		sb.WriteString(strings.TrimSpace(req.Shape))
	}
	return sb.String()
}

// IsMalformed reports whether err is ErrMalformedOutput.
func IsMalformed(err error) bool {
	return eris.Is(err, ErrMalformedOutput)
}
