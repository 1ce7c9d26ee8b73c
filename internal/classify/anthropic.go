package classify

import (
	"context"

	"github.com/sells-group/prospect-engine/internal/resilience"
	"github.com/sells-group/prospect-engine/pkg/anthropic"
)

// AnthropicModel completes prompts with an Anthropic model at temperature 0.
type AnthropicModel struct {
	client anthropic.Client
	model  string
}

// NewAnthropicModel creates a Model for the named Anthropic model.
func NewAnthropicModel(client anthropic.Client, model string) *AnthropicModel {
	return &AnthropicModel{client: client, model: model}
}

// Complete implements Model.
func (m *AnthropicModel) Complete(ctx context.Context, p Prompt) (string, error) {
	temp := 0.0
	reply, err := m.client.Complete(ctx, anthropic.Completion{
		Model:       m.model,
		MaxTokens:   p.MaxTokens,
		System:      p.System,
		CacheSystem: true,
		Prompt:      p.User,
		Temperature: &temp,
	})
	if err != nil {
		if anthropic.IsRetryable(err) {
			return "", resilience.NewTransientError(err, anthropic.StatusCode(err))
		}
		return "", err
	}
	reply.Usage.Log(m.model, p.Task)
	return reply.Text, nil
}

func isRetryable(err error) bool {
	return resilience.IsTransient(err) || anthropic.IsRetryable(err)
}
