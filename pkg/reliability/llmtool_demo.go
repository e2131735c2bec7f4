//go:build llmdemo

package reliability

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicTool is the llm.* tool family's demo adapter: one concrete Tool
// implementation over github.com/anthropics/anthropic-sdk-go, built only
// under the llmdemo tag so the dependency is real and imported rather than
// merely declared in go.mod. Production tool adapters live outside this
// package; this exists to exercise the reliability pipeline end to end
// against a real upstream SDK shape.
type AnthropicTool struct {
	baseTool
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicTool builds the demo adapter. apiKey is passed straight to
// option.WithAPIKey; no retries/timeouts are configured client-side since
// that is this package's job, not the SDK's.
func NewAnthropicTool(apiKey string, model anthropic.Model) *AnthropicTool {
	return &AnthropicTool{
		baseTool: baseTool{
			name:      "llm",
			cacheable: map[string]time.Duration{"complete": 30 * time.Second},
			keyParams: map[string][]string{"complete": {"prompt", "model"}},
		},
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Invoke implements Tool. The only supported action is "complete"; params
// must carry a string "prompt" and optionally an int "maxTokens".
func (t *AnthropicTool) Invoke(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	if action != "complete" {
		return nil, &unsupportedActionError{tool: t.name, action: action}
	}
	prompt, _ := params["prompt"].(string)
	maxTokens := int64(1024)
	if mt, ok := params["maxTokens"].(int); ok && mt > 0 {
		maxTokens = int64(mt)
	}

	msg, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     t.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, classifyAnthropicErr(err)
	}

	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

type unsupportedActionError struct {
	tool, action string
}

func (e *unsupportedActionError) Error() string {
	return "unsupported action " + e.action + " for tool " + e.tool
}

// classifyAnthropicErr maps SDK errors carrying an HTTP status onto
// HTTPStatusError so Classify applies the 429/5xx retry rule.
func classifyAnthropicErr(err error) error {
	if apiErr, ok := err.(*anthropic.Error); ok {
		return HTTPStatusError{StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}
