package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider implements Provider on the Anthropic Messages API.
// The API keeps no server-side state, so Store and PreviousResponseID are
// ignored.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

func NewAnthropicProvider(apiKey, baseURL, model string) *AnthropicProvider {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.model }

func (p *AnthropicProvider) Create(ctx context.Context, req *Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyRequest
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := int64(req.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	system, msgs := splitSystem(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  buildAnthropicMessages(msgs),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages call: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		Text:       text.String(),
		ResponseID: msg.ID,
		Model:      string(msg.Model),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// splitSystem joins all system messages into one system prompt, in order.
func splitSystem(msgs []Message) (string, []Message) {
	var system []string
	var rest []Message
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if t := m.Text(); t != "" {
				system = append(system, t)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// buildAnthropicMessages merges consecutive same-role messages and makes sure
// the conversation opens with a user turn, as the Messages API requires.
func buildAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	var params []anthropic.MessageParam
	var lastRole Role
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		for _, c := range m.Content {
			switch c.Type {
			case ContentTypeText:
				if c.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(c.Text))
				}
			case ContentTypeImage:
				blocks = append(blocks, anthropic.NewImageBlockBase64(c.ImageMediaType, c.ImageData))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if len(params) == 0 && m.Role == RoleAssistant {
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock("(earlier conversation omitted)")))
			lastRole = RoleUser
		}
		if len(params) > 0 && m.Role == lastRole {
			params[len(params)-1].Content = append(params[len(params)-1].Content, blocks...)
			continue
		}
		if m.Role == RoleAssistant {
			params = append(params, anthropic.NewAssistantMessage(blocks...))
		} else {
			params = append(params, anthropic.NewUserMessage(blocks...))
		}
		lastRole = m.Role
	}
	return params
}
