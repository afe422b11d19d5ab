package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible
// endpoints. OpenAI itself is called through the Responses API; other
// endpoints only serve Chat Completions.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	name      string
	baseURL   string
	responses bool
}

func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-5"
	}
	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		name:      providerNameFromURL(baseURL),
		baseURL:   baseURL,
		responses: servesResponses(baseURL),
	}
}

// servesResponses reports whether the endpoint implements /responses.
func servesResponses(baseURL string) bool {
	return baseURL == "" || strings.Contains(baseURL, "api.openai.com")
}

func providerNameFromURL(baseURL string) string {
	switch {
	case baseURL == "":
		return "openai"
	case strings.Contains(baseURL, "deepseek"):
		return "deepseek"
	case strings.Contains(baseURL, "generativelanguage.googleapis.com"):
		return "gemini"
	case strings.Contains(baseURL, "moonshot"):
		return "kimi"
	case strings.Contains(baseURL, "dashscope"):
		return "qwen"
	case strings.Contains(baseURL, "groq"):
		return "groq"
	case strings.Contains(baseURL, "openrouter"):
		return "openrouter"
	default:
		return "openai"
	}
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.model }

func (p *OpenAIProvider) Create(ctx context.Context, req *Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyRequest
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	if !p.responses {
		return p.createChat(ctx, model, req)
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: buildResponsesInput(req.Messages),
		},
		Store: openai.Bool(req.Store),
	}
	if req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(req.PreviousResponseID)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s responses call: %w", p.name, err)
	}
	return &Response{
		Text:       resp.OutputText(),
		ResponseID: resp.ID,
		Model:      string(resp.Model),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// createChat runs the request through Chat Completions. Store and
// PreviousResponseID have no equivalent there and are ignored; the
// completion id is returned as the continuation token.
func (p *OpenAIProvider) createChat(ctx context.Context, model string, req *Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: buildChatMessages(req.Messages),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s chat completions call: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s chat completions call: no choices returned", p.name)
	}
	return &Response{
		Text:       resp.Choices[0].Message.Content,
		ResponseID: resp.ID,
		Model:      resp.Model,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// buildChatMessages converts unified messages to Chat Completions params.
// User messages with images become multipart content.
func buildChatMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(m.Text()))
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Text()))
		default:
			if !hasImage(m) {
				params = append(params, openai.UserMessage(m.Text()))
				continue
			}
			var parts []openai.ChatCompletionContentPartUnionParam
			for _, c := range m.Content {
				switch c.Type {
				case ContentTypeText:
					parts = append(parts, openai.TextContentPart(c.Text))
				case ContentTypeImage:
					img := Image{Data: c.ImageData, MediaType: c.ImageMediaType}
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: img.DataURL(),
					}))
				}
			}
			params = append(params, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: parts,
					},
				},
			})
		}
	}
	return params
}

// buildResponsesInput converts unified messages to Responses input items.
// Text-only messages use the plain string form; messages with images use a
// content list.
func buildResponsesInput(msgs []Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(msgs))
	for _, m := range msgs {
		role := easyRole(m.Role)
		if !hasImage(m) {
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Text(), role))
			continue
		}
		var parts responses.ResponseInputMessageContentListParam
		for _, c := range m.Content {
			switch c.Type {
			case ContentTypeText:
				parts = append(parts, responses.ResponseInputContentUnionParam{
					OfInputText: &responses.ResponseInputTextParam{Text: c.Text},
				})
			case ContentTypeImage:
				img := Image{Data: c.ImageData, MediaType: c.ImageMediaType}
				parts = append(parts, responses.ResponseInputContentUnionParam{
					OfInputImage: &responses.ResponseInputImageParam{
						ImageURL: openai.String(img.DataURL()),
						Detail:   responses.ResponseInputImageDetailAuto,
					},
				})
			}
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(parts, role))
	}
	return items
}

func easyRole(r Role) responses.EasyInputMessageRole {
	switch r {
	case RoleSystem:
		return responses.EasyInputMessageRoleSystem
	case RoleAssistant:
		return responses.EasyInputMessageRoleAssistant
	default:
		return responses.EasyInputMessageRoleUser
	}
}

func hasImage(m Message) bool {
	for _, c := range m.Content {
		if c.Type == ContentTypeImage {
			return true
		}
	}
	return false
}
