// Package infra — openai.go implementa o CompletionProvider concreto em
// cima do SDK oficial da OpenAI (chat completions + function calling).
package infra

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	chatdomain "github.com/vilaverde/lead-engine-go/internal/chat/domain"
	coredomain "github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/infra/resilience"
)

var tracer = otel.Tracer("chat/infra")

// OpenAIProvider chama a API de chat completions da OpenAI.
type OpenAIProvider struct {
	client   openai.Client
	model    string
	bulkhead *resilience.Bulkhead
	logger   *zap.Logger
}

// NewOpenAIProvider cria o provider. O bulkhead limita turnos
// concorrentes para não estourar o rate limit da API.
func NewOpenAIProvider(apiKey, model string, bulkhead *resilience.Bulkhead, logger *zap.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		client:   openai.NewClient(option.WithAPIKey(apiKey)),
		model:    model,
		bulkhead: bulkhead,
		logger:   logger,
	}
}

// Complete executa um turno de chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req *chatdomain.CompletionRequest) (*chatdomain.CompletionResponse, error) {
	ctx, span := tracer.Start(ctx, "OpenAI.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.Int("chat.messages", len(req.Messages)),
		attribute.Int("chat.tools", len(req.Tools)),
	)

	if err := p.bulkhead.Acquire(ctx); err != nil {
		return nil, &coredomain.ErrExternalService{Service: "openai", Err: err}
	}
	defer p.bulkhead.Release()

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: toMessageParams(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  shared.FunctionParameters(t.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		p.logger.Error("openai completion failed", zap.Error(err))
		return nil, &coredomain.ErrExternalService{Service: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &coredomain.ErrExternalService{Service: "openai", Err: fmt.Errorf("empty choices in completion response")}
	}

	msg := resp.Choices[0].Message
	out := &chatdomain.CompletionResponse{
		Content: msg.Content,
		Usage: chatdomain.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, coredomain.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out, nil
}

// toMessageParams traduz o transcript neutro para as unions do SDK.
func toMessageParams(messages []chatdomain.CompletionMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case coredomain.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case coredomain.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case coredomain.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, call := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case coredomain.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}
