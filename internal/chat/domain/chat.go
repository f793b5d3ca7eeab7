// Package domain — chat.go define os tipos da rota POST /v1/chat.
//
// O chat é a segunda porta de captura de leads (a primeira é o wizard).
// O fluxo de cada mensagem:
//  1. Visitante manda a mensagem → engine acha/cria a conversa
//  2. Engine monta o transcript + system prompt e chama o modelo com as
//     tools de qualificação registradas (turno 1)
//  3. Modelo pede tools → engine executa e devolve os resultados
//  4. Engine chama o modelo de novo, agora sem tools (turno 2)
//  5. A resposta final volta pro visitante como uma string única
package domain

import (
	coredomain "github.com/vilaverde/lead-engine-go/internal/domain"
)

// ============================================================
// Chat — Request/Response entre o visitante e o engine
// ============================================================

// ChatRequest é o body do POST /v1/chat. ConversationID vazio abre uma
// conversa nova; os campos de visitante só são usados nesse caso.
type ChatRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
	VisitorName    string `json:"visitorName,omitempty"`
	VisitorEmail   string `json:"visitorEmail,omitempty"`
	VisitorPhone   string `json:"visitorPhone,omitempty"`
	PageURL        string `json:"pageUrl,omitempty"`
	Language       string `json:"language,omitempty"`
}

// ChatResponse devolve a resposta do assistente. LeadCaptured indica se
// a conversa já tem um lead persistido — o front usa isso para trocar o
// call-to-action.
type ChatResponse struct {
	ConversationID string `json:"conversationId"`
	Reply          string `json:"reply"`
	LeadCaptured   bool   `json:"leadCaptured"`
}

// ============================================================
// Chat — Request/Response entre o engine e o provider de completions
// ============================================================

// CompletionMessage é uma mensagem no formato neutro que o provider
// concreto traduz para o SDK dele.
type CompletionMessage struct {
	Role       coredomain.MessageRole `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []coredomain.ToolCall  `json:"toolCalls,omitempty"`
	ToolCallID string                 `json:"toolCallId,omitempty"`
}

// ToolDefinition descreve uma function tool exposta ao modelo.
// Parameters é um JSON Schema (type object).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// CompletionRequest é o que o engine manda pro provider num turno.
// Tools vazio significa turno de resposta final (sem function calling).
type CompletionRequest struct {
	Messages  []CompletionMessage `json:"messages"`
	Tools     []ToolDefinition    `json:"tools,omitempty"`
	MaxTokens int                 `json:"maxTokens,omitempty"`
}

// TokenUsage reporta o consumo de tokens de um turno.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// CompletionResponse é a resposta de um turno do modelo: ou texto, ou
// um lote de tool calls para o engine executar (ou ambos).
type CompletionResponse struct {
	Content   string                `json:"content"`
	ToolCalls []coredomain.ToolCall `json:"toolCalls,omitempty"`
	Usage     TokenUsage            `json:"usage"`
}
