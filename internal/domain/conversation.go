// Package domain — conversation.go define os tipos do chat com IA:
// a conversa, o transcript de mensagens e as invocações de tool.
package domain

import "time"

// ConversationStatus é o estado administrativo de uma conversa.
type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation é uma thread de chat de um visitante. Quando o modelo
// captura dados de qualificação, a conversa aponta para o Lead criado
// (LeadID) — lookup sempre por ConversationID, nunca por session.
type Conversation struct {
	ID           string             `json:"id"`
	VisitorName  string             `json:"visitorName,omitempty"`
	VisitorEmail string             `json:"visitorEmail,omitempty"`
	VisitorPhone string             `json:"visitorPhone,omitempty"`
	PageURL      string             `json:"pageUrl,omitempty"`
	Language     string             `json:"language,omitempty"`
	Status       ConversationStatus `json:"status"`
	LeadID       string             `json:"leadId,omitempty"`
	MessageCount int                `json:"messageCount"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// MessageRole segue o vocabulário do provider de completions.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ToolCall é uma invocação de tool pedida pelo modelo no turno 1.
// Arguments é o JSON cru enviado pelo provider.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message é uma entrada do transcript. Mensagens de assistant podem
// carregar ToolCalls; mensagens de tool carregam o ToolCallID que estão
// respondendo.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	ToolCalls      []ToolCall  `json:"toolCalls,omitempty"`
	ToolCallID     string      `json:"toolCallId,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}
