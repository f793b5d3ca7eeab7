// Package port — chat_port.go define a interface (port) para o provider
// de chat completions.
//
// Seguindo a arquitetura hexagonal, o ChatService depende dessa
// interface e NÃO do SDK concreto. Isso facilita testes e troca de
// provider.
package port

import (
	"context"

	chatdomain "github.com/vilaverde/lead-engine-go/internal/chat/domain"
)

// CompletionProvider executa um turno de chat completion com function
// calling opcional. A implementação concreta vive em chat/infra.
type CompletionProvider interface {
	Complete(ctx context.Context, req *chatdomain.CompletionRequest) (*chatdomain.CompletionResponse, error)
}
