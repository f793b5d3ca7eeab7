package domain

import "time"

// FAQ é uma pergunta frequente curada pelo operador, consultável pelo
// assistente via tool search_faqs.
type FAQ struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Category  string    `json:"category,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// KnowledgeArticle é um artigo da base de conhecimento (serviços,
// preços, políticas) consultável via tool search_knowledge_base.
type KnowledgeArticle struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// CRMContact é o contrato que o engine espera do gateway de CRM.
// O formato de fio do CRM concreto fica do lado de lá do gateway;
// aqui só viajam ids de campo (crmFieldMapping) e valores.
type CRMContact struct {
	ExternalRef    string            `json:"externalRef,omitempty"`
	Name           string            `json:"name,omitempty"`
	Email          string            `json:"email,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	Classification string            `json:"classification"`
	Score          int               `json:"score"`
	Fields         map[string]string `json:"fields,omitempty"`
	CustomAnswers  map[string]string `json:"customAnswers,omitempty"`
}
