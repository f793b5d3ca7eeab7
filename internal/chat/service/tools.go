package service

import (
	"context"
	"encoding/json"
	"errors"

	chatdomain "github.com/vilaverde/lead-engine-go/internal/chat/domain"
	coredomain "github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/scoring"
)

// ============================================================
// Tools de qualificação expostas ao modelo
// ============================================================
//
// O contrato das tools é estável: nomes, argumentos e formato de
// resultado não mudam entre turnos. Tool desabilitada continua
// registrada e responde um resultado estruturado de indisponível — o
// modelo fica sabendo em vez de alucinar.

const searchLimit = 5

var errToolDisabled = json.RawMessage(`{"error":"tool_disabled","message":"esta ferramenta está desativada no momento"}`)

// toolHandler executa uma tool call do modelo. O retorno vira o content
// da tool message do turno seguinte.
type toolHandler func(ctx context.Context, conversationID string, args json.RawMessage) (any, error)

type registeredTool struct {
	def     chatdomain.ToolDefinition
	enabled bool
	run     toolHandler
}

func (s *ChatService) buildTools() []registeredTool {
	return []registeredTool{
		{
			def: chatdomain.ToolDefinition{
				Name:        "get_form_config",
				Description: "Retorna as perguntas de qualificação ativas, na ordem em que devem ser feitas.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			enabled: true,
			run:     s.toolGetFormConfig,
		},
		{
			def: chatdomain.ToolDefinition{
				Name:        "get_lead_state",
				Description: "Retorna o estado atual do lead desta conversa: respostas já coletadas, progresso e próxima pergunta.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			enabled: true,
			run:     s.toolGetLeadState,
		},
		{
			def: chatdomain.ToolDefinition{
				Name:        "save_lead_answer",
				Description: "Salva a resposta do visitante para uma pergunta de qualificação e retorna o estado atualizado do lead.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"questionId": map[string]any{
							"type":        "string",
							"description": "O id da pergunta respondida (ex: name, budget).",
						},
						"value": map[string]any{
							"type":        "string",
							"description": "A resposta do visitante. Para perguntas de seleção, use o value da opção.",
						},
					},
					"required": []string{"questionId", "value"},
				},
			},
			enabled: true,
			run:     s.toolSaveLeadAnswer,
		},
		{
			def: chatdomain.ToolDefinition{
				Name:        "complete_lead",
				Description: "Finaliza a qualificação do lead desta conversa quando todas as perguntas obrigatórias foram respondidas.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			enabled: true,
			run:     s.toolCompleteLead,
		},
		{
			def: chatdomain.ToolDefinition{
				Name:        "search_faqs",
				Description: "Busca perguntas frequentes sobre a Vila Verde para responder dúvidas do visitante.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "Termo de busca em linguagem natural. Vazio lista as FAQs ativas mais recentes.",
						},
					},
				},
			},
			enabled: s.enableFAQ,
			run:     s.toolSearchFAQs,
		},
		{
			def: chatdomain.ToolDefinition{
				Name:        "search_knowledge_base",
				Description: "Busca artigos da base de conhecimento (serviços, preços, políticas).",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "Termo de busca em linguagem natural. Vazio lista os artigos ativos mais recentes.",
						},
					},
				},
			},
			enabled: s.enableKnowledge,
			run:     s.toolSearchKnowledgeBase,
		},
	}
}

// leadState é o formato estável devolvido por get_lead_state,
// save_lead_answer e complete_lead.
type leadState struct {
	Answers           map[string]string `json:"answers"`
	Score             int               `json:"score"`
	Classification    string            `json:"classification"`
	FormCompleted     bool              `json:"formCompleted"`
	AnsweredQuestions int               `json:"answeredQuestions"`
	TotalQuestions    int               `json:"totalQuestions"`
	NextQuestion      *nextQuestion     `json:"nextQuestion,omitempty"`

	// CRMContactRef é a referência opaca do contato no CRM; preenchida
	// quando o sync já aconteceu (tipicamente após complete_lead).
	CRMContactRef string `json:"crmContactRef,omitempty"`
}

type nextQuestion struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Type    string   `json:"type"`
	Options []string `json:"options,omitempty"`
}

func toNextQuestion(next *scoring.NextQuestion) *nextQuestion {
	if next == nil {
		return nil
	}
	out := &nextQuestion{
		ID:    next.Question.ID,
		Title: next.Question.Title,
		Type:  string(next.Question.Type),
	}
	for _, opt := range next.Question.Options {
		out.Options = append(out.Options, opt.Value)
	}
	return out
}

func (s *ChatService) toolGetFormConfig(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
	cfg, err := s.formConfig.Get(ctx)
	if err != nil {
		return nil, err
	}

	type option struct {
		Value string `json:"value"`
		Label string `json:"label"`
	}
	type conditional struct {
		ID       string   `json:"id"`
		Title    string   `json:"title"`
		Type     string   `json:"type"`
		ShowWhen string   `json:"showWhen"`
		Options  []option `json:"options,omitempty"`
	}
	type question struct {
		ID          string       `json:"id"`
		Title       string       `json:"title"`
		Type        string       `json:"type"`
		Required    bool         `json:"required"`
		Options     []option     `json:"options,omitempty"`
		Conditional *conditional `json:"conditionalField,omitempty"`
	}

	questions := make([]question, 0, len(cfg.Questions))
	for _, q := range cfg.SortedQuestions() {
		out := question{ID: q.ID, Title: q.Title, Type: string(q.Type), Required: q.Required}
		for _, opt := range q.Options {
			out.Options = append(out.Options, option{Value: opt.Value, Label: opt.Label})
		}
		// O conditional é uma unidade respondível própria: sem ele aqui
		// o modelo não teria como perguntar o follow-up.
		if cf := q.Conditional; cf != nil {
			nested := &conditional{ID: cf.ID, Title: cf.Title, Type: string(cf.Type), ShowWhen: cf.ShowWhen}
			for _, opt := range cf.Options {
				nested.Options = append(nested.Options, option{Value: opt.Value, Label: opt.Label})
			}
			out.Conditional = nested
		}
		questions = append(questions, out)
	}

	return map[string]any{
		"questions": questions,
		"thresholds": map[string]int{
			"hot":  cfg.Thresholds.Hot,
			"warm": cfg.Thresholds.Warm,
		},
	}, nil
}

func (s *ChatService) leadStateFor(ctx context.Context, conversationID string) (*leadState, error) {
	cfg, err := s.formConfig.Get(ctx)
	if err != nil {
		return nil, err
	}

	lead, err := s.leads.GetLeadByConversation(ctx, conversationID)
	if err != nil {
		var notFound *coredomain.ErrNotFound
		if errors.As(err, &notFound) {
			// Conversa ainda sem lead: estado vazio, com a primeira
			// pergunta como próxima.
			answered, total := scoring.Progress(nil, cfg)
			return &leadState{
				Answers:           map[string]string{},
				Classification:    string(coredomain.ClassificationCold),
				AnsweredQuestions: answered,
				TotalQuestions:    total,
				NextQuestion:      toNextQuestion(scoring.Next(nil, cfg)),
			}, nil
		}
		return nil, err
	}

	answers := lead.Answers()
	answered, total := scoring.Progress(answers, cfg)
	return &leadState{
		Answers:           answers,
		Score:             lead.ScoreTotal,
		Classification:    string(lead.Classification),
		FormCompleted:     lead.FormCompleted,
		AnsweredQuestions: answered,
		TotalQuestions:    total,
		NextQuestion:      toNextQuestion(scoring.Next(answers, cfg)),
		CRMContactRef:     lead.CRMContactRef,
	}, nil
}

func (s *ChatService) toolGetLeadState(ctx context.Context, conversationID string, _ json.RawMessage) (any, error) {
	return s.leadStateFor(ctx, conversationID)
}

func (s *ChatService) toolSaveLeadAnswer(ctx context.Context, conversationID string, args json.RawMessage) (any, error) {
	var in struct {
		QuestionID string `json:"questionId"`
		Value      string `json:"value"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, &coredomain.ErrValidation{Field: "arguments", Message: "invalid JSON arguments"}
	}
	if in.QuestionID == "" || in.Value == "" {
		return nil, &coredomain.ErrValidation{Field: "questionId", Message: "questionId and value are required"}
	}

	result, err := s.progress.UpsertByConversation(ctx, conversationID, map[string]string{in.QuestionID: in.Value})
	if err != nil {
		return nil, err
	}

	return &leadState{
		Answers:           result.Lead.Answers(),
		Score:             result.Lead.ScoreTotal,
		Classification:    string(result.Lead.Classification),
		FormCompleted:     result.Lead.FormCompleted,
		AnsweredQuestions: result.Answered,
		TotalQuestions:    result.Total,
		NextQuestion:      toNextQuestion(result.Next),
	}, nil
}

func (s *ChatService) toolCompleteLead(ctx context.Context, conversationID string, _ json.RawMessage) (any, error) {
	result, err := s.progress.CompleteByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return &leadState{
		Answers:           result.Lead.Answers(),
		Score:             result.Lead.ScoreTotal,
		Classification:    string(result.Lead.Classification),
		FormCompleted:     result.Lead.FormCompleted,
		AnsweredQuestions: result.Answered,
		TotalQuestions:    result.Total,
		CRMContactRef:     result.Lead.CRMContactRef,
	}, nil
}

func (s *ChatService) toolSearchFAQs(ctx context.Context, _ string, args json.RawMessage) (any, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, &coredomain.ErrValidation{Field: "arguments", Message: "invalid JSON arguments"}
	}

	faqs, err := s.knowledge.SearchFAQs(ctx, in.Query, searchLimit)
	if err != nil {
		return nil, err
	}

	type faq struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	out := make([]faq, 0, len(faqs))
	for _, f := range faqs {
		out = append(out, faq{Question: f.Question, Answer: f.Answer})
	}
	return map[string]any{"results": out}, nil
}

func (s *ChatService) toolSearchKnowledgeBase(ctx context.Context, _ string, args json.RawMessage) (any, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, &coredomain.ErrValidation{Field: "arguments", Message: "invalid JSON arguments"}
	}

	articles, err := s.knowledge.SearchArticles(ctx, in.Query, searchLimit)
	if err != nil {
		return nil, err
	}

	type article struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	out := make([]article, 0, len(articles))
	for _, a := range articles {
		out = append(out, article{Title: a.Title, Content: a.Content})
	}
	return map[string]any{"results": out}, nil
}
