// Package domain — form.go define o modelo de configuração do formulário
// de qualificação de leads.
//
// A configuração é DADO, não código: o operador edita perguntas, pesos e
// thresholds pelo painel admin, e o engine valida/normaliza no load. Isso
// permite evoluir o formulário sem redeploy — leads antigos continuam
// pontuáveis porque o merge contra a config acontece somente na leitura.
package domain

import (
	"fmt"
	"sort"
)

// QuestionType é o tipo de entrada de uma pergunta do formulário.
type QuestionType string

const (
	QuestionText   QuestionType = "text"
	QuestionEmail  QuestionType = "email"
	QuestionTel    QuestionType = "tel"
	QuestionSelect QuestionType = "select"
)

// QuestionOption é uma opção de uma pergunta do tipo select.
// Weight é o peso somado ao score quando essa opção é a resposta.
type QuestionOption struct {
	Value  string `json:"value"`
	Label  string `json:"label"`
	Weight int    `json:"weight"`
}

// Question é uma pergunta do formulário de qualificação.
//
// O ID é estável entre edições da config — ele é a chave do mapa de
// respostas e do mapeamento de campos do CRM. Reordenar perguntas muda
// só o Order, nunca o ID.
type Question struct {
	ID       string           `json:"id"`
	Order    int              `json:"order"`
	Title    string           `json:"title"`
	Type     QuestionType     `json:"type"`
	Category string           `json:"category"`
	Required bool             `json:"required"`
	Weight   int              `json:"weight,omitempty"`
	Options  []QuestionOption `json:"options,omitempty"`

	// Conditional é a pergunta de follow-up exibida somente quando a
	// resposta desta pergunta for igual ao ShowWhen do conditional.
	Conditional *ConditionalField `json:"conditionalField,omitempty"`

	// CRMField é o identificador opaco do campo correspondente no CRM
	// externo. Vazio = a resposta não é exportada como campo dedicado.
	CRMField string `json:"crmFieldMapping,omitempty"`
}

// ConditionalField é uma pergunta condicional aninhada. Ela só se torna
// "pendente" quando a resposta da pergunta pai é igual a ShowWhen.
type ConditionalField struct {
	Question
	ShowWhen string `json:"showWhen"`
}

// MaxWeight retorna o maior peso obtenível nessa pergunta.
// select → maior peso entre as opções; demais tipos → Weight fixo
// de "respondeu".
func (q *Question) MaxWeight() int {
	if q.Type != QuestionSelect {
		return q.Weight
	}
	max := 0
	for _, opt := range q.Options {
		if opt.Weight > max {
			max = opt.Weight
		}
	}
	return max
}

// OptionWeight retorna o peso da opção cujo value casa com a resposta.
// Resposta sem opção correspondente vale 0.
func (q *Question) OptionWeight(answer string) int {
	for _, opt := range q.Options {
		if opt.Value == answer {
			return opt.Weight
		}
	}
	return 0
}

// Thresholds são os cortes de classificação. Limites são inclusivos no
// tier mais alto: total == Hot classifica como HOT.
type Thresholds struct {
	Hot  int `json:"hot"`
	Warm int `json:"warm"`
}

// FormConfig é a configuração completa do formulário de qualificação.
//
// MaxScore NUNCA é editado à mão: o servidor recomputa no PUT da config
// somando o peso máximo de cada pergunta (condicionais incluídas).
type FormConfig struct {
	Questions  []Question `json:"questions"`
	Thresholds Thresholds `json:"thresholds"`
	MaxScore   int        `json:"maxScore"`
}

// SortedQuestions retorna uma cópia das perguntas ordenada por Order.
// A ordem define a sequência de apresentação e de conclusão do wizard.
func (c *FormConfig) SortedQuestions() []Question {
	qs := make([]Question, len(c.Questions))
	copy(qs, c.Questions)
	sort.SliceStable(qs, func(i, j int) bool {
		return qs[i].Order < qs[j].Order
	})
	return qs
}

// QuestionByID procura uma pergunta (ou condicional) pelo id.
// O segundo retorno indica se o id pertence a um conditional field.
func (c *FormConfig) QuestionByID(id string) (*Question, bool) {
	for i := range c.Questions {
		if c.Questions[i].ID == id {
			return &c.Questions[i], false
		}
		if cf := c.Questions[i].Conditional; cf != nil && cf.ID == id {
			return &cf.Question, true
		}
	}
	return nil, false
}

// Validate verifica os invariantes estruturais da config:
// ids únicos (condicionais incluídos), tipos conhecidos, select com
// opções, thresholds coerentes.
func (c *FormConfig) Validate() error {
	if len(c.Questions) == 0 {
		return &ErrValidation{Field: "questions", Message: "config must have at least one question"}
	}

	seen := make(map[string]bool)
	checkQuestion := func(q *Question, conditional bool) error {
		if q.ID == "" {
			return &ErrValidation{Field: "questions", Message: "question id must not be empty"}
		}
		if seen[q.ID] {
			return &ErrValidation{Field: "questions", Message: fmt.Sprintf("duplicate question id: %s", q.ID)}
		}
		seen[q.ID] = true

		switch q.Type {
		case QuestionText, QuestionEmail, QuestionTel:
			// fixed completion weight, options ignored
		case QuestionSelect:
			if len(q.Options) == 0 {
				return &ErrValidation{Field: q.ID, Message: "select question must have options"}
			}
		default:
			return &ErrValidation{Field: q.ID, Message: fmt.Sprintf("unknown question type: %s", q.Type)}
		}

		if conditional && q.Conditional != nil {
			return &ErrValidation{Field: q.ID, Message: "conditional fields cannot nest further conditionals"}
		}
		return nil
	}

	for i := range c.Questions {
		q := &c.Questions[i]
		if err := checkQuestion(q, false); err != nil {
			return err
		}
		if q.Conditional != nil {
			if q.Conditional.ShowWhen == "" {
				return &ErrValidation{Field: q.ID, Message: "conditional field requires showWhen trigger"}
			}
			if err := checkQuestion(&q.Conditional.Question, true); err != nil {
				return err
			}
		}
	}

	if c.Thresholds.Warm < 0 || c.Thresholds.Hot < c.Thresholds.Warm {
		return &ErrValidation{Field: "thresholds", Message: "thresholds must satisfy hot >= warm >= 0"}
	}
	return nil
}

// Classification é o resultado de qualificação em três níveis.
type Classification string

const (
	ClassificationHot  Classification = "HOT"
	ClassificationWarm Classification = "WARM"
	ClassificationCold Classification = "COLD"
)
