// Package scoring implementa o motor de pontuação e classificação de
// leads. Tudo aqui é função pura de (respostas, config): sem I/O, sem
// aleatoriedade, sem dependência de transporte — o wizard e o chat
// chamam exatamente as mesmas funções.
package scoring

import "github.com/vilaverde/lead-engine-go/internal/domain"

// Breakdown é o detalhamento do score por bucket de categoria.
// Derivado, nunca armazenado separado das respostas que o produziram.
type Breakdown struct {
	Buckets map[string]int `json:"buckets"`
	Total   int            `json:"total"`
}

// questionWeight retorna o peso obtido por uma resposta a uma pergunta:
// select → peso da opção escolhida (0 se não casar); demais tipos →
// peso fixo de "respondeu" quando não vazia.
func questionWeight(q *domain.Question, answer string) int {
	if answer == "" {
		return 0
	}
	if q.Type == domain.QuestionSelect {
		return q.OptionWeight(answer)
	}
	return q.Weight
}

// Score computa o breakdown de um conjunto de respostas contra a config
// vigente. Question ids desconhecidos (custom answers) são ignorados —
// edições de config são retrocompatíveis com leads em andamento.
// Determinístico e estável sob reordenação do mapa de respostas.
func Score(answers map[string]string, cfg *domain.FormConfig) Breakdown {
	b := Breakdown{Buckets: make(map[string]int)}

	add := func(q *domain.Question) {
		w := questionWeight(q, answers[q.ID])
		if w == 0 {
			return
		}
		bucket := q.Category
		if bucket == "" {
			bucket = "general"
		}
		b.Buckets[bucket] += w
		b.Total += w
	}

	for i := range cfg.Questions {
		q := &cfg.Questions[i]
		add(q)
		// Conditional só pontua quando o trigger do pai está satisfeito.
		if cf := q.Conditional; cf != nil && answers[q.ID] == cf.ShowWhen {
			add(&cf.Question)
		}
	}
	return b
}

// MaxScore soma, por pergunta, o maior peso obtenível — opções de maior
// peso para selects, peso fixo para os demais tipos — incluindo
// conditional fields. É o valor que o servidor grava em cfg.MaxScore.
func MaxScore(cfg *domain.FormConfig) int {
	total := 0
	for i := range cfg.Questions {
		q := &cfg.Questions[i]
		total += q.MaxWeight()
		if q.Conditional != nil {
			total += q.Conditional.MaxWeight()
		}
	}
	return total
}

// Classify aplica os thresholds ao total. Limites inclusivos no tier
// mais alto: total == hot é HOT, não WARM.
func Classify(total int, t domain.Thresholds) domain.Classification {
	switch {
	case total >= t.Hot:
		return domain.ClassificationHot
	case total >= t.Warm:
		return domain.ClassificationWarm
	default:
		return domain.ClassificationCold
	}
}

// NextQuestion é a próxima pergunta a responder, com flag indicando se é
// um conditional field (e de quem).
type NextQuestion struct {
	Question    domain.Question `json:"question"`
	Conditional bool            `json:"conditional"`
	ParentID    string          `json:"parentId,omitempty"`
}

// Next varre as perguntas ordenadas e retorna a primeira obrigatória sem
// resposta. Se uma pergunta respondida dispara seu conditional e o
// conditional está vazio, o conditional é retornado no lugar — mesmo o
// pai estando "respondido". Um conditional disparado bloqueia a
// conclusão independente de Required: o trigger satisfeito é o que o
// torna pendente. Retorna nil quando toda pergunta obrigatória (e todo
// conditional disparado) tem resposta não vazia: esse nil é o ÚNICO
// sinal de conclusão do formulário.
func Next(answers map[string]string, cfg *domain.FormConfig) *NextQuestion {
	for _, q := range cfg.SortedQuestions() {
		answer := answers[q.ID]
		if answer == "" {
			if q.Required {
				return &NextQuestion{Question: q}
			}
			continue
		}
		cf := q.Conditional
		if cf != nil && answer == cf.ShowWhen && answers[cf.ID] == "" {
			return &NextQuestion{Question: cf.Question, Conditional: true, ParentID: q.ID}
		}
	}
	return nil
}

// IsComplete informa se o formulário está concluído (Next == nil).
func IsComplete(answers map[string]string, cfg *domain.FormConfig) bool {
	return Next(answers, cfg) == nil
}

// Progress conta perguntas respondidas e o total de perguntas
// atualmente respondíveis (perguntas top-level + conditionals cujo
// trigger está satisfeito). Alimenta os contadores que o tool
// save_lead_answer devolve ao modelo.
func Progress(answers map[string]string, cfg *domain.FormConfig) (answered, total int) {
	for i := range cfg.Questions {
		q := &cfg.Questions[i]
		total++
		if answers[q.ID] != "" {
			answered++
		}
		if cf := q.Conditional; cf != nil && answers[q.ID] == cf.ShowWhen {
			total++
			if answers[cf.ID] != "" {
				answered++
			}
		}
	}
	return answered, total
}
