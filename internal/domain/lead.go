// Package domain — lead.go define o agregado Lead.
//
// Um Lead é o registro persistido do progresso de qualificação de um
// visitante. Ele nasce de duas portas de entrada diferentes — o wizard
// multi-step (keyed por sessionId) e o chat com IA (keyed por
// conversationId) — mas as duas convergem no MESMO registro e nas mesmas
// regras de merge/rescore. Os dois identificadores nunca se misturam
// automaticamente: um Lead só tem sessionId E conversationId quando
// explicitamente vinculado.
package domain

import "time"

// LeadSource indica qual superfície criou o lead.
type LeadSource string

const (
	SourceForm LeadSource = "form"
	SourceChat LeadSource = "chat"
)

// CRMSyncStatus é o estado do sync best-effort com o CRM externo.
type CRMSyncStatus string

const (
	CRMUnsynced CRMSyncStatus = "unsynced"
	CRMSynced   CRMSyncStatus = "synced"
	CRMFailed   CRMSyncStatus = "failed"
)

// Lead é o agregado persistido de um prospect.
//
// Respostas de perguntas conhecidas são achatadas em colunas nomeadas
// (name, email, phone...); qualquer outro question id vai para
// CustomAnswers — preservado para export ao CRM, excluído do scoring.
type Lead struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"sessionId,omitempty"`
	ConversationID string     `json:"conversationId,omitempty"`
	Source         LeadSource `json:"source"`

	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	BusinessType  string `json:"businessType,omitempty"`
	Budget        string `json:"budget,omitempty"`
	MainChallenge string `json:"mainChallenge,omitempty"`

	CustomAnswers map[string]string `json:"customAnswers,omitempty"`

	QuestionNumber int            `json:"questionNumber"`
	FormCompleted  bool           `json:"formCompleto"`
	ScoreTotal     int            `json:"scoreTotal"`
	Classification Classification `json:"classification"`

	NotificationSent bool          `json:"notificacaoEnviada"`
	CRMContactRef    string        `json:"crmContactRef,omitempty"`
	CRMSyncStatus    CRMSyncStatus `json:"crmSyncStatus"`

	TotalTimeSeconds int       `json:"totalTimeSeconds,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// leadColumns mapeia question ids conhecidos para as colunas nomeadas do
// Lead. Ids fora desse mapa são "custom answers".
var leadColumns = map[string]struct {
	get func(l *Lead) string
	set func(l *Lead, v string)
}{
	"name":           {func(l *Lead) string { return l.Name }, func(l *Lead, v string) { l.Name = v }},
	"email":          {func(l *Lead) string { return l.Email }, func(l *Lead, v string) { l.Email = v }},
	"phone":          {func(l *Lead) string { return l.Phone }, func(l *Lead, v string) { l.Phone = v }},
	"business_type":  {func(l *Lead) string { return l.BusinessType }, func(l *Lead, v string) { l.BusinessType = v }},
	"budget":         {func(l *Lead) string { return l.Budget }, func(l *Lead, v string) { l.Budget = v }},
	"main_challenge": {func(l *Lead) string { return l.MainChallenge }, func(l *Lead, v string) { l.MainChallenge = v }},
}

// Answers achata colunas + custom answers num único mapa question-id →
// valor, o formato que o scoring engine consome. Valores vazios são
// omitidos.
func (l *Lead) Answers() map[string]string {
	out := make(map[string]string, len(leadColumns)+len(l.CustomAnswers))
	for id, col := range leadColumns {
		if v := col.get(l); v != "" {
			out[id] = v
		}
	}
	for id, v := range l.CustomAnswers {
		if v != "" {
			out[id] = v
		}
	}
	return out
}

// SetAnswer grava uma resposta no lead, roteando para a coluna nomeada
// quando o id é conhecido, senão para CustomAnswers. Valor vazio é
// ignorado: uma resposta já dada nunca é apagada por omissão (merge
// monotônico).
func (l *Lead) SetAnswer(questionID, value string) {
	if value == "" {
		return
	}
	if col, ok := leadColumns[questionID]; ok {
		col.set(l, value)
		return
	}
	if l.CustomAnswers == nil {
		l.CustomAnswers = make(map[string]string)
	}
	l.CustomAnswers[questionID] = value
}

// MergeAnswers aplica um lote de respostas (novos valores sobrescrevem,
// campos omitidos ficam intocados).
func (l *Lead) MergeAnswers(answers map[string]string) {
	for id, v := range answers {
		l.SetAnswer(id, v)
	}
}
