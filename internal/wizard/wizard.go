// Package wizard implementa o estado local do formulário multi-step —
// o espelho Go do contrato que o browser mantém. Cada tecla agenda um
// autosave com debounce; avançar de step cancela o save pendente e
// grava na hora, garantindo que uma resposta velha nunca sobrescreva o
// progresso depois que o usuário já seguiu em frente. O sync remoto é
// fire-and-forget: falhou, PendingSync continua true e as respostas
// locais ficam preservadas para retomada.
package wizard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vilaverde/lead-engine-go/internal/service"
)

const (
	// DefaultDebounce é o intervalo entre a última tecla e o autosave.
	DefaultDebounce = 750 * time.Millisecond

	// DefaultExpiry é a idade máxima de um estado local. Estado mais
	// velho é descartado inteiro — nunca mesclado com uma sessão nova.
	DefaultExpiry = 24 * time.Hour
)

// State é o snapshot persistido localmente entre reloads.
type State struct {
	SessionID        string            `json:"sessionId"`
	Answers          map[string]string `json:"answers"`
	CurrentStep      int               `json:"currentStep"`
	LastAnsweredStep int               `json:"lastAnsweredStep"`
	StartedAt        time.Time         `json:"startedAt"`
	LastUpdatedAt    time.Time         `json:"lastUpdatedAt"`
	PendingSync      bool              `json:"pendingSync"`
	SelectedCountry  string            `json:"selectedCountry,omitempty"`
}

// Storage é o KV local pluggável (localStorage no browser, arquivo ou
// memória aqui). Load devolve (nil, nil) quando não há estado salvo.
type Storage interface {
	Load(sessionID string) (*State, error)
	Save(sessionID string, state *State) error
	Delete(sessionID string) error
}

// Syncer envia o progresso para o servidor. É o mesmo contrato de
// upsert do endpoint de progresso; a implementação real faz o POST.
type Syncer interface {
	SaveProgress(ctx context.Context, payload *service.ProgressPayload) error
}

// Options ajusta debounce e expiry. Zero values usam os defaults.
type Options struct {
	Debounce time.Duration
	Expiry   time.Duration
}

// Wizard é a máquina de estado do cliente. Os métodos são seguros para
// uso concorrente, embora no browser tudo rode no event loop.
type Wizard struct {
	mu      sync.Mutex
	state   *State
	storage Storage
	syncer  Syncer
	logger  *zap.Logger

	debounce time.Duration
	expiry   time.Duration
	timer    *time.Timer
}

// New abre (ou cria) o estado da sessão. Estado expirado é descartado e
// uma sessão nova começa do zero, com outro sessionId.
func New(sessionID string, storage Storage, syncer Syncer, opts Options, logger *zap.Logger) (*Wizard, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}

	w := &Wizard{
		storage:  storage,
		syncer:   syncer,
		logger:   logger,
		debounce: opts.Debounce,
		expiry:   opts.Expiry,
	}

	stored, err := storage.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if stored != nil && time.Since(stored.LastUpdatedAt) <= opts.Expiry {
		w.state = stored
		return w, nil
	}
	if stored != nil {
		// Expirou: some inteiro, inclusive o sessionId antigo.
		if err := storage.Delete(sessionID); err != nil {
			logger.Warn("wizard: failed to drop expired state", zap.Error(err))
		}
		sessionID = uuid.NewString()
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := time.Now().UTC()
	w.state = &State{
		SessionID:     sessionID,
		Answers:       make(map[string]string),
		CurrentStep:   1,
		StartedAt:     now,
		LastUpdatedAt: now,
	}
	return w, nil
}

// SessionID retorna o id da sessão ativa.
func (w *Wizard) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.SessionID
}

// Snapshot retorna uma cópia do estado atual.
func (w *Wizard) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *w.state
	cp.Answers = make(map[string]string, len(w.state.Answers))
	for k, v := range w.state.Answers {
		cp.Answers[k] = v
	}
	return cp
}

// SetAnswer grava a resposta localmente e agenda o autosave. Cada
// chamada reinicia o debounce; só a versão final da resposta sobe.
func (w *Wizard) SetAnswer(questionID, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.state.Answers[questionID] = value
	w.state.LastUpdatedAt = time.Now().UTC()
	w.state.PendingSync = true

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.flushLocked()
	})
}

// SetCountry registra o país selecionado (afeta máscara de telefone no
// browser; aqui é só estado carregado junto).
func (w *Wizard) SetCountry(country string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.SelectedCountry = country
	w.state.LastUpdatedAt = time.Now().UTC()
}

// Advance fecha o step atual e vai para o próximo. Qualquer autosave
// pendente é cancelado e o estado sobe imediatamente — a ordenação
// explícita que o cliente precisa garantir.
func (w *Wizard) Advance() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.state.LastAnsweredStep = w.state.CurrentStep
	w.state.CurrentStep++
	w.state.LastUpdatedAt = time.Now().UTC()
	w.state.PendingSync = true
	w.flushLocked()
}

// Flush força o autosave pendente (usado ao fechar a página).
func (w *Wizard) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.flushLocked()
}

// Discard apaga o estado local inteiro (fechamento explícito).
func (w *Wizard) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	return w.storage.Delete(w.state.SessionID)
}

// flushLocked persiste localmente e dispara o sync remoto. Caller
// segura o lock.
func (w *Wizard) flushLocked() {
	if err := w.storage.Save(w.state.SessionID, w.state); err != nil {
		w.logger.Warn("wizard: local save failed", zap.Error(err))
	}

	payload := &service.ProgressPayload{
		SessionID:      w.state.SessionID,
		QuestionNumber: w.state.LastAnsweredStep,
		Answers:        make(map[string]string, len(w.state.Answers)),
	}
	for k, v := range w.state.Answers {
		payload.Answers[k] = v
	}
	if !w.state.StartedAt.IsZero() {
		payload.TotalTimeSeconds = int(time.Since(w.state.StartedAt).Seconds())
	}

	// Fire-and-forget: a UI nunca bloqueia esperando o servidor. Sucesso
	// limpa PendingSync; falha mantém true e as respostas locais intactas.
	// O stamp evita limpar o flag se outra resposta chegou no meio tempo.
	stamp := w.state.LastUpdatedAt
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := w.syncer.SaveProgress(ctx, payload); err != nil {
			w.logger.Warn("wizard: sync failed, keeping local state",
				zap.String("session_id", payload.SessionID),
				zap.Error(err),
			)
			return
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if !w.state.LastUpdatedAt.Equal(stamp) {
			return
		}
		w.state.PendingSync = false
		if err := w.storage.Save(w.state.SessionID, w.state); err != nil {
			w.logger.Warn("wizard: local save failed", zap.Error(err))
		}
	}()
}

// ============================================================
// In-memory storage (tests and headless use)
// ============================================================

// MemoryStorage guarda estados em memória, um por sessão.
type MemoryStorage struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{states: make(map[string]State)}
}

func (m *MemoryStorage) Load(sessionID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[sessionID]; ok {
		cp := s
		cp.Answers = copyAnswers(s.Answers)
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStorage) Save(sessionID string, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	cp.Answers = copyAnswers(state.Answers)
	m.states[sessionID] = cp
	return nil
}

func copyAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *MemoryStorage) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}
