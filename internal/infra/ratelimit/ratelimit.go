// Package ratelimit implementa um limitador sliding-window por chave
// (endereço do cliente). Usado na ingestão de mensagens do chat: cada
// IP tem um orçamento fixo de requests por janela; estourou, a request
// é recusada na hora — nunca enfileirada.
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow tracks request timestamps per key and allows at most
// `limit` requests inside the trailing `window`.
type SlidingWindow struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a sliding-window limiter. Call Stop when done to release
// the pruning goroutine.
func New(limit int, window time.Duration) *SlidingWindow {
	sw := &SlidingWindow{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	go sw.cleanup()
	return sw
}

// Stop encerra a goroutine de limpeza. Seguro chamar mais de uma vez;
// Allow/RetryAfter continuam funcionando depois (a poda inline no
// acesso à chave segue valendo).
func (sw *SlidingWindow) Stop() {
	sw.stopOnce.Do(func() { close(sw.stop) })
}

// Allow registra uma tentativa para a chave e informa se ela cabe no
// orçamento. A tentativa recusada NÃO conta contra a janela.
func (sw *SlidingWindow) Allow(key string) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	fresh := sw.prune(key, now)

	if len(fresh) >= sw.limit {
		return false
	}
	sw.hits[key] = append(fresh, now)
	return true
}

// RetryAfter estima em quantos segundos a chave volta a ter orçamento.
func (sw *SlidingWindow) RetryAfter(key string) int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	fresh := sw.prune(key, now)
	if len(fresh) < sw.limit {
		return 0
	}
	wait := fresh[0].Add(sw.window).Sub(now)
	secs := int(wait.Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}

// prune descarta timestamps fora da janela. Caller segura o lock.
func (sw *SlidingWindow) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-sw.window)
	old := sw.hits[key]
	fresh := old[:0]
	for _, ts := range old {
		if ts.After(cutoff) {
			fresh = append(fresh, ts)
		}
	}
	if len(fresh) == 0 {
		delete(sw.hits, key)
		return nil
	}
	sw.hits[key] = fresh
	return fresh
}

// cleanup drops idle keys so the map does not grow unbounded.
func (sw *SlidingWindow) cleanup() {
	ticker := time.NewTicker(sw.window)
	defer ticker.Stop()

	for {
		select {
		case <-sw.stop:
			return
		case <-ticker.C:
			sw.mu.Lock()
			now := sw.now()
			for key := range sw.hits {
				sw.prune(key, now)
			}
			sw.mu.Unlock()
		}
	}
}
