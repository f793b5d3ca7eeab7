// Package cache é um cache TTL em memória. Hoje ele guarda apenas a
// form config (uma chave, lida a cada request do wizard e a cada turno
// do chat); a interface em port.Cache deixa a porta aberta para Redis
// sem tocar nos services.
package cache

import (
	"sync"
	"time"
)

type item[T any] struct {
	value    T
	deadline time.Time
}

func (it item[T]) expired(now time.Time) bool {
	return now.After(it.deadline)
}

// InMemory is a thread-safe in-memory cache with a fixed TTL per entry.
type InMemory[T any] struct {
	mu    sync.RWMutex
	items map[string]item[T]
	ttl   time.Duration
}

// New creates the cache and starts its janitor goroutine.
func New[T any](ttl time.Duration) *InMemory[T] {
	c := &InMemory[T]{
		items: make(map[string]item[T]),
		ttl:   ttl,
	}
	go c.janitor()
	return c
}

// Get retorna o valor da chave; entrada expirada conta como miss (o
// janitor remove depois).
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || it.expired(time.Now()) {
		var zero T
		return zero, false
	}
	return it.value, true
}

// Set grava o valor com o TTL configurado.
func (c *InMemory[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = item[T]{value: value, deadline: time.Now().Add(c.ttl)}
}

// Delete invalida a chave (usado quando a config é reescrita).
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Len retorna o número de entradas, expiradas incluídas até a próxima
// passada do janitor. Usado em testes.
func (c *InMemory[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *InMemory[T]) janitor() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for k, it := range c.items {
			if it.expired(now) {
				delete(c.items, k)
			}
		}
		c.mu.Unlock()
	}
}
