// Package cache хранит в памяти короткоживущие запросы на обмен контактами.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExchangeRequest — запрос участника From раскрыть контакты участнику To.
type ExchangeRequest struct {
	ID        string
	From      int64
	To        int64
	ExpiresAt time.Time
}

// ExchangeStore управляет ожидающими запросами на обмен контактами
type ExchangeStore struct {
	items map[string]*ExchangeRequest
	mutex sync.Mutex
	now   func() time.Time
}

// NewExchangeStore создает новый экземпляр ExchangeStore
func NewExchangeStore() *ExchangeStore {
	return &ExchangeStore{
		items: make(map[string]*ExchangeRequest),
		now:   time.Now,
	}
}

// Put сохраняет новый запрос и возвращает его. Повторный запрос той же пары
// заменяет предыдущий.
func (s *ExchangeStore) Put(from, to int64, ttl time.Duration) ExchangeRequest {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for id, item := range s.items {
		if item.From == from && item.To == to {
			delete(s.items, id)
		}
	}
	req := &ExchangeRequest{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		ExpiresAt: s.now().Add(ttl),
	}
	s.items[req.ID] = req
	return *req
}

// Take извлекает и удаляет запрос, адресованный участнику to. Чужой,
// просроченный или неизвестный запрос не возвращается и остается нетронутым.
func (s *ExchangeStore) Take(id string, to int64) (ExchangeRequest, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	item, ok := s.items[id]
	if !ok || item.To != to {
		return ExchangeRequest{}, false
	}
	if s.now().After(item.ExpiresAt) {
		delete(s.items, id)
		return ExchangeRequest{}, false
	}
	delete(s.items, id)
	return *item, true
}

// Len возвращает число хранимых запросов, включая просроченные.
func (s *ExchangeStore) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.items)
}

// CleanupExpired удаляет просроченные запросы
func (s *ExchangeStore) CleanupExpired() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	for id, item := range s.items {
		if now.After(item.ExpiresAt) {
			delete(s.items, id)
		}
	}
}

// StartCleanupTicker запускает таймер для периодической очистки просроченных запросов
func (s *ExchangeStore) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired()
			}
		}
	}()
}
