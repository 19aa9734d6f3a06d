package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeStore(t *testing.T) {
	t.Run("Запись и извлечение запроса", func(t *testing.T) {
		s := NewExchangeStore()
		req := s.Put(1, 2, time.Minute)

		_, err := uuid.Parse(req.ID)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Minute), req.ExpiresAt, time.Second)

		got, ok := s.Take(req.ID, 2)
		require.True(t, ok)
		assert.Equal(t, req, got)

		_, ok = s.Take(req.ID, 2)
		assert.False(t, ok, "запрос извлекается только один раз")
	})

	t.Run("Чужой запрос не извлекается", func(t *testing.T) {
		s := NewExchangeStore()
		req := s.Put(1, 2, time.Minute)

		_, ok := s.Take(req.ID, 3)
		assert.False(t, ok)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("Неизвестный запрос", func(t *testing.T) {
		s := NewExchangeStore()
		_, ok := s.Take("missing", 2)
		assert.False(t, ok)
	})

	t.Run("Просроченный запрос", func(t *testing.T) {
		s := NewExchangeStore()
		req := s.Put(1, 2, -time.Second)

		_, ok := s.Take(req.ID, 2)
		assert.False(t, ok)
		assert.Zero(t, s.Len())
	})

	t.Run("Повторный запрос заменяет предыдущий", func(t *testing.T) {
		s := NewExchangeStore()
		first := s.Put(1, 2, time.Minute)
		second := s.Put(1, 2, time.Minute)
		s.Put(2, 1, time.Minute)

		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, 2, s.Len())
		_, ok := s.Take(first.ID, 2)
		assert.False(t, ok)
		_, ok = s.Take(second.ID, 2)
		assert.True(t, ok)
	})
}

func TestExchangeStore_CleanupExpired(t *testing.T) {
	s := NewExchangeStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Put(1, 2, time.Minute)
	keep := s.Put(3, 4, time.Hour)

	now = now.Add(10 * time.Minute)
	s.CleanupExpired()

	assert.Equal(t, 1, s.Len())
	_, ok := s.Take(keep.ID, 4)
	assert.True(t, ok)
}

func TestExchangeStore_StartCleanupTicker(t *testing.T) {
	s := NewExchangeStore()
	s.Put(1, 2, -time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartCleanupTicker(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestExchangeStore_Concurrency(t *testing.T) {
	s := NewExchangeStore()
	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			req := s.Put(i, i+1000, time.Minute)
			_, ok := s.Take(req.ID, i+1000)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, s.Len())
}
