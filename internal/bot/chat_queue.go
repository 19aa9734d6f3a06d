package bot

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// chatQueue — потокобезопасная очередь обновлений, разложенных по чатам.
// Обновления одного чата обрабатываются строго по порядку одним обработчиком,
// разные чаты обрабатываются параллельно.
type chatQueue struct {
	mu    sync.Mutex
	chats map[int64][]tgbotapi.Update // map[chatID]очередь; ключ есть, пока работает обработчик
}

func newChatQueue() *chatQueue {
	return &chatQueue{
		chats: make(map[int64][]tgbotapi.Update),
	}
}

// Push ставит обновление в очередь чата. Возвращает true, если для чата
// нужно запустить новый обработчик.
func (q *chatQueue) Push(chatID int64, update tgbotapi.Update) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending, running := q.chats[chatID]
	q.chats[chatID] = append(pending, update)
	return !running
}

// Next извлекает следующее обновление чата. Когда очередь пуста, чат
// удаляется и возвращается false: обработчик должен завершиться.
func (q *chatQueue) Next(chatID int64) (tgbotapi.Update, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.chats[chatID]
	if len(pending) == 0 {
		delete(q.chats, chatID)
		return tgbotapi.Update{}, false
	}
	q.chats[chatID] = pending[1:]
	return pending[0], true
}

// Len возвращает число чатов с активным обработчиком.
func (q *chatQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chats)
}
