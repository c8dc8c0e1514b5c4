package connection

import (
	"sync"
	"sync/atomic"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/packet"
)

type queueItem struct {
	message packet.Message
	sticky  bool
}

// Queue 有界出站队列。溢出时丢弃最旧的非粘性消息，粘性消息（控制消息、retained 主题的值）从不丢弃
type Queue struct {
	mu      sync.Mutex
	items   []queueItem
	limit   int
	dropped atomic.Uint64
}

func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 1
	}
	return &Queue{limit: limit}
}

// Push 入队并返回本次因溢出丢弃的消息数
func (q *Queue) Push(message packet.Message, sticky bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, queueItem{message: message, sticky: sticky})
	dropped := 0
	for len(q.items) > q.limit {
		i := q.oldestDroppable()
		if i < 0 {
			// 全部是粘性消息，允许暂时超出上限
			break
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		dropped++
	}
	if dropped > 0 {
		q.dropped.Add(uint64(dropped))
	}
	return dropped
}

func (q *Queue) oldestDroppable() int {
	for i, item := range q.items {
		if !item.sticky {
			return i
		}
	}
	return -1
}

// Drain 取出队列中的全部消息
func (q *Queue) Drain() []packet.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	messages := make([]packet.Message, len(q.items))
	for i, item := range q.items {
		messages[i] = item.message
	}
	q.items = q.items[:0]
	return messages
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped 返回累计丢弃的消息数
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
