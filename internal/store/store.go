// Package store 保存每个主题的最新值及其序列号
package store

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/topic"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/value"
)

var ErrTypeMismatch = errors.New("value type mismatch")

// Record 一次成功发布的结果，发布后不可变
type Record struct {
	TopicID   int32
	Value     value.Value
	Sequence  uint64
	Timestamp int64
}

// slot 每个主题一个，写入者在 mu 上串行，读取者只读原子指针
type slot struct {
	mu       sync.Mutex
	sequence uint64
	latest   atomic.Pointer[Record]
}

type Store struct {
	mu    sync.RWMutex
	slots map[int32]*slot
}

func New() *Store {
	return &Store{slots: make(map[int32]*slot)}
}

func (s *Store) slotFor(id int32) *slot {
	s.mu.RLock()
	sl, ok := s.slots[id]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[id]; !ok {
		sl = &slot{}
		s.slots[id] = sl
	}
	return sl
}

// Publish 校验值类型并分配下一个序列号
func (s *Store) Publish(t topic.Topic, v value.Value, timestamp int64) (Record, error) {
	if !v.IsValid() {
		return Record{}, fmt.Errorf("topic %s: %w", t.Name, value.ErrInvalidValue)
	}
	if v.Type() != t.Type {
		return Record{}, fmt.Errorf("%w: topic %s is %s, got %s", ErrTypeMismatch, t.Name, t.Type, v.Type())
	}

	sl := s.slotFor(t.ID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.sequence++
	record := &Record{
		TopicID:   t.ID,
		Value:     v,
		Sequence:  sl.sequence,
		Timestamp: timestamp,
	}
	sl.latest.Store(record)
	return *record, nil
}

// Latest 返回主题的最新记录，从未发布过时返回 false
func (s *Store) Latest(id int32) (Record, bool) {
	s.mu.RLock()
	sl, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	record := sl.latest.Load()
	if record == nil {
		return Record{}, false
	}
	return *record, true
}

// Remove 丢弃主题的值，主题删除时调用
func (s *Store) Remove(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, id)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = make(map[int32]*slot)
}
