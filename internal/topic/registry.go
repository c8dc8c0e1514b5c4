package topic

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/value"
)

type EventKind int

const (
	Created EventKind = iota
	Deleted
	PropertiesChanged
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	case PropertiesChanged:
		return "properties"
	}
	return "unknown"
}

// Event 主题结构变化事件
type Event struct {
	Kind   EventKind
	Topic  Topic
	Update map[string]any // 仅 PropertiesChanged 时有值
}

// Registry 主题注册表。同一会话内名称唯一确定 ID，ID 永不复用
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*Topic
	byID      map[int32]*Topic
	nextID    int32
	listeners []func(Event)
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Topic),
		byID:   make(map[int32]*Topic),
		nextID: 1,
	}
}

// OnEvent 注册事件监听器，监听器在注册表锁释放后同步调用
func (r *Registry) OnEvent(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) emit(ev Event) {
	r.mu.RLock()
	listeners := slices.Clone(r.listeners)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// CreateOrGet 幂等地创建主题；同名主题类型不同时返回 ErrTypeConflict
func (r *Registry) CreateOrGet(name string, typ value.DataType, props Properties) (Topic, bool, error) {
	if err := ValidateName(name); err != nil {
		return Topic{}, false, err
	}
	if !typ.Valid() {
		return Topic{}, false, fmt.Errorf("topic %s: %w %d", name, value.ErrUnknownType, typ)
	}

	r.mu.Lock()
	if existing, ok := r.byName[name]; ok {
		t := existing.clone()
		r.mu.Unlock()
		if t.Type != typ {
			return t, false, fmt.Errorf("%w: %s is %s, requested %s", ErrTypeConflict, name, t.Type, typ)
		}
		return t, false, nil
	}

	t := &Topic{
		ID:         r.nextID,
		Name:       name,
		Type:       typ,
		Properties: props.Clone(),
	}
	r.nextID++
	r.byName[name] = t
	r.byID[t.ID] = t
	created := t.clone()
	r.mu.Unlock()

	r.emit(Event{Kind: Created, Topic: created})
	return created, true, nil
}

// Delete 删除主题，不存在时为空操作
func (r *Registry) Delete(name string) (Topic, bool) {
	r.mu.Lock()
	t, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return Topic{}, false
	}
	delete(r.byName, name)
	delete(r.byID, t.ID)
	deleted := t.clone()
	r.mu.Unlock()

	r.emit(Event{Kind: Deleted, Topic: deleted})
	return deleted, true
}

// SetProperties 更新主题属性，值为 nil 的键被删除
func (r *Registry) SetProperties(name string, update map[string]any) (Topic, error) {
	r.mu.Lock()
	t, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return Topic{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	t.Properties = t.Properties.Apply(update)
	changed := t.clone()
	r.mu.Unlock()

	r.emit(Event{Kind: PropertiesChanged, Topic: changed, Update: update})
	return changed, nil
}

func (r *Registry) Lookup(id int32) (Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return Topic{}, false
	}
	return t.clone(), true
}

func (r *Registry) LookupName(name string) (Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return Topic{}, false
	}
	return t.clone(), true
}

// List 返回调用时刻的快照，按 ID 排序；可多次遍历，每次得到同一快照
func (r *Registry) List(prefix string) iter.Seq[Topic] {
	r.mu.RLock()
	snapshot := make([]Topic, 0, len(r.byID))
	for _, t := range r.byID {
		if strings.HasPrefix(t.Name, prefix) {
			snapshot = append(snapshot, t.clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(snapshot, func(a, b Topic) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return func(yield func(Topic) bool) {
		for _, t := range snapshot {
			if !yield(t.clone()) {
				return
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Reset 清空注册表，ID 计数器重新开始（新会话）
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]*Topic)
	r.byID = make(map[int32]*Topic)
	r.nextID = 1
}
