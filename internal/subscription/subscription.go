// Package subscription 实现订阅引擎：把订阅者与主题（精确名或前缀）匹配，并把更新投递到连接
package subscription

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/store"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/topic"
)

var ErrInvalidPattern = errors.New("invalid subscription pattern")

// Options 订阅选项
type Options struct {
	// TopicsOnly 只接收主题通告，不接收值更新
	TopicsOnly bool `msgpack:"topics_only" json:"topics_only"`
}

// Subscription 连接到主题模式的弱引用，不拥有主题的生命周期
type Subscription struct {
	ConnID  string
	Pattern string
	Options Options
}

func (s Subscription) Prefix() bool {
	return strings.HasSuffix(s.Pattern, "/")
}

// Deliverer 由连接管理器实现，负责把消息放入连接的出站队列
type Deliverer interface {
	DeliverAnnounce(connID string, t topic.Topic)
	DeliverUnannounce(connID string, t topic.Topic)
	DeliverValue(connID string, t topic.Topic, record store.Record)
	DeliverProperties(connID string, t topic.Topic, update map[string]any)
}

// match 某个连接对一个主题的合并结果，多个订阅重叠时只投递一次
type match struct {
	connID string
	values bool
}

type Config struct {
	CacheSize int
	CacheTTL  time.Duration // 0 表示缓存项不过期
}

type Engine struct {
	mu       sync.RWMutex
	root     *topicTreeNode
	byConn   map[string]map[string]Subscription // 连接ID -> 模式 -> 订阅
	cache    *expirable.LRU[string, []match]
	deliver  Deliverer
	registry *topic.Registry
	store    *store.Store
}

func NewEngine(registry *topic.Registry, values *store.Store, deliver Deliverer, config Config) *Engine {
	if config.CacheSize <= 0 {
		config.CacheSize = 256
	}
	return &Engine{
		root:     newNode(""),
		byConn:   make(map[string]map[string]Subscription),
		cache:    expirable.NewLRU[string, []match](config.CacheSize, nil, max(config.CacheTTL, 0)),
		deliver:  deliver,
		registry: registry,
		store:    values,
	}
}

func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if strings.ContainsAny(pattern, "\x00") {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidPattern, pattern)
	}
	return nil
}

// Subscribe 添加或替换订阅，并向连接通告所有已存在的匹配主题；
// retained 主题若已有值则重发最新值
func (e *Engine) Subscribe(connID, pattern string, options Options) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return Subscription{}, err
	}
	sub := Subscription{ConnID: connID, Pattern: pattern, Options: options}

	e.mu.Lock()
	subs, ok := e.byConn[connID]
	if !ok {
		subs = make(map[string]Subscription)
		e.byConn[connID] = subs
	}
	subs[pattern] = sub
	e.root.insert(sub)
	e.cache.Purge()
	e.mu.Unlock()

	listPrefix := pattern
	if !sub.Prefix() {
		listPrefix = ""
	}
	for t := range e.registry.List(listPrefix) {
		if !Match(pattern, t.Name) {
			continue
		}
		e.deliver.DeliverAnnounce(connID, t)
		if options.TopicsOnly || !t.Retained() {
			continue
		}
		if record, ok := e.store.Latest(t.ID); ok {
			e.deliver.DeliverValue(connID, t, record)
		}
	}

	logger.Debug("subscription added", "conn", connID, "pattern", pattern, "topics_only", options.TopicsOnly)
	return sub, nil
}

func (e *Engine) Unsubscribe(connID, pattern string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs, ok := e.byConn[connID]
	if !ok {
		return false
	}
	if _, ok := subs[pattern]; !ok {
		return false
	}
	delete(subs, pattern)
	if len(subs) == 0 {
		delete(e.byConn, connID)
	}
	e.root.remove(connID, pattern)
	e.cache.Purge()
	logger.Debug("subscription removed", "conn", connID, "pattern", pattern)
	return true
}

// RemoveConnection 释放连接的全部订阅，返回释放的数量
func (e *Engine) RemoveConnection(connID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs, ok := e.byConn[connID]
	if !ok {
		return 0
	}
	for pattern := range subs {
		e.root.remove(connID, pattern)
	}
	delete(e.byConn, connID)
	e.cache.Purge()
	return len(subs)
}

// resolve 计算订阅了该主题的连接，结果按主题名缓存
func (e *Engine) resolve(name string) []match {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if matches, ok := e.cache.Get(name); ok {
		return matches
	}

	index := make(map[string]int)
	var matches []match
	e.root.match(name, func(sub Subscription) {
		i, seen := index[sub.ConnID]
		if !seen {
			index[sub.ConnID] = len(matches)
			matches = append(matches, match{connID: sub.ConnID, values: !sub.Options.TopicsOnly})
			return
		}
		if !sub.Options.TopicsOnly {
			matches[i].values = true
		}
	})
	e.cache.Add(name, matches)
	return matches
}

// OnPublish 把值更新投递给每个匹配的连接，每个连接只投递一次
func (e *Engine) OnPublish(t topic.Topic, record store.Record) int {
	delivered := 0
	for _, m := range e.resolve(t.Name) {
		if !m.values {
			continue
		}
		e.deliver.DeliverValue(m.connID, t, record)
		delivered++
	}
	return delivered
}

// HandleTopicEvent 消费注册表事件并广播给感兴趣的连接
func (e *Engine) HandleTopicEvent(ev topic.Event) {
	switch ev.Kind {
	case topic.Created:
		for _, m := range e.resolve(ev.Topic.Name) {
			e.deliver.DeliverAnnounce(m.connID, ev.Topic)
		}
	case topic.Deleted:
		for _, m := range e.resolve(ev.Topic.Name) {
			e.deliver.DeliverUnannounce(m.connID, ev.Topic)
		}
		e.cache.Remove(ev.Topic.Name)
	case topic.PropertiesChanged:
		for _, m := range e.resolve(ev.Topic.Name) {
			e.deliver.DeliverProperties(m.connID, ev.Topic, ev.Update)
		}
	}
}

// Subscriptions 返回连接当前的订阅
func (e *Engine) Subscriptions(connID string) []Subscription {
	e.mu.RLock()
	defer e.mu.RUnlock()
	subs := make([]Subscription, 0, len(e.byConn[connID]))
	for _, sub := range e.byConn[connID] {
		subs = append(subs, sub)
	}
	return subs
}

// Count 返回全部订阅数量
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	total := 0
	for _, subs := range e.byConn {
		total += len(subs)
	}
	return total
}

func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.root = newNode("")
	e.byConn = make(map[string]map[string]Subscription)
	e.cache.Purge()
}
