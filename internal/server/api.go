package server

import (
	"fmt"
	"iter"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/store"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/topic"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/value"
)

// CreateTopic 进程内创建（或获取）主题，语义与客户端 CREATE_TOPIC 相同
func (s *Server) CreateTopic(name string, typ value.DataType, props topic.Properties) (topic.Topic, error) {
	var (
		t   topic.Topic
		err error
	)
	if dispatchErr := s.dispatch(func() {
		t, _, err = s.createTopic(name, typ, props)
		if err == nil {
			s.owned[t.Name] = struct{}{}
		}
	}); dispatchErr != nil {
		return topic.Topic{}, dispatchErr
	}
	return t, err
}

// DeleteTopic 删除主题，不存在时返回 false
func (s *Server) DeleteTopic(name string) (bool, error) {
	var deleted bool
	if err := s.dispatch(func() {
		_, deleted = s.deleteTopic(name)
	}); err != nil {
		return false, err
	}
	return deleted, nil
}

// Publish 按主题名发布值
func (s *Server) Publish(name string, v value.Value) (store.Record, error) {
	var (
		record store.Record
		err    error
	)
	if dispatchErr := s.dispatch(func() {
		t, ok := s.registry.LookupName(name)
		if !ok {
			err = fmt.Errorf("%w: %s", topic.ErrNotFound, name)
			return
		}
		record, err = s.publish(t, v, 0)
	}); dispatchErr != nil {
		return store.Record{}, dispatchErr
	}
	return record, err
}

func (s *Server) SetProperties(name string, update map[string]any) (topic.Topic, error) {
	var (
		t   topic.Topic
		err error
	)
	if dispatchErr := s.dispatch(func() {
		t, err = s.registry.SetProperties(name, update)
	}); dispatchErr != nil {
		return topic.Topic{}, dispatchErr
	}
	return t, err
}

// ListTopics 返回调用时刻的主题快照，不经过分发器
func (s *Server) ListTopics(prefix string) iter.Seq[topic.Topic] {
	return s.registry.List(prefix)
}

// Latest 返回主题的最新值，不经过分发器
func (s *Server) Latest(name string) (store.Record, bool) {
	t, ok := s.registry.LookupName(name)
	if !ok {
		return store.Record{}, false
	}
	return s.store.Latest(t.ID)
}

// Subscriptions 返回当前订阅总数
func (s *Server) Subscriptions() int {
	return s.engine.Count()
}

// Connections 返回当前连接数
func (s *Server) Connections() int {
	return s.manager.Len()
}
