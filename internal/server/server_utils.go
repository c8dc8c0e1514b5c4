package server

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/connection"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/packet"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/store"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/subscription"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/topic"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/value"
)

// errorPacket 将领域错误转换为只发给请求方的错误消息
func errorPacket(err error, ref string) *packet.Error {
	code := packet.ErrorUnknown
	switch {
	case errors.Is(err, topic.ErrTypeConflict):
		code = packet.ErrorTypeConflict
	case errors.Is(err, store.ErrTypeMismatch), errors.Is(err, value.ErrInvalidValue):
		code = packet.ErrorTypeMismatch
	case errors.Is(err, topic.ErrNotFound):
		code = packet.ErrorUnknownTopic
	case errors.Is(err, value.ErrUnknownType):
		code = packet.ErrorInvalidType
	case errors.Is(err, topic.ErrInvalidName):
		code = packet.ErrorInvalidName
	case errors.Is(err, subscription.ErrInvalidPattern):
		code = packet.ErrorInvalidPattern
	}
	return &packet.Error{Code: code, Message: err.Error(), Ref: ref}
}

func sendError(conn *connection.Connection, err error, ref string) {
	logger.Debug("request rejected", "conn", conn.ID, "ref", ref, "error", err)
	conn.Enqueue(errorPacket(err, ref), true)
}

// deleteTopic 删除主题并向所有收到过通告的连接发送 Unannounce，必须在分发器中调用
func (s *Server) deleteTopic(name string) (topic.Topic, bool) {
	t, ok := s.registry.Delete(name)
	if !ok {
		return topic.Topic{}, false
	}
	s.store.Remove(t.ID)
	delete(s.owned, t.Name)
	s.manager.Range(func(conn *connection.Connection) bool {
		s.manager.DeliverUnannounce(conn.ID, t)
		return true
	})
	logger.Info("topic deleted", "topic", t.Name, "id", t.ID)
	return t, true
}

// createTopic 必须在分发器中调用
func (s *Server) createTopic(name string, typ value.DataType, props topic.Properties) (topic.Topic, bool, error) {
	t, created, err := s.registry.CreateOrGet(name, typ, props)
	if err != nil {
		return topic.Topic{}, false, err
	}
	if created {
		logger.Info("topic created", "topic", t.Name, "id", t.ID, "type", t.Type.String())
	}
	return t, created, nil
}

// publish 必须在分发器中调用
func (s *Server) publish(t topic.Topic, v value.Value, timestamp int64) (store.Record, error) {
	if timestamp == 0 {
		timestamp = s.clock.Now()
	}
	record, err := s.store.Publish(t, v, timestamp)
	if err != nil {
		logger.Debug("publish rejected", "topic", t.Name, "error", err)
		return store.Record{}, err
	}
	s.engine.OnPublish(t, record)
	return record, nil
}

func unknownTopicID(id int32) error {
	return fmt.Errorf("%w: id %d", topic.ErrNotFound, id)
}
