package server

import (
	"context"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/connection"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/packet"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/store"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/subscription"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/topic"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/value"
)

type WatchEventKind int

const (
	TopicAnnounced WatchEventKind = iota
	TopicUnannounced
	ValueChanged
	PropertiesChanged
)

func (k WatchEventKind) String() string {
	switch k {
	case TopicAnnounced:
		return "announced"
	case TopicUnannounced:
		return "unannounced"
	case ValueChanged:
		return "value"
	case PropertiesChanged:
		return "properties"
	}
	return "unknown"
}

// WatchEvent 订阅者在进程内收到的通知
type WatchEvent struct {
	Kind   WatchEventKind
	Topic  topic.Topic
	Record store.Record   // 仅 ValueChanged
	Update map[string]any // 仅 PropertiesChanged
}

const watchBuffer = 64

// Watch 以进程内连接订阅模式，事件通过通道推送。ctx 取消或服务器停止时通道关闭
func (s *Server) Watch(ctx context.Context, pattern string) (<-chan WatchEvent, error) {
	return s.WatchWithOptions(ctx, pattern, subscription.Options{})
}

func (s *Server) WatchWithOptions(ctx context.Context, pattern string, options subscription.Options) (<-chan WatchEvent, error) {
	if err := subscription.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if !s.track() {
		return nil, ErrNotRunning
	}

	local := connection.NewLocalTransport(watchBuffer)
	conn := s.newConnection(local)
	conn.SetClientName("watch:" + pattern)
	conn.Transition(connection.Connecting, connection.Handshaking)
	conn.Transition(connection.Handshaking, connection.Active)

	var subscribeErr error
	err := s.dispatch(func() {
		_, subscribeErr = s.engine.Subscribe(conn.ID, pattern, options)
	})
	if err == nil {
		err = subscribeErr
	}
	if err != nil {
		s.closeWatch(conn, local)
		s.handlers.Done()
		return nil, err
	}

	events := make(chan WatchEvent, watchBuffer)
	go func() {
		defer s.handlers.Done()
		defer close(events)
		defer s.closeWatch(conn, local)
		s.forwardWatch(ctx, local, events)
	}()
	return events, nil
}

// closeWatch 先关闭本地传输，未读出的消息直接丢弃
func (s *Server) closeWatch(conn *connection.Connection, local *connection.LocalTransport) {
	_ = local.Close()
	if err := conn.Close(s.config.Server.CloseGracePeriodDuration()); err != nil {
		logger.Warn("watch closed with error", "conn", conn.ID, "error", err)
	}
	s.release(conn)
}

func (s *Server) forwardWatch(ctx context.Context, local *connection.LocalTransport, events chan<- WatchEvent) {
	topics := make(map[int32]topic.Topic)
	for {
		var message packet.Message
		select {
		case message = <-local.Messages():
		case <-local.Done():
			return
		case <-ctx.Done():
			return
		}

		event, ok := toWatchEvent(message, topics)
		if !ok {
			continue
		}
		select {
		case events <- event:
		case <-local.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func toWatchEvent(message packet.Message, topics map[int32]topic.Topic) (WatchEvent, bool) {
	switch m := message.(type) {
	case *packet.Announce:
		typ, err := value.ParseType(m.Type)
		if err != nil {
			return WatchEvent{}, false
		}
		t := topic.Topic{ID: m.ID, Name: m.Name, Type: typ, Properties: m.Properties}
		topics[m.ID] = t
		return WatchEvent{Kind: TopicAnnounced, Topic: t}, true
	case *packet.Unannounce:
		t, ok := topics[m.ID]
		if !ok {
			t = topic.Topic{ID: m.ID, Name: m.Name}
		}
		delete(topics, m.ID)
		return WatchEvent{Kind: TopicUnannounced, Topic: t}, true
	case *packet.ValueUpdate:
		t, ok := topics[m.TopicID]
		if !ok {
			return WatchEvent{}, false
		}
		record := store.Record{TopicID: m.TopicID, Value: m.Value, Sequence: m.Sequence, Timestamp: m.Timestamp}
		return WatchEvent{Kind: ValueChanged, Topic: t, Record: record}, true
	case *packet.Properties:
		for id, t := range topics {
			if t.Name == m.Name {
				t.Properties = t.Properties.Apply(m.Update)
				topics[id] = t
				return WatchEvent{Kind: PropertiesChanged, Topic: t, Update: m.Update}, true
			}
		}
	}
	return WatchEvent{}, false
}
