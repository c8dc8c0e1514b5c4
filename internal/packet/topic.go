package packet

import (
	"errors"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/topic"
)

var errMissingName = errors.New("missing topic name")

// CreateTopic 客户端创建（或获取）主题，类型为类型名，如 "double"、"string[]"
type CreateTopic struct {
	Name       string           `msgpack:"name"`
	Type       string           `msgpack:"type"`
	Properties topic.Properties `msgpack:"properties,omitempty"`
}

func (CreateTopic) Kind() frame.Kind { return frame.CREATE_TOPIC }

func (c *CreateTopic) validate() error {
	if c.Name == "" {
		return errMissingName
	}
	if c.Type == "" {
		return errors.New("missing topic type")
	}
	return nil
}

type DeleteTopic struct {
	Name string `msgpack:"name"`
}

func (DeleteTopic) Kind() frame.Kind { return frame.DELETE_TOPIC }

func (d *DeleteTopic) validate() error {
	if d.Name == "" {
		return errMissingName
	}
	return nil
}

// Announce 通知客户端主题存在，之后的值更新只携带主题 ID
type Announce struct {
	ID         int32            `msgpack:"id"`
	Name       string           `msgpack:"name"`
	Type       string           `msgpack:"type"`
	Properties topic.Properties `msgpack:"properties,omitempty"`
}

func (Announce) Kind() frame.Kind { return frame.ANNOUNCE }

func NewAnnouncePacket(t topic.Topic) *Announce {
	return &Announce{ID: t.ID, Name: t.Name, Type: t.Type.String(), Properties: t.Properties.Clone()}
}

type Unannounce struct {
	ID   int32  `msgpack:"id"`
	Name string `msgpack:"name"`
}

func (Unannounce) Kind() frame.Kind { return frame.UNANNOUNCE }

func NewUnannouncePacket(t topic.Topic) *Unannounce {
	return &Unannounce{ID: t.ID, Name: t.Name}
}

// SetProperties 修改主题属性，值为 nil 的键被删除
type SetProperties struct {
	Name   string         `msgpack:"name"`
	Update map[string]any `msgpack:"update"`
}

func (SetProperties) Kind() frame.Kind { return frame.SET_PROPERTIES }

func (s *SetProperties) validate() error {
	if s.Name == "" {
		return errMissingName
	}
	return nil
}

// Properties 属性变更通知；Ack 为 true 表示是对本连接 SetProperties 的确认
type Properties struct {
	Name   string         `msgpack:"name"`
	Update map[string]any `msgpack:"update"`
	Ack    bool           `msgpack:"ack,omitempty"`
}

func (Properties) Kind() frame.Kind { return frame.PROPERTIES }
