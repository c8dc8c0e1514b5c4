package packet

import (
	"errors"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/store"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/value"
)

// Publish 客户端发布值，Timestamp 为 0 时由服务器打时间戳
type Publish struct {
	TopicID   int32       `msgpack:"id"`
	Timestamp int64       `msgpack:"ts,omitempty"`
	Value     value.Value `msgpack:"value"`
}

func (Publish) Kind() frame.Kind { return frame.PUBLISH }

func (p *Publish) validate() error {
	if !p.Value.IsValid() {
		return errors.New("missing value")
	}
	return nil
}

// ValueUpdate 服务器推送的值更新
type ValueUpdate struct {
	TopicID   int32       `msgpack:"id"`
	Sequence  uint64      `msgpack:"seq"`
	Timestamp int64       `msgpack:"ts"`
	Value     value.Value `msgpack:"value"`
}

func (ValueUpdate) Kind() frame.Kind { return frame.VALUE_UPDATE }

func NewValueUpdatePacket(record store.Record) *ValueUpdate {
	return &ValueUpdate{
		TopicID:   record.TopicID,
		Sequence:  record.Sequence,
		Timestamp: record.Timestamp,
		Value:     record.Value,
	}
}
