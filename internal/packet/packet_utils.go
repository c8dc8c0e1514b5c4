// Package packet 定义协议消息体及其与帧之间的编解码
package packet

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"
	"github.com/vmihailenco/msgpack/v5"
)

// Message 可以放进一个帧的协议消息
type Message interface {
	Kind() frame.Kind
}

// Marshal 将消息编码为完整的帧
func Marshal(message Message) ([]byte, error) {
	body, err := msgpack.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", message.Kind(), err)
	}
	return frame.Encode(message.Kind(), body)
}

func newMessage(kind frame.Kind) Message {
	switch kind {
	case frame.HELLO:
		return &Hello{}
	case frame.GOODBYE:
		return &Goodbye{}
	case frame.CREATE_TOPIC:
		return &CreateTopic{}
	case frame.DELETE_TOPIC:
		return &DeleteTopic{}
	case frame.ANNOUNCE:
		return &Announce{}
	case frame.UNANNOUNCE:
		return &Unannounce{}
	case frame.SET_PROPERTIES:
		return &SetProperties{}
	case frame.PROPERTIES:
		return &Properties{}
	case frame.SUBSCRIBE:
		return &Subscribe{}
	case frame.SUBACK:
		return &SubAck{}
	case frame.UNSUBSCRIBE:
		return &Unsubscribe{}
	case frame.PUBLISH:
		return &Publish{}
	case frame.VALUE_UPDATE:
		return &ValueUpdate{}
	case frame.ERROR:
		return &Error{}
	case frame.PING:
		return &Ping{}
	case frame.PONG:
		return &Pong{}
	}
	return nil
}

// Unmarshal 将帧解码为对应的消息，任何解码错误都是协议错误
func Unmarshal(f *frame.Frame) (Message, error) {
	message := newMessage(f.Kind)
	if message == nil {
		return nil, fmt.Errorf("%w: unknown frame kind %d", frame.ErrProtocol, byte(f.Kind))
	}
	if err := msgpack.Unmarshal(f.Body, message); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", frame.ErrProtocol, f.Kind, err)
	}
	if v, ok := message.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", frame.ErrProtocol, f.Kind, err)
		}
	}
	return message, nil
}

// Parse 将原始字节解析为一条消息
func Parse(data []byte, maxSize int) (Message, error) {
	f, err := frame.Parse(data, maxSize)
	if err != nil {
		return nil, err
	}
	return Unmarshal(f)
}
