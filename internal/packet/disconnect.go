package packet

import "github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"

// Goodbye 任一方关闭连接前发送
type Goodbye struct {
	Reason string `msgpack:"reason,omitempty"`
}

func (Goodbye) Kind() frame.Kind { return frame.GOODBYE }

func NewGoodbyePacket(reason string) *Goodbye {
	return &Goodbye{Reason: reason}
}
