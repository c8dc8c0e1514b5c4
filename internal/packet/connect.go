package packet

import (
	"errors"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"
)

// ProtocolVersion 协议主版本号，握手时主版本必须一致
const ProtocolVersion uint16 = 4

// Hello 握手消息。客户端发送时 ConnID 与 ServerTime 为空，服务器回复时填充
type Hello struct {
	Version    uint16 `msgpack:"version"`
	ClientName string `msgpack:"client_name"`
	KeepAlive  uint16 `msgpack:"keep_alive"` // 秒，0 表示不检测
	ConnID     string `msgpack:"conn_id,omitempty"`
	ServerTime int64  `msgpack:"server_time,omitempty"`
}

func (Hello) Kind() frame.Kind { return frame.HELLO }

func (h *Hello) validate() error {
	if h.Version == 0 {
		return errors.New("missing protocol version")
	}
	return nil
}

func NewHelloPacket(clientName string, keepAlive uint16) *Hello {
	return &Hello{Version: ProtocolVersion, ClientName: clientName, KeepAlive: keepAlive}
}
