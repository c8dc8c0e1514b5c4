package packet

import "github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"

// Ping 心跳，同时用于估算往返时间
type Ping struct {
	ClientTime int64 `msgpack:"client_time"`
}

func (Ping) Kind() frame.Kind { return frame.PING }

type Pong struct {
	ClientTime int64 `msgpack:"client_time"`
	ServerTime int64 `msgpack:"server_time"`
}

func (Pong) Kind() frame.Kind { return frame.PONG }
