package connection

import "fmt"

// State 连接生命周期状态，只能沿合法转换前进
type State int32

const (
	Connecting State = iota
	Handshaking
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var transitions = map[State][]State{
	Connecting:  {Handshaking, Closing},
	Handshaking: {Active, Closing, Closed}, // 握手失败直接关闭
	Active:      {Closing},
	Closing:     {Closed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
