package packet

import (
	"errors"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/subscription"
)

var errMissingPattern = errors.New("missing subscription pattern")

// Subscribe 订阅一个主题名或以 '/' 结尾的前缀
type Subscribe struct {
	Pattern string               `msgpack:"pattern"`
	Options subscription.Options `msgpack:"options"`
}

func (Subscribe) Kind() frame.Kind { return frame.SUBSCRIBE }

func (s *Subscribe) validate() error {
	if s.Pattern == "" {
		return errMissingPattern
	}
	return nil
}

// SubAck 在已存在主题的通告之后发送，之后的发布都会送达
type SubAck struct {
	Pattern string `msgpack:"pattern"`
}

func (SubAck) Kind() frame.Kind { return frame.SUBACK }
