package packet

import "github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"

type Unsubscribe struct {
	Pattern string `msgpack:"pattern"`
}

func (Unsubscribe) Kind() frame.Kind { return frame.UNSUBSCRIBE }

func (u *Unsubscribe) validate() error {
	if u.Pattern == "" {
		return errMissingPattern
	}
	return nil
}
