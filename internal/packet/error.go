package packet

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"
)

type ErrorCode uint8

const (
	ErrorUnknown ErrorCode = iota
	ErrorTypeConflict
	ErrorTypeMismatch
	ErrorUnknownTopic
	ErrorInvalidType
	ErrorInvalidName
	ErrorInvalidPattern
	ErrorRateLimited
)

var errorCodeNames = map[ErrorCode]string{
	ErrorUnknown:        "unknown",
	ErrorTypeConflict:   "type_conflict",
	ErrorTypeMismatch:   "type_mismatch",
	ErrorUnknownTopic:   "unknown_topic",
	ErrorInvalidType:    "invalid_type",
	ErrorInvalidName:    "invalid_name",
	ErrorInvalidPattern: "invalid_pattern",
	ErrorRateLimited:    "rate_limited",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Error 只发给请求方的错误报告，连接保持打开。Ref 为相关的主题名或 ID
type Error struct {
	Code    ErrorCode `msgpack:"code"`
	Message string    `msgpack:"message"`
	Ref     string    `msgpack:"ref,omitempty"`
}

func (Error) Kind() frame.Kind { return frame.ERROR }

func (e Error) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Ref, e.Message)
}
