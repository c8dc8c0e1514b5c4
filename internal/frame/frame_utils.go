package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxRemainingLength 变长编码 4 字节所能表示的最大长度
const MaxRemainingLength = 268435455

// ReadFrame 从流中读取一帧，负载超过 maxSize 时返回协议错误
func ReadFrame(r io.Reader, maxSize int) (*Frame, error) {
	kind := make([]byte, 1)
	if _, err := io.ReadFull(r, kind); err != nil {
		return nil, err
	}

	remaining, err := DecodeRemainingLength(r)
	if err != nil {
		return nil, err
	}

	if maxSize > 0 && remaining > maxSize {
		return nil, fmt.Errorf("%w: frame body of %d bytes exceeds limit %d", ErrProtocol, remaining, maxSize)
	}

	if !Kind(kind[0]).Valid() {
		return nil, fmt.Errorf("%w: unknown frame kind %d", ErrProtocol, kind[0])
	}

	body := make([]byte, remaining)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return &Frame{Kind: Kind(kind[0]), Body: body}, nil
}

// Parse 从完整的字节切片中解析一帧，用于按消息分帧的传输（如 WebSocket）
func Parse(data []byte, maxSize int) (*Frame, error) {
	r := bytes.NewReader(data)
	f, err := ReadFrame(r, maxSize)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame", ErrProtocol)
		}
		return nil, err
	}
	if r.Len() > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after frame", ErrProtocol, r.Len())
	}
	return f, nil
}

// Encode 组装一帧：类型字节 + 剩余长度 + 负载
func Encode(kind Kind, body []byte) ([]byte, error) {
	if len(body) > MaxRemainingLength {
		return nil, fmt.Errorf("frame body of %d bytes exceeds the 4 byte length limit", len(body))
	}
	length := EncodeRemainingLength(len(body))
	packet := make([]byte, 0, 1+len(length)+len(body))
	packet = append(packet, byte(kind))
	packet = append(packet, length...)
	packet = append(packet, body...)
	return packet, nil
}

func DecodeRemainingLength(r io.Reader) (int, error) {
	multiplier := 1
	value := 0
	b := make([]byte, 1)
	for i := 0; i < 4; i++ { // 最多读取4字节
		if _, err := io.ReadFull(r, b); err != nil {
			return 0, err
		}
		encodedByte := b[0]
		value += int(encodedByte&127) * multiplier
		multiplier *= 128
		if (encodedByte & 128) == 0 {
			return value, nil
		}
	}
	return 0, fmt.Errorf("%w: the remaining length exceeds the 4 byte limit", ErrProtocol)
}

func EncodeRemainingLength(x int) []byte {
	if x == 0 {
		return []byte{0}
	}
	var buf [4]byte
	i := 0
	for x > 0 && i < 4 {
		buf[i] = byte(x % 128)
		if x /= 128; x > 0 {
			buf[i] |= 128
		}
		i++
	}
	return buf[:i]
}
