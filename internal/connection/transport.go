package connection

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/packet"
)

// Transport 承载帧的底层连接。Receive 只能由一个 goroutine 调用，Send 只能由写协程调用
type Transport interface {
	Receive() (packet.Message, error)
	Send(messages []packet.Message) error
	SetReadDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

type tcpTransport struct {
	conn         net.Conn
	reader       *bufio.Reader
	maxSize      int
	writeTimeout time.Duration
	buf          []byte
}

// NewTCPTransport 基于字节流的分帧传输
func NewTCPTransport(conn net.Conn, maxSize int, writeTimeout time.Duration) Transport {
	return &tcpTransport{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		maxSize:      maxSize,
		writeTimeout: writeTimeout,
	}
}

func (t *tcpTransport) Receive() (packet.Message, error) {
	f, err := frame.ReadFrame(t.reader, t.maxSize)
	if err != nil {
		return nil, err
	}
	return packet.Unmarshal(f)
}

// Send 合并为一次写入
func (t *tcpTransport) Send(messages []packet.Message) error {
	t.buf = t.buf[:0]
	for _, message := range messages {
		data, err := packet.Marshal(message)
		if err != nil {
			return err
		}
		t.buf = append(t.buf, data...)
	}
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return writeAll(t.conn, t.buf)
}

func writeAll(w io.Writer, data []byte) error {
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

func (t *tcpTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

type webSocketTransport struct {
	conn         *websocket.Conn
	maxSize      int
	writeTimeout time.Duration
}

// NewWebSocketTransport 每个 WebSocket 二进制消息承载一帧
func NewWebSocketTransport(conn *websocket.Conn, maxSize int, writeTimeout time.Duration) Transport {
	// 帧头最多 5 字节
	conn.SetReadLimit(int64(maxSize) + 5)
	return &webSocketTransport{conn: conn, maxSize: maxSize, writeTimeout: writeTimeout}
}

func (t *webSocketTransport) Receive() (packet.Message, error) {
	messageType, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if messageType != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: websocket message type %d", frame.ErrProtocol, messageType)
	}
	return packet.Parse(data, t.maxSize)
}

func (t *webSocketTransport) Send(messages []packet.Message) error {
	for _, message := range messages {
		data, err := packet.Marshal(message)
		if err != nil {
			return err
		}
		if t.writeTimeout > 0 {
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
		}
		if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return err
		}
	}
	return nil
}

func (t *webSocketTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *webSocketTransport) Close() error {
	return t.conn.Close()
}

func (t *webSocketTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// LocalTransport 进程内传输，服务器发出的消息直接送到通道；不接收任何入站消息
type LocalTransport struct {
	out       chan packet.Message
	closed    chan struct{}
	closeOnce sync.Once
}

func NewLocalTransport(buffer int) *LocalTransport {
	return &LocalTransport{
		out:    make(chan packet.Message, buffer),
		closed: make(chan struct{}),
	}
}

// Messages 返回出站消息通道，传输关闭后不再有新消息
func (t *LocalTransport) Messages() <-chan packet.Message {
	return t.out
}

// Receive 阻塞直到传输关闭
func (t *LocalTransport) Receive() (packet.Message, error) {
	<-t.closed
	return nil, io.EOF
}

func (t *LocalTransport) Send(messages []packet.Message) error {
	for _, message := range messages {
		select {
		case t.out <- message:
		case <-t.closed:
			return net.ErrClosed
		}
	}
	return nil
}

func (t *LocalTransport) SetReadDeadline(time.Time) error {
	return nil
}

func (t *LocalTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Done 传输关闭时关闭
func (t *LocalTransport) Done() <-chan struct{} {
	return t.closed
}

func (t *LocalTransport) RemoteAddr() string {
	return "local"
}
