// Package client 实现主题表协议的最小客户端，用于 nt-watch 与集成测试
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/connection"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/packet"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/subscription"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/topic"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/value"
)

var ErrRejected = errors.New("connection rejected by server")

type Options struct {
	Name           string
	KeepAlive      uint16
	MaxMessageSize int
	WriteTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "life-stream-client"
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 1 << 20
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// Client 单个协议连接。Recv 与等待类方法只能由一个协程调用
type Client struct {
	ID         string
	ServerName string

	transport connection.Transport
	writeMu   sync.Mutex

	incoming chan packet.Message
	readErr  error
	pending  []packet.Message
	done     chan struct{}
	closed   chan struct{}
	once     sync.Once

	mu     sync.RWMutex
	topics map[string]int32
}

// Dial 通过 TCP 连接服务器并完成握手
func Dial(ctx context.Context, addr string, options Options) (*Client, error) {
	options = options.withDefaults()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return handshake(ctx, connection.NewTCPTransport(conn, options.MaxMessageSize, options.WriteTimeout), options)
}

// DialWebSocket 通过 WebSocket 连接服务器并完成握手，url 形如 ws://host:5810/nt/
func DialWebSocket(ctx context.Context, url string, options Options) (*Client, error) {
	options = options.withDefaults()
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return handshake(ctx, connection.NewWebSocketTransport(ws, options.MaxMessageSize, options.WriteTimeout), options)
}

func handshake(ctx context.Context, transport connection.Transport, options Options) (*Client, error) {
	if err := transport.Send([]packet.Message{packet.NewHelloPacket(options.Name, options.KeepAlive)}); err != nil {
		_ = transport.Close()
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = transport.SetReadDeadline(deadline)
	}
	message, err := transport.Receive()
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("read handshake reply: %w", err)
	}
	_ = transport.SetReadDeadline(time.Time{})

	switch m := message.(type) {
	case *packet.Hello:
		c := &Client{
			ID:         m.ConnID,
			ServerName: m.ClientName,
			transport:  transport,
			incoming:   make(chan packet.Message, 256),
			done:       make(chan struct{}),
			closed:     make(chan struct{}),
			topics:     make(map[string]int32),
		}
		go c.readLoop()
		return c, nil
	case *packet.Goodbye:
		_ = transport.Close()
		return nil, fmt.Errorf("%w: %s", ErrRejected, m.Reason)
	default:
		_ = transport.Close()
		return nil, fmt.Errorf("unexpected handshake reply %s", message.Kind())
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.incoming)
	for {
		message, err := c.transport.Receive()
		if err != nil {
			c.readErr = err
			return
		}
		c.track(message)
		select {
		case c.incoming <- message:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) track(message packet.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch m := message.(type) {
	case *packet.Announce:
		c.topics[m.Name] = m.ID
	case *packet.Unannounce:
		delete(c.topics, m.Name)
	}
}

// TopicID 返回已收到通告的主题 ID
func (c *Client) TopicID(name string) (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.topics[name]
	return id, ok
}

func (c *Client) Send(messages ...packet.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.Send(messages)
}

// Recv 返回下一条服务器消息，连接关闭后返回读错误
func (c *Client) Recv(ctx context.Context) (packet.Message, error) {
	if len(c.pending) > 0 {
		message := c.pending[0]
		c.pending = c.pending[1:]
		return message, nil
	}
	select {
	case message, ok := <-c.incoming:
		if !ok {
			if c.readErr != nil {
				return nil, c.readErr
			}
			return nil, net.ErrClosed
		}
		return message, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// await 等待满足条件的消息，其间收到的其他消息留给后续 Recv
func (c *Client) await(ctx context.Context, match func(packet.Message) bool) (packet.Message, error) {
	for i, message := range c.pending {
		if match(message) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return message, nil
		}
	}
	var skipped []packet.Message
	defer func() {
		c.pending = append(c.pending, skipped...)
	}()
	for {
		select {
		case message, ok := <-c.incoming:
			if !ok {
				if c.readErr != nil {
					return nil, c.readErr
				}
				return nil, net.ErrClosed
			}
			if match(message) {
				return message, nil
			}
			skipped = append(skipped, message)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// CreateTopic 创建主题并等待服务器通告，返回主题 ID
func (c *Client) CreateTopic(ctx context.Context, name string, typ value.DataType, props topic.Properties) (int32, error) {
	if err := c.Send(&packet.CreateTopic{Name: name, Type: typ.String(), Properties: props}); err != nil {
		return 0, err
	}
	message, err := c.await(ctx, func(m packet.Message) bool {
		switch m := m.(type) {
		case *packet.Announce:
			return m.Name == name
		case *packet.Error:
			return m.Ref == name
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	if e, ok := message.(*packet.Error); ok {
		return 0, *e
	}
	return message.(*packet.Announce).ID, nil
}

// Subscribe 订阅并等待 SubAck
func (c *Client) Subscribe(ctx context.Context, pattern string, options subscription.Options) error {
	if err := c.Send(&packet.Subscribe{Pattern: pattern, Options: options}); err != nil {
		return err
	}
	message, err := c.await(ctx, func(m packet.Message) bool {
		switch m := m.(type) {
		case *packet.SubAck:
			return m.Pattern == pattern
		case *packet.Error:
			return m.Ref == pattern
		}
		return false
	})
	if err != nil {
		return err
	}
	if e, ok := message.(*packet.Error); ok {
		return *e
	}
	return nil
}

func (c *Client) Unsubscribe(pattern string) error {
	return c.Send(&packet.Unsubscribe{Pattern: pattern})
}

// Publish 发布值，时间戳由服务器填写
func (c *Client) Publish(id int32, v value.Value) error {
	return c.Send(&packet.Publish{TopicID: id, Value: v})
}

func (c *Client) DeleteTopic(name string) error {
	return c.Send(&packet.DeleteTopic{Name: name})
}

func (c *Client) Ping() error {
	return c.Send(&packet.Ping{ClientTime: time.Now().UnixMicro()})
}

// Close 发送 Goodbye 后关闭连接
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		if sendErr := c.Send(packet.NewGoodbyePacket("client closing")); sendErr != nil && !connection.IsNetClosedError(sendErr) {
			logger.Debug("failed to send goodbye", "error", sendErr)
		}
		close(c.closed)
		err = c.transport.Close()
		<-c.done
	})
	if connection.IsNetClosedError(err) {
		return nil
	}
	return err
}

// Done 读协程退出（服务器断开或本地关闭）时关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}
