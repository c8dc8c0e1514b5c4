package connection

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/packet"
	"golang.org/x/time/rate"
)

// ErrGracePeriodExceeded 关闭时出站队列未能在宽限期内写完，连接被强制关闭
var ErrGracePeriodExceeded = errors.New("close grace period exceeded")

type Options struct {
	QueueSize    int
	PublishRate  float64 // 每秒允许的发布次数，0 表示不限制
	PublishBurst int
}

// Connection 一个客户端连接。出站消息经队列由独立的写协程发送
type Connection struct {
	ID string

	transport Transport
	state     atomic.Int32
	queue     *Queue
	limiter   *rate.Limiter

	notify     chan struct{}
	closing    chan struct{}
	writerDone chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	closeErr   error
	writeErr   atomic.Pointer[error]

	mu         sync.Mutex
	clientName string
	announced  map[int32]struct{}
	created    map[string]struct{}
}

// New 创建连接并启动写协程；调用方必须最终调用 Close
func New(transport Transport, options Options) *Connection {
	c := &Connection{
		ID:         uuid.NewString(),
		transport:  transport,
		queue:      NewQueue(options.QueueSize),
		notify:     make(chan struct{}, 1),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
		announced:  make(map[int32]struct{}),
		created:    make(map[string]struct{}),
	}
	if options.PublishRate > 0 {
		burst := options.PublishBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(options.PublishRate), burst)
	}
	go c.run()
	return c
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

// Transition 执行一次状态转换，非法转换或并发竞争失败时返回 false
func (c *Connection) Transition(from, to State) bool {
	if !canTransition(from, to) {
		return false
	}
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *Connection) Transport() Transport {
	return c.transport
}

func (c *Connection) RemoteAddr() string {
	return c.transport.RemoteAddr()
}

func (c *Connection) SetClientName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientName = name
}

func (c *Connection) ClientName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientName
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s(%s)", c.ID, c.RemoteAddr())
}

// Enqueue 放入出站队列并唤醒写协程。写协程已退出时返回 false
func (c *Connection) Enqueue(message packet.Message, sticky bool) bool {
	select {
	case <-c.writerDone:
		return false
	default:
	}
	if dropped := c.queue.Push(message, sticky); dropped > 0 {
		logger.Debug("outbound queue overflow", "conn", c.ID, "dropped", dropped)
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// AllowPublish 判断本次发布是否在速率限制内
func (c *Connection) AllowPublish() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// MarkAnnounced 记录主题已通告给该连接，首次记录时返回 true
func (c *Connection) MarkAnnounced(id int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.announced[id]; ok {
		return false
	}
	c.announced[id] = struct{}{}
	return true
}

func (c *Connection) Announced(id int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.announced[id]
	return ok
}

// ForgetAnnounced 清除通告记录，之前已通告过时返回 true
func (c *Connection) ForgetAnnounced(id int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.announced[id]; !ok {
		return false
	}
	delete(c.announced, id)
	return true
}

// AddCreated 记录该连接创建（声明发布）过的主题
func (c *Connection) AddCreated(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created[name] = struct{}{}
}

func (c *Connection) RemoveCreated(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.created, name)
}

func (c *Connection) HasCreated(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.created[name]
	return ok
}

func (c *Connection) Created() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.created))
	for name := range c.created {
		names = append(names, name)
	}
	return names
}

// BeginClose 进入 Closing 状态，写协程发送完队列中剩余消息后退出
func (c *Connection) BeginClose() bool {
	for {
		current := State(c.state.Load())
		if current == Closing || current == Closed {
			return false
		}
		if c.state.CompareAndSwap(int32(current), int32(Closing)) {
			close(c.closing)
			return true
		}
	}
}

// Refuse 握手失败时使用：连接从 Handshaking 直接进入 Closed，
// 写协程退出后同步发送 goodbye（可为 nil）再关闭传输。不在 Handshaking 状态时返回 false
func (c *Connection) Refuse(goodbye packet.Message) bool {
	if !c.Transition(Handshaking, Closed) {
		return false
	}
	c.closeOnce.Do(func() {
		close(c.closing)
		<-c.writerDone
		if goodbye != nil {
			if err := c.transport.Send([]packet.Message{goodbye}); err != nil && !IsNetClosedError(err) {
				logger.Warn("failed to send goodbye", "conn", c.ID, "error", err)
			}
		}
		_ = c.transport.Close()
		close(c.done)
	})
	return true
}

// Close 等待出站队列写完或宽限期结束后关闭底层传输，可重复调用
func (c *Connection) Close(grace time.Duration) error {
	c.BeginClose()
	c.closeOnce.Do(func() {
		c.closeErr = c.finish(grace)
	})
	return c.closeErr
}

func (c *Connection) finish(grace time.Duration) error {
	var err error
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-c.writerDone:
	case <-timer.C:
		err = fmt.Errorf("conn %s: %w", c.ID, ErrGracePeriodExceeded)
	}
	if closeErr := c.transport.Close(); closeErr != nil && !IsNetClosedError(closeErr) {
		logger.Warn("error while closing transport", "conn", c.ID, "error", closeErr)
	}
	// 强制关闭后阻塞中的写入会立即返回
	<-c.writerDone

	c.state.Store(int32(Closed))
	close(c.done)
	return err
}

// Done 连接进入 Closed 状态时关闭
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// WriteError 返回写协程遇到的错误
func (c *Connection) WriteError() error {
	if err := c.writeErr.Load(); err != nil {
		return *err
	}
	return nil
}
