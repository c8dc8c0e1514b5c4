// Package connection 实现客户端连接、出站队列与连接管理
package connection

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/packet"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/store"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/topic"
)

// Manager 连接管理器，同时负责把订阅引擎的投递转换为出站消息
type Manager struct {
	connections sync.Map
	count       atomic.Int64
}

func NewManager() *Manager {
	return &Manager{}
}

// AddConnection 添加连接
func (m *Manager) AddConnection(conn *Connection) {
	if _, loaded := m.connections.LoadOrStore(conn.ID, conn); !loaded {
		m.count.Add(1)
	}
	logger.Info("connection opened", "conn", conn.ID, "remote", conn.RemoteAddr(), "client", conn.ClientName())
}

// RemoveConnection 移除连接
func (m *Manager) RemoveConnection(connID string) {
	if _, loaded := m.connections.LoadAndDelete(connID); loaded {
		m.count.Add(-1)
		logger.Info("connection closed", "conn", connID)
	}
}

// GetConnection 获取连接
func (m *Manager) GetConnection(connID string) (*Connection, bool) {
	if value, ok := m.connections.Load(connID); ok {
		return value.(*Connection), true
	}
	return nil, false
}

func (m *Manager) Range(fn func(conn *Connection) bool) {
	m.connections.Range(func(_, value any) bool {
		return fn(value.(*Connection))
	})
}

func (m *Manager) Len() int {
	return int(m.count.Load())
}

func (m *Manager) DeliverAnnounce(connID string, t topic.Topic) {
	conn, ok := m.GetConnection(connID)
	if !ok {
		return
	}
	if conn.MarkAnnounced(t.ID) {
		conn.Enqueue(packet.NewAnnouncePacket(t), true)
	}
}

func (m *Manager) DeliverUnannounce(connID string, t topic.Topic) {
	conn, ok := m.GetConnection(connID)
	if !ok {
		return
	}
	if conn.ForgetAnnounced(t.ID) {
		conn.Enqueue(packet.NewUnannouncePacket(t), true)
	}
}

// DeliverValue 值更新之前必须先通告主题
func (m *Manager) DeliverValue(connID string, t topic.Topic, record store.Record) {
	conn, ok := m.GetConnection(connID)
	if !ok {
		return
	}
	if conn.MarkAnnounced(t.ID) {
		conn.Enqueue(packet.NewAnnouncePacket(t), true)
	}
	conn.Enqueue(packet.NewValueUpdatePacket(record), t.Retained())
}

func (m *Manager) DeliverProperties(connID string, t topic.Topic, update map[string]any) {
	conn, ok := m.GetConnection(connID)
	if !ok || !conn.Announced(t.ID) {
		return
	}
	conn.Enqueue(&packet.Properties{Name: t.Name, Update: update}, true)
}

func IsNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

func HandleReadError(connID string, err error) {
	switch {
	case errors.Is(err, io.EOF), websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		logger.InfoF("[%s] Client close connection", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%s] Reading timeout", connID)
	case errors.Is(err, frame.ErrProtocol):
		logger.WarnF("[%s] Malformed frame, details: %v", connID, err)
	case IsNetClosedError(err):
		logger.DebugF("[%s] Connection closed locally", connID)
	default:
		logger.ErrorF("[%s] Error occured while reading packet, details: %v", connID, err)
	}
}
