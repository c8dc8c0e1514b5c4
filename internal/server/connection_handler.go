package server

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/connection"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/frame"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/packet"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/value"
)

var errHandshake = errors.New("handshake failed")

// keepAliveSlack 在客户端声明的心跳间隔之外额外等待的时间
const keepAliveSlack = 10 * time.Second

type ConnectionHandler struct {
	server    *Server
	conn      *connection.Connection
	keepAlive time.Duration
}

func (c *ConnectionHandler) transport() connection.Transport {
	return c.conn.Transport()
}

func (c *ConnectionHandler) goodbye(reason string) {
	c.conn.Enqueue(packet.NewGoodbyePacket(reason), true)
}

// refuse 握手失败，reason 为空时不发送 Goodbye
func (c *ConnectionHandler) refuse(reason string) {
	var goodbye packet.Message
	if reason != "" {
		goodbye = packet.NewGoodbyePacket(reason)
	}
	if !c.conn.Refuse(goodbye) && goodbye != nil {
		// 服务器停止时连接已进入 Closing，交给写协程发送
		c.goodbye(reason)
	}
}

func (c *ConnectionHandler) handleFirstPacket() error {
	if !c.conn.Transition(connection.Connecting, connection.Handshaking) {
		return errHandshake
	}

	_ = c.transport().SetReadDeadline(time.Now().Add(c.server.config.Server.HandshakeTimeoutDuration()))
	message, err := c.transport().Receive()
	if err != nil {
		logger.WarnF("[%s] Fail to read first packet, details: %v", c.conn.ID, err)
		if errors.Is(err, frame.ErrProtocol) {
			c.refuse("malformed handshake")
		} else {
			c.refuse("")
		}
		return err
	}

	hello, ok := message.(*packet.Hello)
	if !ok {
		logger.ErrorF("[%s] Invalid first packet type, expected %s packet, but got %s packet", c.conn.ID, frame.HELLO, message.Kind())
		c.refuse("expected HELLO")
		return errHandshake
	}
	if hello.Version != packet.ProtocolVersion {
		logger.ErrorF("[%s] Unsupported protocol version %d", c.conn.ID, hello.Version)
		c.refuse(fmt.Sprintf("unsupported protocol version %d, server speaks %d", hello.Version, packet.ProtocolVersion))
		return errHandshake
	}

	c.conn.SetClientName(hello.ClientName)
	if !c.conn.Transition(connection.Handshaking, connection.Active) {
		// 服务器停止时连接已进入 Closing
		return errHandshake
	}
	c.conn.Enqueue(&packet.Hello{
		Version:    packet.ProtocolVersion,
		ClientName: c.server.config.AppName,
		KeepAlive:  hello.KeepAlive,
		ConnID:     c.conn.ID,
		ServerTime: c.server.clock.Now(),
	}, true)

	c.keepAlive = time.Duration(hello.KeepAlive) * time.Second
	if c.keepAlive == 0 {
		logger.WarnF("[%s] Keep alive set to 0, heartbeat disable", c.conn.ID)
	}
	_ = c.transport().SetReadDeadline(time.Time{})
	logger.Info("handshake completed", "conn", c.conn.ID, "client", hello.ClientName, "keep_alive", hello.KeepAlive)
	return nil
}

func (c *ConnectionHandler) handlePacket() {
	for {
		if c.keepAlive != 0 {
			_ = c.transport().SetReadDeadline(time.Now().Add(c.keepAlive + keepAliveSlack))
		}

		message, err := c.transport().Receive()
		if err != nil {
			if c.conn.State() != connection.Active {
				return
			}
			connection.HandleReadError(c.conn.ID, err)
			if errors.Is(err, frame.ErrProtocol) {
				c.goodbye("protocol error")
			}
			return
		}

		logger.DebugF("[%s] Receive %s package, data %+v", c.conn.ID, message.Kind(), message)

		if !message.Kind().FromClient() {
			logger.WarnF("[%s] %s package is not allowed from client", c.conn.ID, message.Kind())
			c.goodbye("protocol error")
			return
		}

		switch m := message.(type) {
		case *packet.Hello:
			logger.ErrorF("[%s] Duplicate HELLO package", c.conn.ID)
			c.goodbye("duplicate HELLO")
			return
		case *packet.CreateTopic:
			c.handleCreateTopic(m)
		case *packet.DeleteTopic:
			c.handleDeleteTopic(m)
		case *packet.Subscribe:
			c.handleSubscribe(m)
		case *packet.Unsubscribe:
			c.handleUnsubscribe(m)
		case *packet.Publish:
			c.handlePublish(m)
		case *packet.SetProperties:
			c.handleSetProperties(m)
		case *packet.Ping:
			c.conn.Enqueue(&packet.Pong{ClientTime: m.ClientTime, ServerTime: c.server.clock.Now()}, true)
		case *packet.Goodbye:
			logger.InfoF("[%s] Client disconnect, reason: %s", c.conn.ID, m.Reason)
			return
		}
	}
}

func (c *ConnectionHandler) handleCreateTopic(m *packet.CreateTopic) {
	typ, err := value.ParseType(m.Type)
	if err != nil {
		sendError(c.conn, err, m.Name)
		return
	}
	c.dispatch(func() {
		t, created, err := c.server.createTopic(m.Name, typ, m.Properties)
		if err != nil {
			sendError(c.conn, err, m.Name)
			return
		}
		c.conn.AddCreated(t.Name)
		// 创建者需要主题 ID 才能发布；主题已存在时总是回复通告
		if created {
			c.server.manager.DeliverAnnounce(c.conn.ID, t)
			return
		}
		c.conn.MarkAnnounced(t.ID)
		c.conn.Enqueue(packet.NewAnnouncePacket(t), true)
	})
}

func (c *ConnectionHandler) handleDeleteTopic(m *packet.DeleteTopic) {
	c.dispatch(func() {
		// 主题不存在时静默忽略
		if _, ok := c.server.deleteTopic(m.Name); ok {
			c.conn.RemoveCreated(m.Name)
		}
	})
}

// handleSubscribe SubAck 在已有主题的通告之后入队，之后的发布都会送达
func (c *ConnectionHandler) handleSubscribe(m *packet.Subscribe) {
	c.dispatch(func() {
		if _, err := c.server.engine.Subscribe(c.conn.ID, m.Pattern, m.Options); err != nil {
			sendError(c.conn, err, m.Pattern)
			return
		}
		c.conn.Enqueue(&packet.SubAck{Pattern: m.Pattern}, true)
	})
}

func (c *ConnectionHandler) handleUnsubscribe(m *packet.Unsubscribe) {
	c.dispatch(func() {
		c.server.engine.Unsubscribe(c.conn.ID, m.Pattern)
	})
}

func (c *ConnectionHandler) handlePublish(m *packet.Publish) {
	ref := strconv.Itoa(int(m.TopicID))
	if !c.conn.AllowPublish() {
		c.conn.Enqueue(&packet.Error{Code: packet.ErrorRateLimited, Message: "publish rate exceeded", Ref: ref}, true)
		return
	}
	c.dispatch(func() {
		t, ok := c.server.registry.Lookup(m.TopicID)
		if !ok {
			sendError(c.conn, unknownTopicID(m.TopicID), ref)
			return
		}
		if _, err := c.server.publish(t, m.Value, m.Timestamp); err != nil {
			sendError(c.conn, err, t.Name)
		}
	})
}

func (c *ConnectionHandler) handleSetProperties(m *packet.SetProperties) {
	c.dispatch(func() {
		t, err := c.server.registry.SetProperties(m.Name, m.Update)
		if err != nil {
			sendError(c.conn, err, m.Name)
			return
		}
		c.conn.Enqueue(&packet.Properties{Name: t.Name, Update: m.Update, Ack: true}, true)
	})
}

func (c *ConnectionHandler) dispatch(fn func()) {
	if err := c.server.dispatch(fn); err != nil {
		logger.DebugF("[%s] Request dropped, details: %v", c.conn.ID, err)
	}
}

func (c *ConnectionHandler) handleConnection() {
	defer func() {
		if err := c.conn.Close(c.server.config.Server.CloseGracePeriodDuration()); err != nil {
			logger.WarnF("[%s] Error occured while closing connection, details: %v", c.conn.ID, err)
		}
		c.server.release(c.conn)
		logger.DebugF("[%s] Connection closed", c.conn.ID)
	}()

	if c.server.isStopping() {
		c.goodbye("server shutting down")
		return
	}

	if err := c.handleFirstPacket(); err != nil {
		return
	}

	c.handlePacket()
}
