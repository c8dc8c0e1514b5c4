// Package server 实现主题表服务器核心：生命周期、监听、分发器与进程内接口
package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/config"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/connection"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/packet"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/store"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/subscription"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/topic"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/utils"
	"golang.org/x/sync/errgroup"
)

const dispatcherBuffer = 256

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrNotRunning     = errors.New("server not running")
)

type Server struct {
	config config.Config

	registry *topic.Registry
	store    *store.Store
	engine   *subscription.Engine
	manager  *connection.Manager
	clock    *utils.Clock

	// owned 进程内 API 创建的主题，不会被当作孤立主题删除；只在调度协程中访问
	owned map[string]struct{}

	mu         sync.Mutex
	running    bool
	listener   net.Listener
	wsListener net.Listener
	httpServer *http.Server
	group      *errgroup.Group
	dispatcher atomic.Pointer[dispatcher]

	// trackMu 保护 stopping 与 handlers.Add，停止后不再接收新的连接处理协程
	trackMu  sync.Mutex
	stopping bool
	handlers sync.WaitGroup
	sem      chan struct{}
}

func New(cfg config.Config) *Server {
	registry := topic.NewRegistry()
	values := store.New()
	manager := connection.NewManager()
	engine := subscription.NewEngine(registry, values, manager, subscription.Config{
		CacheSize: cfg.Server.MatchCacheSize,
		CacheTTL:  cfg.Server.MatchCacheTTLDuration(),
	})
	registry.OnEvent(engine.HandleTopicEvent)

	maxConnections := cfg.Server.MaxConnections
	if maxConnections <= 0 {
		maxConnections = config.Default().Server.MaxConnections
	}
	return &Server{
		config:   cfg,
		registry: registry,
		store:    values,
		engine:   engine,
		manager:  manager,
		clock:    utils.NewClock(),
		owned:    make(map[string]struct{}),
		sem:      make(chan struct{}, maxConnections),
	}
}

// Start 绑定监听地址并开始服务，地址为空时使用配置中的地址。绑定失败立即返回错误
func (s *Server) Start(bindAddr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if bindAddr == "" {
		bindAddr = s.config.Server.Address
	}

	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", bindAddr, err)
	}
	var wsLn net.Listener
	if s.config.WebSocket.Enabled {
		wsLn, err = net.Listen("tcp", s.config.WebSocket.Address)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen websocket on %s: %w", s.config.WebSocket.Address, err)
		}
	}

	s.trackMu.Lock()
	s.stopping = false
	s.trackMu.Unlock()

	d := newDispatcher(dispatcherBuffer)
	s.dispatcher.Store(d)
	s.listener = ln
	s.wsListener = wsLn
	s.group = &errgroup.Group{}
	s.group.Go(d.run)
	s.group.Go(func() error {
		return s.acceptLoop(ln)
	})
	logger.InfoF("Topic table server listen on %s", ln.Addr().String())

	if wsLn != nil {
		s.httpServer = s.newWebSocketServer()
		s.group.Go(func() error {
			if err := s.httpServer.Serve(wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("websocket server: %w", err)
			}
			return nil
		})
		logger.InfoF("WebSocket endpoint listen on ws://%s%s", wsLn.Addr().String(), s.config.WebSocket.Path)
	}

	s.running = true
	return nil
}

// Addr 返回 TCP 监听地址，未运行时返回 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WebSocketAddr 返回 WebSocket 监听地址，未启用时返回 nil
func (s *Server) WebSocketAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wsListener == nil {
		return nil
	}
	return s.wsListener.Addr()
}

// Stop 停止接收连接，向每个连接发送 Goodbye 并等待其关闭，最后清空会话状态
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}

	s.trackMu.Lock()
	s.stopping = true
	s.trackMu.Unlock()

	var errs []error
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	if s.httpServer != nil {
		// 已升级的连接不受 http.Server 管理，由下面的连接关闭流程处理
		if err := s.httpServer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	grace := s.config.Server.CloseGracePeriodDuration()
	var wg sync.WaitGroup
	s.manager.Range(func(conn *connection.Connection) bool {
		conn.Enqueue(packet.NewGoodbyePacket("server shutting down"), true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.Close(grace); err != nil {
				logger.Warn("connection force closed", "conn", conn.ID, "error", err)
			}
		}()
		return true
	})
	wg.Wait()

	handlersDone := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(handlersDone)
	}()
	timer := time.NewTimer(s.config.Server.ShutdownTimeoutDuration())
	select {
	case <-handlersDone:
	case <-timer.C:
		logger.Warn("timed out waiting for connections to close", "remaining", s.manager.Len())
	}
	timer.Stop()

	s.dispatcher.Load().stop()
	if err := s.group.Wait(); err != nil {
		errs = append(errs, err)
	}
	s.dispatcher.Store(nil)

	s.engine.Reset()
	s.store.Reset()
	s.registry.Reset()
	clear(s.owned)

	s.listener = nil
	s.wsListener = nil
	s.httpServer = nil
	s.running = false
	logger.Info("topic table server stopped")
	return errors.Join(errs...)
}

func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// track 登记一个连接处理协程，服务器停止中时返回 false
func (s *Server) track() bool {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if s.stopping {
		return false
	}
	s.handlers.Add(1)
	return true
}

func (s *Server) isStopping() bool {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	return s.stopping
}

// dispatch 在分发器协程中执行修改操作并等待完成
func (s *Server) dispatch(fn func()) error {
	d := s.dispatcher.Load()
	if d == nil {
		return ErrNotRunning
	}
	return d.do(fn)
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.ErrorF("Accept connection error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		logger.DebugF("Accepted new connection from %s", conn.RemoteAddr().String())
		s.serveTransport(connection.NewTCPTransport(conn, s.config.Server.MaxMessageSize, s.config.Server.WriteTimeoutDuration()), true)
	}
}

func (s *Server) newWebSocketServer() *http.Server {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.WebSocket.Path, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WarnF("WebSocket upgrade from %s failed, details: %v", r.RemoteAddr, err)
			return
		}
		// 在 HTTP 处理协程中直接服务该连接
		s.serveTransport(connection.NewWebSocketTransport(ws, s.config.Server.MaxMessageSize, s.config.Server.WriteTimeoutDuration()), false)
	})
	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: s.config.Server.HandshakeTimeoutDuration(),
	}
}

// serveTransport 为新的传输创建连接并运行处理协程；async 为 false 时在当前协程中运行
func (s *Server) serveTransport(transport connection.Transport, async bool) {
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warn("connection limit reached, rejecting", "remote", transport.RemoteAddr(), "limit", cap(s.sem))
		if !s.track() {
			_ = transport.Close()
			return
		}
		if async {
			go s.reject(transport, "connection limit reached")
			return
		}
		s.reject(transport, "connection limit reached")
		return
	}
	if !s.track() {
		<-s.sem
		_ = transport.Close()
		return
	}

	run := func() {
		defer func() {
			<-s.sem
			s.handlers.Done()
		}()
		conn := s.newConnection(transport)
		handler := &ConnectionHandler{server: s, conn: conn}
		handler.handleConnection()
	}
	if async {
		go run()
		return
	}
	run()
}

// reject 读取客户端的握手帧后回复 Goodbye 并关闭
func (s *Server) reject(transport connection.Transport, reason string) {
	defer s.handlers.Done()
	_ = transport.SetReadDeadline(time.Now().Add(s.config.Server.HandshakeTimeoutDuration()))
	_, _ = transport.Receive()
	_ = transport.Send([]packet.Message{packet.NewGoodbyePacket(reason)})
	_ = transport.Close()
}

func (s *Server) newConnection(transport connection.Transport) *connection.Connection {
	conn := connection.New(transport, connection.Options{
		QueueSize:    s.config.Server.OutboundQueueSize,
		PublishRate:  s.config.Server.PublishRate,
		PublishBurst: s.config.Server.PublishBurst,
	})
	s.manager.AddConnection(conn)
	return conn
}

// release 释放连接拥有的订阅，并删除只由该连接创建的非保留主题
func (s *Server) release(conn *connection.Connection) {
	s.manager.RemoveConnection(conn.ID)
	err := s.dispatch(func() {
		removed := s.engine.RemoveConnection(conn.ID)
		orphans := 0
		for _, name := range conn.Created() {
			if s.dropOrphan(name) {
				orphans++
			}
		}
		logger.Debug("connection released", "conn", conn.ID, "subscriptions", removed, "topics", orphans, "write_error", conn.WriteError())
	})
	if err != nil {
		// 服务器停止时会话状态整体清空
		logger.Debug("connection released after dispatcher stopped", "conn", conn.ID)
	}
}

func (s *Server) dropOrphan(name string) bool {
	t, ok := s.registry.LookupName(name)
	if !ok || t.Retained() {
		return false
	}
	if _, serverOwned := s.owned[name]; serverOwned {
		return false
	}
	owned := false
	s.manager.Range(func(other *connection.Connection) bool {
		owned = other.HasCreated(name)
		return !owned
	})
	if owned {
		return false
	}
	s.deleteTopic(t.Name)
	return true
}
