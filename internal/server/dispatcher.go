package server

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/logger"
)

// dispatcher 单协程按提交顺序执行修改操作，是注册表、值存储和订阅的唯一写者
type dispatcher struct {
	tasks    chan func()
	quit     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

func newDispatcher(buffer int) *dispatcher {
	return &dispatcher{
		tasks:  make(chan func(), buffer),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (d *dispatcher) run() error {
	defer close(d.exited)
	for {
		select {
		case task := <-d.tasks:
			d.execute(task)
		case <-d.quit:
			return nil
		}
	}
}

func (d *dispatcher) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatcher task panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	task()
}

// do 提交任务并等待其执行完毕。分发器已停止时返回 ErrNotRunning，任务不会执行
func (d *dispatcher) do(fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case d.tasks <- task:
	case <-d.quit:
		return ErrNotRunning
	}
	select {
	case <-done:
		return nil
	case <-d.exited:
		select {
		case <-done:
			return nil
		default:
			return ErrNotRunning
		}
	}
}

func (d *dispatcher) stop() {
	d.stopOnce.Do(func() { close(d.quit) })
}
