package connection

import (
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/logger"
)

// run 写协程：被唤醒时发送队列中全部消息，进入 Closing 后发送剩余消息并退出
func (c *Connection) run() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.notify:
			if err := c.flush(); err != nil {
				c.abort(err)
				return
			}
		case <-c.closing:
			if err := c.flush(); err != nil {
				c.abort(err)
			}
			return
		}
	}
}

func (c *Connection) flush() error {
	for {
		batch := c.queue.Drain()
		if len(batch) == 0 {
			return nil
		}
		if err := c.transport.Send(batch); err != nil {
			return err
		}
		logger.Debug("flushed outbound messages", "conn", c.ID, "count", len(batch))
	}
}

// abort 写失败后关闭传输，使读循环退出
func (c *Connection) abort(err error) {
	c.writeErr.Store(&err)
	if !IsNetClosedError(err) {
		logger.Warn("failed to send data", "conn", c.ID, "error", err)
	}
	_ = c.transport.Close()
}
