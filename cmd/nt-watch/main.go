package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/client"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/config"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/packet"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/subscription"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:1735", "server TCP address")
	wsURL := flag.String("ws", "", "server WebSocket url, e.g. ws://127.0.0.1:5810/nt/ (overrides -addr)")
	prefix := flag.String("prefix", config.Default().Watch.Prefix, "topic name or prefix ending with '/'")
	topicsOnly := flag.Bool("topics-only", false, "only print topic announcements")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *addr, *wsURL, *prefix, *topicsOnly); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorF("nt-watch: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, wsURL, prefix string, topicsOnly bool) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	options := client.Options{Name: "nt-watch", KeepAlive: 5}
	var (
		c   *client.Client
		err error
	)
	if wsURL != "" {
		c, err = client.DialWebSocket(dialCtx, wsURL, options)
	} else {
		c, err = client.Dial(dialCtx, addr, options)
	}
	if err != nil {
		return err
	}
	defer c.Close()
	logger.InfoF("Connected as %s", c.ID)

	if err := c.Subscribe(dialCtx, prefix, subscription.Options{TopicsOnly: topicsOnly}); err != nil {
		return fmt.Errorf("subscribe %s: %w", prefix, err)
	}

	// 保持心跳
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := c.Ping(); err != nil {
					return
				}
			case <-c.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	names := make(map[int32]string)
	for {
		message, err := c.Recv(ctx)
		if err != nil {
			return err
		}
		switch m := message.(type) {
		case *packet.Announce:
			names[m.ID] = m.Name
			fmt.Printf("+ %s (%s)\n", m.Name, m.Type)
		case *packet.Unannounce:
			delete(names, m.ID)
			fmt.Printf("- %s\n", m.Name)
		case *packet.ValueUpdate:
			fmt.Printf("  %s = %s (seq %d)\n", names[m.TopicID], m.Value, m.Sequence)
		case *packet.Goodbye:
			return fmt.Errorf("server said goodbye: %s", m.Reason)
		}
	}
}
