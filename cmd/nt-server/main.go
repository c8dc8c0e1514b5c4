package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/config"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/event"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/logger"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/server"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path of the config file (.json, .yaml or .yml)")
	flag.Parse()

	cfg, err := config.ReadConfig(*configPath)
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		os.Exit(1)
	}
	loggerCallback := logger.Init(cfg)
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)

	srv := server.New(cfg)
	if err := srv.Start(""); err != nil {
		logger.FatalF("Error occured while starting server, details: %v", err)
		cleaner.Clean()
		os.Exit(1)
	}
	cleaner.Add(event.CallableFunc(func(context.Context) error {
		return srv.Stop()
	}))

	if cfg.Watch.Prefix != "" {
		ctx, cancel := context.WithCancel(context.Background())
		// 逆序执行，先于 Stop 取消
		cleaner.Add(event.CallableFunc(func(context.Context) error {
			cancel()
			return nil
		}))
		events, err := srv.Watch(ctx, cfg.Watch.Prefix)
		if err != nil {
			logger.ErrorF("Fail to watch %s, details: %v", cfg.Watch.Prefix, err)
		} else {
			go logTopics(srv, cfg.Watch.Prefix, events)
		}
	}

	<-cleaner.Done()
}

// logTopics 主题集合变化时打印当前主题列表
func logTopics(srv *server.Server, prefix string, events <-chan server.WatchEvent) {
	for ev := range events {
		switch ev.Kind {
		case server.TopicAnnounced, server.TopicUnannounced:
			var names []string
			for t := range srv.ListTopics(prefix) {
				names = append(names, t.Name)
			}
			logger.Info("topics changed", "prefix", prefix, "event", ev.Kind.String(), "topic", ev.Topic.Name, "topics", strings.Join(names, ", "))
		case server.ValueChanged:
			logger.Debug("value changed", "topic", ev.Topic.Name, "seq", ev.Record.Sequence, "value", ev.Record.Value.String())
		case server.PropertiesChanged:
			logger.Debug("properties changed", "topic", ev.Topic.Name, "retained", ev.Topic.Retained())
		}
	}
}
