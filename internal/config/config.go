package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/utils"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.json"

type ServerConfig struct {
	Address           string  `json:"address" yaml:"address"`
	MaxConnections    int     `json:"max_connections" yaml:"max_connections"`
	MaxMessageSize    int     `json:"max_message_size" yaml:"max_message_size"`
	OutboundQueueSize int     `json:"outbound_queue_size" yaml:"outbound_queue_size"`
	HandshakeTimeout  string  `json:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout      string  `json:"write_timeout" yaml:"write_timeout"`
	CloseGracePeriod  string  `json:"close_grace_period" yaml:"close_grace_period"`
	ShutdownTimeout   string  `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	PublishRate       float64 `json:"publish_rate" yaml:"publish_rate"`
	PublishBurst      int     `json:"publish_burst" yaml:"publish_burst"`
	MatchCacheSize    int     `json:"match_cache_size" yaml:"match_cache_size"`
	MatchCacheTTL     string  `json:"match_cache_ttl" yaml:"match_cache_ttl"` // "0s" 表示不过期
}

type WebSocketConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
	Path    string `json:"path" yaml:"path"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"` // debug, info, warn, error
	Dir   string `json:"dir" yaml:"dir"`     // 为空时只输出到标准输出
}

// WatchConfig 替代原先轮询 getTopics 的脚本，服务器自身订阅该前缀并打印主题
type WatchConfig struct {
	Prefix string `json:"prefix" yaml:"prefix"`
}

type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Watch     WatchConfig     `json:"watch" yaml:"watch"`
	DebugMode bool            `json:"debug_mode" yaml:"debug_mode"`
	AppName   string          `json:"app_name" yaml:"app_name"`
}

// Default 返回带有全部默认值的配置
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:           ":1735",
			MaxConnections:    1024,
			MaxMessageSize:    1 << 20,
			OutboundQueueSize: 1024,
			HandshakeTimeout:  "10s",
			WriteTimeout:      "5s",
			CloseGracePeriod:  "2s",
			ShutdownTimeout:   "5s",
			PublishRate:       0,
			PublishBurst:      0,
			MatchCacheSize:    512,
			MatchCacheTTL:     "0s",
		},
		WebSocket: WebSocketConfig{
			Enabled: false,
			Address: ":5810",
			Path:    "/nt/",
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "logs",
		},
		Watch: WatchConfig{
			Prefix: "/chalkydri/",
		},
		AppName: "life-stream-nt-server",
	}
}

// ReadConfig 读取配置文件，文件不存在时写出默认配置并返回错误
func ReadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}
	config := Default()

	bytes, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return config, fmt.Errorf("unable to read configuration file %s: %w", path, err)
		}
		if err := writeDefault(path, config); err != nil {
			return config, err
		}
		return config, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	if isYAML(path) {
		err = yaml.Unmarshal(bytes, &config)
	} else {
		err = json.Unmarshal(bytes, &config)
	}
	if err != nil {
		return config, fmt.Errorf("the configuration file %s is not valid: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func writeDefault(path string, config Config) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(config)
	} else {
		data, err = json.MarshalIndent(config, "", "\t")
	}
	if err != nil {
		return fmt.Errorf("unable to encode default configuration: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("unable to create configuration directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("unable to write default configuration: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Validate 检查配置取值
func (c Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address must not be empty"))
	}
	if c.Server.MaxConnections <= 0 {
		errs = append(errs, errors.New("server.max_connections must be positive"))
	}
	if c.Server.MaxMessageSize <= 0 || c.Server.MaxMessageSize > 268435455 {
		errs = append(errs, errors.New("server.max_message_size must be in (0, 268435455]"))
	}
	if c.Server.OutboundQueueSize <= 0 {
		errs = append(errs, errors.New("server.outbound_queue_size must be positive"))
	}
	if c.Server.PublishRate < 0 || c.Server.PublishBurst < 0 {
		errs = append(errs, errors.New("server.publish_rate and server.publish_burst must not be negative"))
	}
	for name, value := range map[string]string{
		"server.handshake_timeout":  c.Server.HandshakeTimeout,
		"server.write_timeout":      c.Server.WriteTimeout,
		"server.close_grace_period": c.Server.CloseGracePeriod,
		"server.shutdown_timeout":   c.Server.ShutdownTimeout,
		"server.match_cache_ttl":    c.Server.MatchCacheTTL,
	} {
		if _, err := utils.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.WebSocket.Enabled {
		if c.WebSocket.Address == "" {
			errs = append(errs, errors.New("websocket.address must not be empty when websocket is enabled"))
		}
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			errs = append(errs, errors.New("websocket.path must start with '/'"))
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

func (s ServerConfig) HandshakeTimeoutDuration() time.Duration {
	return utils.ParseStringTime(s.HandshakeTimeout)
}

func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return utils.ParseStringTime(s.WriteTimeout)
}

func (s ServerConfig) CloseGracePeriodDuration() time.Duration {
	return utils.ParseStringTime(s.CloseGracePeriod)
}

func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return utils.ParseStringTime(s.ShutdownTimeout)
}

func (s ServerConfig) MatchCacheTTLDuration() time.Duration {
	return utils.ParseStringTime(s.MatchCacheTTL)
}
