package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	_, err := ReadConfig(path)
	require.Error(t, err)
	require.FileExists(t, path)

	config, err := ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, Default(), config)
}

// 匹配缓存默认不过期，不会启动后台清理协程
func TestDefaultMatchCacheNeverExpires(t *testing.T) {
	config := Default()
	require.Equal(t, "0s", config.Server.MatchCacheTTL)
	require.Zero(t, config.Server.MatchCacheTTLDuration())
	require.NoError(t, config.Validate())
}

func TestReadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"server":{"address":"127.0.0.1:9000","close_grace_period":"500ms"},"debug_mode":true}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	config, err := ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", config.Server.Address)
	require.Equal(t, 500*time.Millisecond, config.Server.CloseGracePeriodDuration())
	require.True(t, config.DebugMode)
	// 未出现的字段保留默认值
	require.Equal(t, 1024, config.Server.OutboundQueueSize)
}

func TestReadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "server:\n  address: \":1800\"\nwebsocket:\n  enabled: true\n  path: /nt/\nwatch:\n  prefix: /robot/\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	config, err := ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":1800", config.Server.Address)
	require.True(t, config.WebSocket.Enabled)
	require.Equal(t, "/robot/", config.Watch.Prefix)
}

func TestReadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := ReadConfig(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"empty address", func(c *Config) { c.Server.Address = "" }, false},
		{"zero queue", func(c *Config) { c.Server.OutboundQueueSize = 0 }, false},
		{"bad duration", func(c *Config) { c.Server.CloseGracePeriod = "soon" }, false},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, false},
		{"websocket without slash", func(c *Config) {
			c.WebSocket.Enabled = true
			c.WebSocket.Path = "nt"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(&config)
			err := config.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
