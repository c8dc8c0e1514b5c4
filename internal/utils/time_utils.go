package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration 解析配置中的时间字符串，支持 Go 标准格式（如 "500ms"、"1m30s"）
// 以及按天计算的 "2d"
func ParseDuration(timeString string) (time.Duration, error) {
	timeString = strings.TrimSpace(strings.ToLower(timeString))
	if timeString == "" {
		return 0, nil
	}
	if cutString, found := strings.CutSuffix(timeString, "d"); found {
		number, err := strconv.Atoi(cutString)
		if err != nil {
			return 0, fmt.Errorf("invalid time format %q: %w", timeString, err)
		}
		return time.Duration(number) * time.Hour * 24, nil
	}
	duration, err := time.ParseDuration(timeString)
	if err != nil {
		return 0, fmt.Errorf("invalid time format %q: %w", timeString, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("invalid time format %q: negative duration", timeString)
	}
	return duration, nil
}

// ParseStringTime 同 ParseDuration，解析失败时返回 0
func ParseStringTime(timeString string) time.Duration {
	duration, err := ParseDuration(timeString)
	if err != nil {
		return 0
	}
	return duration
}

// Clock 服务器单调时钟，以启动时刻为零点，单位微秒
type Clock struct {
	start time.Time
}

func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// Now 返回自时钟创建以来经过的微秒数，保证单调不减
func (c *Clock) Now() int64 {
	return time.Since(c.start).Microseconds()
}
