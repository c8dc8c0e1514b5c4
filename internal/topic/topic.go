// Package topic 实现主题注册表：主题名到主题元数据的映射以及稳定的主题 ID 分配
package topic

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/value"
)

var (
	ErrTypeConflict = errors.New("topic type conflict")
	ErrInvalidName  = errors.New("invalid topic name")
	ErrNotFound     = errors.New("topic not found")
)

const (
	PropertyPersistent = "persistent"
	PropertyRetained   = "retained"
)

// Properties 主题属性，persistent 与 retained 会被服务器解释，其余原样保存
type Properties map[string]any

func (p Properties) flag(key string) bool {
	b, ok := p[key].(bool)
	return ok && b
}

func (p Properties) Persistent() bool {
	return p.flag(PropertyPersistent)
}

func (p Properties) Retained() bool {
	return p.flag(PropertyRetained)
}

func (p Properties) Clone() Properties {
	if p == nil {
		return Properties{}
	}
	return maps.Clone(p)
}

// Apply 合并属性更新，值为 nil 的键会被删除
func (p Properties) Apply(update map[string]any) Properties {
	out := p.Clone()
	for k, v := range update {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

type Topic struct {
	ID         int32
	Name       string
	Type       value.DataType
	Properties Properties
}

// Retained 主题是否需要在连接变动后保留最新值并在订阅时重发
func (t Topic) Retained() bool {
	return t.Properties.Retained() || t.Properties.Persistent()
}

func (t Topic) String() string {
	return fmt.Sprintf("%s#%d(%s)", t.Name, t.ID, t.Type)
}

func (t Topic) clone() Topic {
	t.Properties = t.Properties.Clone()
	return t
}

// ValidateName 主题名非空、以 '/' 分层且不能以 '/' 结尾（以 '/' 结尾的是前缀订阅）
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: %q must not end with '/'", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, "\x00") {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidName, name)
	}
	return nil
}
