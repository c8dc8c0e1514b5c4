// Package frame 实现了主题表协议的帧类型定义和分帧编解码
package frame

import (
	"errors"
	"fmt"
)

// Kind 定义了帧的消息类型
type Kind byte

const (
	HELLO          Kind = iota + 1 // 握手，双向
	CREATE_TOPIC                   // 创建主题
	DELETE_TOPIC                   // 删除主题
	SUBSCRIBE                      // 订阅请求
	UNSUBSCRIBE                    // 取消订阅
	PUBLISH                        // 发布值
	ANNOUNCE                       // 主题通告（服务器 -> 客户端）
	UNANNOUNCE                     // 主题移除通告
	VALUE_UPDATE                   // 值更新
	GOODBYE                        // 断开连接，双向
	SUBACK                         // 订阅确认
	SET_PROPERTIES                 // 修改主题属性
	PROPERTIES                     // 主题属性更新
	ERROR                          // 错误报告
	PING                           // 心跳 / 时间同步请求
	PONG                           // 心跳 / 时间同步响应
)

var kindNames = map[Kind]string{
	HELLO:          "HELLO",
	CREATE_TOPIC:   "CREATE_TOPIC",
	DELETE_TOPIC:   "DELETE_TOPIC",
	SUBSCRIBE:      "SUBSCRIBE",
	UNSUBSCRIBE:    "UNSUBSCRIBE",
	PUBLISH:        "PUBLISH",
	ANNOUNCE:       "ANNOUNCE",
	UNANNOUNCE:     "UNANNOUNCE",
	VALUE_UPDATE:   "VALUE_UPDATE",
	GOODBYE:        "GOODBYE",
	SUBACK:         "SUBACK",
	SET_PROPERTIES: "SET_PROPERTIES",
	PROPERTIES:     "PROPERTIES",
	ERROR:          "ERROR",
	PING:           "PING",
	PONG:           "PONG",
}

// 客户端允许发送的帧类型
var clientKinds = map[Kind]bool{
	HELLO:          true,
	CREATE_TOPIC:   true,
	DELETE_TOPIC:   true,
	SUBSCRIBE:      true,
	UNSUBSCRIBE:    true,
	PUBLISH:        true,
	SET_PROPERTIES: true,
	PING:           true,
	GOODBYE:        true,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", byte(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// FromClient 判断该类型是否允许由客户端发送
func (k Kind) FromClient() bool {
	return clientKinds[k]
}

// ErrProtocol 表示收到格式错误的帧，连接必须关闭
var ErrProtocol = errors.New("protocol error")

// Frame 完整的一帧：类型 + 负载
type Frame struct {
	Kind Kind
	Body []byte
}
