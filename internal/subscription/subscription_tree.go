package subscription

import (
	"strings"
)

// topicTreeNode 订阅树节点，按 '/' 分层
type topicTreeNode struct {
	level string // 当前层级名称（如 "chalkydri"）

	// 直接子节点（精确匹配）
	children map[string]*topicTreeNode

	// 精确订阅：模式等于当前节点路径，key=连接ID
	terminals map[string]Subscription

	// 前缀订阅：模式等于当前节点路径加 '/'，匹配所有更深的主题，key=连接ID
	prefixes map[string]Subscription
}

func newNode(level string) *topicTreeNode {
	return &topicTreeNode{
		level:     level,
		children:  make(map[string]*topicTreeNode),
		terminals: make(map[string]Subscription),
		prefixes:  make(map[string]Subscription),
	}
}

func (n *topicTreeNode) empty() bool {
	return len(n.children) == 0 && len(n.terminals) == 0 && len(n.prefixes) == 0
}

// patternLevels 将模式拆分为层级，前缀模式去掉末尾的 '/'
func patternLevels(pattern string) (levels []string, prefix bool) {
	if trimmed, ok := strings.CutSuffix(pattern, "/"); ok {
		return strings.Split(trimmed, "/"), true
	}
	return strings.Split(pattern, "/"), false
}

func (n *topicTreeNode) insert(sub Subscription) {
	levels, prefix := patternLevels(sub.Pattern)
	current := n
	for _, level := range levels {
		child, ok := current.children[level]
		if !ok {
			child = newNode(level)
			current.children[level] = child
		}
		current = child
	}
	if prefix {
		current.prefixes[sub.ConnID] = sub
	} else {
		current.terminals[sub.ConnID] = sub
	}
}

// remove 删除订阅并回收空节点
func (n *topicTreeNode) remove(connID, pattern string) bool {
	levels, prefix := patternLevels(pattern)
	return n.removeAt(levels, prefix, connID)
}

func (n *topicTreeNode) removeAt(levels []string, prefix bool, connID string) bool {
	if len(levels) == 0 {
		target := n.terminals
		if prefix {
			target = n.prefixes
		}
		if _, ok := target[connID]; !ok {
			return false
		}
		delete(target, connID)
		return true
	}
	child, ok := n.children[levels[0]]
	if !ok {
		return false
	}
	removed := child.removeAt(levels[1:], prefix, connID)
	if removed && child.empty() {
		delete(n.children, levels[0])
	}
	return removed
}

// match 收集匹配主题名的全部订阅
func (n *topicTreeNode) match(name string, visit func(Subscription)) {
	levels := strings.Split(name, "/")
	current := n
	for i, level := range levels {
		child, ok := current.children[level]
		if !ok {
			return
		}
		current = child
		if i < len(levels)-1 {
			// 还有更深的层级，当前节点的前缀订阅匹配
			for _, sub := range current.prefixes {
				visit(sub)
			}
			continue
		}
		for _, sub := range current.terminals {
			visit(sub)
		}
	}
}

// Match 判断模式是否匹配主题名：精确相等，或模式以 '/' 结尾且为主题名的真前缀
func Match(pattern, name string) bool {
	if pattern == "" || name == "" {
		return false
	}
	if strings.HasSuffix(pattern, "/") {
		return len(name) > len(pattern) && strings.HasPrefix(name, pattern)
	}
	return pattern == name
}
