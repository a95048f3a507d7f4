// Package model 包含了应用的数据模型定义。
package model

// Role 表示消息的发送方。
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// MessageType 表示消息承载的内容种类。
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
)

// Message 代表会话中的一个回合。
// 不变式：text 消息只有 Content 有意义，image 消息只有 Images 有意义。
type Message struct {
	Role    Role        `json:"role"`
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
	Images  []string    `json:"images,omitempty"`
}

// Conversation 代表一个用户的一段会话，消息按回合顺序只增不改。
type Conversation struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}
