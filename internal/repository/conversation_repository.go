// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chat-cbd-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// ErrConversationNotFound 表示按 id 查找的会话不存在。
// 调度层将其视为"创建新会话"，而不是失败。
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository 定义了会话记录的读写接口。
// 会话按 (用户 id, 会话 id) 定位，写入为整体覆盖。
type ConversationRepository interface {
	Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error)
	Put(ctx context.Context, userID string, conversation *model.Conversation) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(userID, conversationID string) string {
	return fmt.Sprintf("user:%s:conversation:%s", userID, conversationID)
}

// Get 从 Redis 读取一条会话记录。
func (r *redisConversationRepository) Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(userID, conversationID)).Result()
	if err == redis.Nil {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	var conversation model.Conversation
	if err := json.Unmarshal([]byte(jsonData), &conversation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conversation, nil
}

// Put 将整条会话记录写入 Redis（覆盖写，不做增量更新）。
func (r *redisConversationRepository) Put(ctx context.Context, userID string, conversation *model.Conversation) error {
	jsonData, err := json.Marshal(conversation)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	// 会话记录长期保留，不设置过期时间
	if err := r.redisClient.Set(ctx, conversationKey(userID, conversation.ID), jsonData, 0).Err(); err != nil {
		return fmt.Errorf("failed to set conversation: %w", err)
	}
	return nil
}
