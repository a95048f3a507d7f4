// Package provider 封装了对第三方生成服务（文本与图像）的访问。
package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"chat-cbd-go/pkg/log"
)

// Message 表示发送给文本提供商的一条角色消息（历史视图）。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextProvider 定义了聊天补全能力的统一契约。
type TextProvider interface {
	// GenerateText 基于完整的历史视图生成一条回复文本。
	GenerateText(ctx context.Context, history []Message) (string, error)
}

// ImageProvider 定义了按提示词生成图像的统一契约。
// 返回值中的每个元素要么是远程 URL，要么是 base64 编码的图像数据，
// 顺序与提供商返回的顺序一致。
type ImageProvider interface {
	GenerateImage(ctx context.Context, prompt, size string) ([]string, error)
}

// Error 表示远程服务拒绝了请求（非成功响应）。
// Status 为 0 时表示上游状态码不可用。
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider rejected request (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider rejected request: %s", e.Message)
}

// TransportError 表示到达提供商之前的网络或连接故障。
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// withRetry 以指数退避重试 fn，但仅针对 TransportError；
// 提供商的明确拒绝（Error）不可重试。
func withRetry(ctx context.Context, maxRetries int, fn func() error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		var te *TransportError
		if !errors.As(err, &te) {
			return err
		}
		if attempt < maxRetries-1 {
			waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			log.Warnf("provider 调用失败，%s 后重试 (attempt %d/%d): %v", waitTime, attempt+1, maxRetries, err)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
