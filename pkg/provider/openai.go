package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"chat-cbd-go/internal/config"

	"github.com/sashabaranov/go-openai"
)

// 文本生成的策略常量，与线上行为对齐，不暴露给调用方配置。
const (
	chatTemperature      = 0.5
	chatMaxTokens        = 2000
	chatTopP             = 1
	chatFrequencyPenalty = 0.5
	chatPresencePenalty  = 0
)

const defaultChatModel = "gpt-4"

// OpenAIClient 同时承担文本补全和 DALL-E 图像生成两种能力，
// 两者共用同一份凭证和 HTTP 客户端。
type OpenAIClient struct {
	client     *openai.Client
	chatModel  string
	maxRetries int
}

// NewOpenAIClient 基于显式传入的配置创建一个 OpenAI 客户端。
func NewOpenAIClient(cfg config.OpenAIConfig) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	timeout := 60 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = defaultChatModel
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientConfig),
		chatModel:  chatModel,
		maxRetries: cfg.MaxRetries,
	}
}

// GenerateText 以完整历史视图调用聊天补全接口，返回首个选项的正文。
func (c *OpenAIClient) GenerateText(ctx context.Context, history []Message) (string, error) {
	messages := make([]openai.ChatCompletionMessage, len(history))
	for i, m := range history {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	var result string
	err := withRetry(ctx, c.maxRetries, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:            c.chatModel,
			Messages:         messages,
			Temperature:      chatTemperature,
			MaxTokens:        chatMaxTokens,
			TopP:             chatTopP,
			FrequencyPenalty: chatFrequencyPenalty,
			PresencePenalty:  chatPresencePenalty,
		})
		if err != nil {
			return mapOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return &Error{Message: "chat completion returned no choices"}
		}
		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		if content == "" {
			return &Error{Message: "chat completion returned empty content"}
		}
		result = content
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// GenerateImage 请求一张指定尺寸的图像，响应格式为远程 URL。
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt, size string) ([]string, error) {
	var urls []string
	err := withRetry(ctx, c.maxRetries, func() error {
		resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         prompt,
			N:              1,
			Size:           size,
			ResponseFormat: openai.CreateImageResponseFormatURL,
		})
		if err != nil {
			return mapOpenAIError(err)
		}
		if len(resp.Data) == 0 {
			return &Error{Message: "image generation returned no data"}
		}
		urls = []string{resp.Data[0].URL}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return urls, nil
}

// mapOpenAIError 将 SDK 错误归一化为本包的错误类型：
// 上游的明确拒绝保留状态码和消息，其余视为网络故障。
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Status: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return &TransportError{Err: err}
}
