package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chat-cbd-go/internal/config"
)

// 图像生成的策略常量，与线上行为对齐。
const (
	stabilityPromptWeight       = 0.5
	stabilityCfgScale           = 7
	stabilityClipGuidancePreset = "FAST_BLUE"
	stabilitySamples            = 1
	stabilitySteps              = 30
)

const defaultStabilityEngine = "stable-diffusion-v1-5"

// StabilityClient 调用 Stability 的 text-to-image 接口生成图像。
type StabilityClient struct {
	cfg        config.StabilityConfig
	client     *http.Client
	maxRetries int
}

// NewStabilityClient 基于显式传入的配置创建一个 Stability 客户端。
func NewStabilityClient(cfg config.StabilityConfig) *StabilityClient {
	if cfg.APIHost == "" {
		cfg.APIHost = "https://api.stability.ai"
	}
	if cfg.EngineID == "" {
		cfg.EngineID = defaultStabilityEngine
	}
	timeout := 120 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &StabilityClient{
		cfg:        cfg,
		client:     &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
	}
}

type textPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type generationRequest struct {
	TextPrompts        []textPrompt `json:"text_prompts"`
	CfgScale           float64      `json:"cfg_scale"`
	ClipGuidancePreset string       `json:"clip_guidance_preset"`
	Height             int          `json:"height"`
	Width              int          `json:"width"`
	Samples            int          `json:"samples"`
	Steps              int          `json:"steps"`
}

type generationResponse struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		Seed         int64  `json:"seed"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
}

// ParseSize 将 "<width>x<height>" 形式的尺寸字符串解析为数值。
func ParseSize(size string) (width, height int, err error) {
	w, h, ok := strings.Cut(size, "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid image size %q: expected <width>x<height>", size)
	}
	width, err = strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid image width %q: %w", w, err)
	}
	height, err = strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid image height %q: %w", h, err)
	}
	return width, height, nil
}

// GenerateImage 以单条加权提示词请求生成图像，
// 按提供商返回的顺序返回所有 base64 编码的图像数据。
func (c *StabilityClient) GenerateImage(ctx context.Context, prompt, size string) ([]string, error) {
	width, height, err := ParseSize(size)
	if err != nil {
		return nil, &Error{Status: http.StatusBadRequest, Message: err.Error()}
	}

	reqBody := generationRequest{
		TextPrompts:        []textPrompt{{Text: prompt, Weight: stabilityPromptWeight}},
		CfgScale:           stabilityCfgScale,
		ClipGuidancePreset: stabilityClipGuidancePreset,
		Height:             height,
		Width:              width,
		Samples:            stabilitySamples,
		Steps:              stabilitySteps,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/generation/%s/text-to-image", c.cfg.APIHost, c.cfg.EngineID)

	var payloads []string
	err = withRetry(ctx, c.maxRetries, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
		if err != nil {
			return fmt.Errorf("failed to create generation request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return &TransportError{Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return &Error{Status: resp.StatusCode, Message: upstreamMessage(body)}
		}

		var genResp generationResponse
		if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
			return fmt.Errorf("failed to decode generation response: %w", err)
		}
		if len(genResp.Artifacts) == 0 {
			return &Error{Message: "image generation returned no artifacts"}
		}

		payloads = payloads[:0]
		for _, artifact := range genResp.Artifacts {
			payloads = append(payloads, artifact.Base64)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payloads, nil
}

// upstreamMessage 尽量从错误响应体中提取人类可读的消息，失败时回退到原始文本。
func upstreamMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return strings.TrimSpace(string(body))
}
