// Package keepalive 实现了一个独立的自我保活任务，
// 周期性地访问服务自身的存活探针，防止托管平台休眠实例。
// 它与消息调度管线没有任何状态耦合。
package keepalive

import (
	"context"
	"net/http"
	"time"

	"chat-cbd-go/pkg/log"
)

// Start 启动保活循环，按固定间隔 GET 目标地址，直到 ctx 被取消。
// 应在独立的 goroutine 中调用。
func Start(ctx context.Context, targetURL string, interval time.Duration) {
	client := &http.Client{Timeout: 30 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("自我保活任务已启动，间隔 %s，目标 %s", interval, targetURL)
	for {
		select {
		case <-ctx.Done():
			log.Info("自我保活任务已停止")
			return
		case <-ticker.C:
			ping(ctx, client, targetURL)
		}
	}
}

func ping(ctx context.Context, client *http.Client, targetURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		log.Errorf("保活请求构造失败: %v", err)
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Errorf("保活请求失败: %v", err)
		return
	}
	defer resp.Body.Close()
	log.Infof("保活探测完成，状态码 %d", resp.StatusCode)
}
