// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-cbd-go/internal/config"
	"chat-cbd-go/internal/handler"
	"chat-cbd-go/internal/middleware"
	"chat-cbd-go/internal/repository"
	"chat-cbd-go/internal/service"
	"chat-cbd-go/pkg/database"
	"chat-cbd-go/pkg/keepalive"
	"chat-cbd-go/pkg/log"
	"chat-cbd-go/pkg/provider"
	"chat-cbd-go/pkg/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化 Redis 和对象存储
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	blobStore, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatal("对象存储初始化失败", err)
	}

	// 4. 初始化 Repository
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 5. 初始化提供商客户端与 Service (依赖注入)
	openaiClient := provider.NewOpenAIClient(cfg.OpenAI)
	stabilityClient := provider.NewStabilityClient(cfg.Stability)

	urlExpiry := 7 * 24 * time.Hour
	if cfg.MinIO.URLExpiryHours > 0 {
		urlExpiry = time.Duration(cfg.MinIO.URLExpiryHours) * time.Hour
	}
	stager := service.NewArtifactService(blobStore, urlExpiry)
	dispatchService := service.NewDispatchService(conversationRepo, openaiClient, openaiClient, stabilityClient, stager)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), middleware.CORS(cfg.CORS), gin.Recovery())

	// 7. 注册路由
	chatHandler := handler.NewChatHandler(dispatchService)
	r.POST("/send-message", chatHandler.SendMessage)
	r.GET("/ping", chatHandler.Ping)

	// 8. 启动自我保活任务（与调度管线完全解耦）
	keepaliveCtx, cancelKeepalive := context.WithCancel(context.Background())
	defer cancelKeepalive()
	if cfg.Keepalive.Enabled && cfg.Keepalive.TargetURL != "" {
		interval := 14 * time.Minute
		if cfg.Keepalive.IntervalMinutes > 0 {
			interval = time.Duration(cfg.Keepalive.IntervalMinutes) * time.Minute
		}
		go keepalive.Start(keepaliveCtx, cfg.Keepalive.TargetURL, interval)
	}

	// 9. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
