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

	"jarvis-go/internal/config"
	"jarvis-go/internal/handler"
	"jarvis-go/internal/middleware"
	"jarvis-go/internal/plugin"
	"jarvis-go/internal/repository"
	"jarvis-go/internal/service"
	"jarvis-go/pkg/llm"
	"jarvis-go/pkg/log"

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

	// 3. 初始化 Repository（进程内存储，历史随进程存亡）
	conversationRepo := repository.NewConversationRepository()

	// 4. 注册插件：重复注册属于致命的配置错误，启动即失败
	pluginManager := plugin.NewManager()
	if err := pluginManager.Register(plugin.NewBuiltinPlugin()); err != nil {
		log.Fatal("插件注册失败", err)
	}
	log.Infof("已加载 %d 个插件", len(pluginManager.List()))

	// 5. 初始化 Service (依赖注入)
	historyLimit := cfg.Chat.HistoryLimitOrDefault()
	llmClient := llm.NewClient(cfg.LLM)
	chatService := service.NewChatService(conversationRepo, pluginManager, llmClient, historyLimit)
	conversationService := service.NewConversationService(conversationRepo, llmClient, historyLimit)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 7. 注册路由
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Jarvis is online"})
	})

	conversationHandler := handler.NewConversationHandler(conversationService)
	api := r.Group("/api/conversation")
	{
		api.POST("/send", conversationHandler.Send)
		api.GET("/history/:conversationId", conversationHandler.GetHistory)
		api.DELETE("/history/:conversationId", conversationHandler.ClearHistory)
	}

	// Chat 路由 (WebSocket)
	r.GET("/ws", handler.NewChatHandler(chatService).Handle)

	// 启动 HTTP 服务器并实现优雅停机
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

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
