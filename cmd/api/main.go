// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/clip-forge/internal/config"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
	}
	router.Use(cors.New(corsConfig))

	// SIGINT/SIGTERMでシャットダウンを開始する
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ジョブ基盤（Redisストア、ワーカー、WebSocketハブ）の配線
	deps, err := setupJobs(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up jobs: %v", err)
	}
	deps.manager.StartWorkers()

	// ルーティングの設定
	setupRoutes(router, deps)

	// サーバーの起動
	addr := ":" + cfg.Port
	server := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := deps.manager.Shutdown(shutdownCtx); err != nil {
		log.Printf("Job manager shutdown error: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "clip-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は各エンドポイントの配線を行います。
func setupRoutes(router *gin.Engine, deps *jobDeps) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	router.POST("/upload", deps.uploadHandler)
	router.GET("/queue", queueListHandler(deps.manager))
	router.GET("/queue/:id", queueItemHandler(deps.manager))
	router.POST("/queue/:id/process", queueProcessHandler(deps.manager))
	router.DELETE("/queue/:id", queueDeleteHandler(deps.manager))
	router.GET("/download/:id", jobDownloadHandler(deps.manager, deps.segments))
	router.GET("/ws/queue", deps.hub.Handler(deps.manager.Snapshot))
}
