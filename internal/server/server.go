package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"rokuga/internal/config"
	"rokuga/internal/recording"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	controller *recording.Controller
	engine     *gin.Engine
	httpServer *http.Server
	hub        *telemetryHub
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, controller *recording.Controller) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		config:     cfg,
		controller: controller,
		engine:     engine,
		hub:        newTelemetryHub(controller),
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	// APIエンドポイント
	api := s.engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)

		rec := api.Group("/recording")
		{
			rec.POST("/start", s.handleStart)
			rec.POST("/stop", s.handleStop)
			rec.POST("/compile", s.handleCompile)
			rec.POST("/reset", s.handleReset)
			rec.GET("/download", s.handleDownload)
			rec.GET("/ws", s.handleWebSocket)
		}
	}
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	// テレメトリー配信を開始
	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	go s.hub.run(hubCtx)

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		log.Printf("HTTPサーバーを起動しています: %s", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		log.Println("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Printf("シグナルを受信しました: %v", sig)
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// 進行中のコンパイルは中断され、エンコーダー資源が解放される
func (s *Server) Shutdown() error {
	log.Println("サーバーをシャットダウンしています...")

	// セッションを破棄 (コンパイル中なら中断して資源を解放する)
	s.controller.Reset()

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	log.Println("サーバーが正常にシャットダウンされました")
	return nil
}
