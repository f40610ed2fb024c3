// Package main はrokugaサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"rokuga/internal/config"
	"rokuga/internal/encoder"
	"rokuga/internal/recording"
	"rokuga/internal/server"
	"rokuga/internal/source"
)

func main() {
	// コマンドラインオプション
	var (
		host        = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port        = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		sourceKind  = flag.String("source", "", "映像ソース (x11 / v4l2 / synthetic)")
		backend     = flag.String("backend", "", "エンコーダーバックエンド (mp4 / avi)")
		intervalMs  = flag.Int("interval", 0, "サンプリング間隔 (ミリ秒)")
		maxDuration = flag.Int("max-duration", 0, "最大録画時間 (秒)")
		help        = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Rokuga")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *sourceKind != "" {
		cfg.Source.Kind = *sourceKind
	}
	if *backend != "" {
		cfg.Encoder.Backend = *backend
	}
	if *intervalMs > 0 {
		cfg.Recording.CaptureInterval = time.Duration(*intervalMs) * time.Millisecond
	}
	if *maxDuration > 0 {
		cfg.Recording.MaxDuration = time.Duration(*maxDuration) * time.Second
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定の検証に失敗しました: %v", err)
	}

	// コンテキストを作成
	ctx := context.Background()

	// 映像ソースを作成
	provider, err := source.New(cfg)
	if err != nil {
		log.Fatalf("映像ソースの作成に失敗しました: %v", err)
	}
	if !provider.IsAvailable(ctx) {
		log.Printf("警告: 映像ソース %s が利用できません。キャプチャtickはスキップされます", provider.Info().Name)
	}

	// エンコーダーを作成
	enc, err := encoder.New(cfg)
	if err != nil {
		log.Fatalf("エンコーダーの作成に失敗しました: %v", err)
	}
	if ffmpegEnc, ok := enc.(*encoder.FFmpegEncoder); ok {
		if err := ffmpegEnc.Available(ctx); err != nil {
			log.Fatalf("%v", err)
		}
	}

	// コントローラーとサーバーを作成
	controller := recording.NewController(cfg, provider, enc)
	srv := server.New(cfg, controller)

	// サーバーを起動
	log.Printf("Rokuga サーバーを起動します: %s", cfg.ServerAddress())
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
