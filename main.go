package main

import (
	"context"
	"log"

	"rokuga/internal/config"
	"rokuga/internal/encoder"
	"rokuga/internal/recording"
	"rokuga/internal/server"
	"rokuga/internal/source"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コンテキストを作成
	ctx := context.Background()

	// 映像ソースを作成
	provider, err := source.New(cfg)
	if err != nil {
		log.Fatalf("映像ソースの作成に失敗しました: %v", err)
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
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
