package source

import (
	"bytes"
	"context"
	"image/jpeg"
	"testing"

	"rokuga/internal/config"
)

// TestSyntheticSnapshot は合成ソースのスナップショットをテストする
func TestSyntheticSnapshot(t *testing.T) {
	p := NewSyntheticProvider(320, 240)

	if !p.IsAvailable(context.Background()) {
		t.Fatal("合成ソースが利用不可になっています")
	}

	data, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshotに失敗しました: %v", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("スナップショットのデコードに失敗しました: %v", err)
	}
	if cfg.Width != 320 || cfg.Height != 240 {
		t.Errorf("解像度: got %dx%d, want 320x240", cfg.Width, cfg.Height)
	}
}

// TestSyntheticSnapshotAnimates は連続スナップショットの変化をテストする
func TestSyntheticSnapshotAnimates(t *testing.T) {
	p := NewSyntheticProvider(320, 240)

	first, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshotに失敗しました: %v", err)
	}
	second, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshotに失敗しました: %v", err)
	}

	// 移動する矩形のためフレーム毎に画像が変わる
	if bytes.Equal(first, second) {
		t.Error("連続したスナップショットが同一です")
	}
}

// TestNewProvider はソースファクトリーのテスト
func TestNewProvider(t *testing.T) {
	cfg := &config.Config{
		Recording: config.RecordingConfig{Width: 640, Height: 480},
		Source:    config.SourceConfig{Kind: "synthetic"},
	}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("ソースの作成に失敗しました: %v", err)
	}
	if p.Info().Kind != KindSynthetic {
		t.Errorf("ソース種別: got %s, want %s", p.Info().Kind, KindSynthetic)
	}

	cfg.Source.Kind = "x11"
	cfg.Source.Display = ":0"
	p, err = New(cfg)
	if err != nil {
		t.Fatalf("ソースの作成に失敗しました: %v", err)
	}
	if p.Info().Kind != KindX11 {
		t.Errorf("ソース種別: got %s, want %s", p.Info().Kind, KindX11)
	}

	cfg.Source.Kind = "v4l2"
	cfg.Source.Device = "/dev/video0"
	p, err = New(cfg)
	if err != nil {
		t.Fatalf("ソースの作成に失敗しました: %v", err)
	}
	if p.Info().Kind != KindV4L2 {
		t.Errorf("ソース種別: got %s, want %s", p.Info().Kind, KindV4L2)
	}

	cfg.Source.Kind = "不明なソース"
	if _, err := New(cfg); err == nil {
		t.Error("未知のソース種別が受け入れられました")
	}
}
