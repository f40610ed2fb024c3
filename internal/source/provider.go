package source

import (
	"context"
	"fmt"

	"rokuga/internal/config"
)

// Provider は要求時に静止画スナップショットを供給できる映像ソース
type Provider interface {
	// Snapshot は現在の映像の静止画をJPEGバイト列として返す
	Snapshot(ctx context.Context) ([]byte, error)

	// IsAvailable はソースが利用可能かチェックする
	IsAvailable(ctx context.Context) bool

	// Info はソースの情報を返す
	Info() Info
}

// Kind はソースの種別を表す
type Kind string

const (
	// KindX11 はX11画面キャプチャソースを表す
	KindX11 Kind = "x11"
	// KindV4L2 はUSBカメラ(V4L2)ソースを表す
	KindV4L2 Kind = "v4l2"
	// KindSynthetic は合成テストパターンソースを表す
	KindSynthetic Kind = "synthetic"
)

// Info はソースの情報を表す
type Info struct {
	Kind        Kind   `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// New は設定に応じたProviderを作成する
func New(cfg *config.Config) (Provider, error) {
	switch Kind(cfg.Source.Kind) {
	case KindX11:
		return NewX11Provider(cfg.Source.Display, cfg.Recording.Width, cfg.Recording.Height), nil
	case KindV4L2:
		return NewV4L2Provider(cfg.Source.Device, cfg.Recording.Width, cfg.Recording.Height), nil
	case KindSynthetic:
		return NewSyntheticProvider(cfg.Recording.Width, cfg.Recording.Height), nil
	default:
		return nil, fmt.Errorf("未知の映像ソース種別: %s", cfg.Source.Kind)
	}
}
