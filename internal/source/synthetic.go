package source

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
)

// SyntheticProvider はテスト・デモ用の合成パターンを生成する
// 呼び出しごとに矩形が移動するため、できあがる動画で動きを確認できる
type SyntheticProvider struct {
	width  int
	height int

	mu   sync.Mutex
	tick int
}

// NewSyntheticProvider は新しいSyntheticProviderを作成する
func NewSyntheticProvider(width, height int) *SyntheticProvider {
	return &SyntheticProvider{
		width:  width,
		height: height,
	}
}

// Snapshot は合成パターンを描画してJPEGとして返す
// 失敗することはない
func (p *SyntheticProvider) Snapshot(_ context.Context) ([]byte, error) {
	p.mu.Lock()
	tick := p.tick
	p.tick++
	p.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))

	// 背景のグラデーション
	for y := 0; y < p.height; y++ {
		bg := color.RGBA{R: uint8(y * 255 / p.height), G: 32, B: 64, A: 255}
		for x := 0; x < p.width; x++ {
			img.SetRGBA(x, y, bg)
		}
	}

	// 移動する矩形
	boxSize := p.width / 8
	if boxSize < 8 {
		boxSize = 8
	}
	offset := (tick * boxSize / 4) % (p.width - boxSize)
	for y := p.height/2 - boxSize/2; y < p.height/2+boxSize/2; y++ {
		for x := offset; x < offset+boxSize; x++ {
			if x >= 0 && x < p.width && y >= 0 && y < p.height {
				img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// IsAvailable は常にtrueを返す
func (p *SyntheticProvider) IsAvailable(_ context.Context) bool {
	return true
}

// Info はソース情報を返す
func (p *SyntheticProvider) Info() Info {
	return Info{
		Kind:        KindSynthetic,
		Name:        "合成テストパターン",
		Description: "stdlib imageで描画される移動パターン",
	}
}
