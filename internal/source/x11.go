package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// X11Provider はffmpegのx11grabで画面スナップショットを取得する
type X11Provider struct {
	display string
	width   int
	height  int
}

// NewX11Provider は新しいX11Providerを作成する
func NewX11Provider(display string, width, height int) *X11Provider {
	return &X11Provider{
		display: display,
		width:   width,
		height:  height,
	}
}

// Snapshot は現在の画面を1フレームだけキャプチャしてJPEGとして返す
func (p *X11Provider) Snapshot(ctx context.Context) ([]byte, error) {
	// 1フレームのキャプチャに長時間かかる場合は打ち切る
	captureCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(captureCtx,
		"ffmpeg",
		"-f", "x11grab",
		"-video_size", fmt.Sprintf("%dx%d", p.width, p.height),
		"-i", p.display,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2", // 高品質JPEG
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("画面スナップショットの取得に失敗: %w (stderr: %s)", err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// IsAvailable はX11ディスプレイとffmpegが利用可能かチェックする
func (p *X11Provider) IsAvailable(ctx context.Context) bool {
	// xdpyinfoコマンドでX11ディスプレイの利用可能性をチェック
	cmd := exec.CommandContext(ctx, "xdpyinfo", "-display", p.display)
	if err := cmd.Run(); err != nil {
		return false
	}

	// ffmpegの存在をチェック
	cmd = exec.CommandContext(ctx, "ffmpeg", "-version")
	return cmd.Run() == nil
}

// Info はソース情報を返す
func (p *X11Provider) Info() Info {
	return Info{
		Kind:        KindX11,
		Name:        fmt.Sprintf("X11画面 (%s)", p.display),
		Description: fmt.Sprintf("ffmpeg x11grabによる%dx%dの画面キャプチャ", p.width, p.height),
	}
}
