package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// V4L2Provider はffmpegでUSBカメラ(V4L2デバイス)からスナップショットを取得する
type V4L2Provider struct {
	devicePath string
	width      int
	height     int
}

// NewV4L2Provider は新しいV4L2Providerを作成する
func NewV4L2Provider(devicePath string, width, height int) *V4L2Provider {
	return &V4L2Provider{
		devicePath: devicePath,
		width:      width,
		height:     height,
	}
}

// Snapshot はカメラから1フレームだけキャプチャしてJPEGとして返す
func (p *V4L2Provider) Snapshot(ctx context.Context) ([]byte, error) {
	// 1フレームのキャプチャに長時間かかる場合は打ち切る
	captureCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(captureCtx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", p.width, p.height),
		"-i", p.devicePath,
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
		return nil, fmt.Errorf("カメラスナップショットの取得に失敗: %w (stderr: %s)", err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// IsAvailable はV4L2デバイスとffmpegが利用可能かチェックする
func (p *V4L2Provider) IsAvailable(ctx context.Context) bool {
	// v4l2-ctlコマンドでデバイス情報を取得して確認
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", p.devicePath, "--info")
	if err := cmd.Run(); err != nil {
		return false
	}

	// ffmpegの存在をチェック
	cmd = exec.CommandContext(ctx, "ffmpeg", "-version")
	return cmd.Run() == nil
}

// Info はソース情報を返す
func (p *V4L2Provider) Info() Info {
	return Info{
		Kind:        KindV4L2,
		Name:        fmt.Sprintf("USBカメラ (%s)", p.devicePath),
		Description: fmt.Sprintf("ffmpeg v4l2による%dx%dのカメラキャプチャ", p.width, p.height),
	}
}
