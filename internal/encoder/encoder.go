package encoder

import (
	"fmt"
	"time"

	"rokuga/internal/config"
	"rokuga/internal/recording"
)

// New は設定に応じたエンコーダーを作成する
func New(cfg *config.Config) (recording.Encoder, error) {
	switch cfg.Encoder.Backend {
	case config.BackendMP4:
		return NewFFmpegEncoder(cfg.Encoder.OutputDir, cfg.Encoder.OutputFPS, cfg.Recording.Quality), nil
	case config.BackendAVI:
		return NewMJPEGEncoder(cfg.Encoder.OutputDir, cfg.Encoder.OutputFPS), nil
	default:
		return nil, fmt.Errorf("未知のエンコーダーバックエンド: %s", cfg.Encoder.Backend)
	}
}

// artifactFilename は作成時刻を埋め込んだ成果物ファイル名を生成する
// タイムスタンプ入りのため連続したコンパイルでも衝突しない
func artifactFilename(t time.Time, ext string) string {
	return fmt.Sprintf("recording_%s.%s", t.Format("20060102_150405"), ext)
}
