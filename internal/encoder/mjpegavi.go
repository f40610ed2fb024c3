package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/icza/mjpeg"
	"golang.org/x/sync/errgroup"

	"rokuga/internal/recording"
)

// MJPEGEncoder は純GoでMJPEG/AVIの成果物を生成する
//
// 各フレームを round(表示時間 × 出力fps) 回繰り返して書き込むことで、
// 固定フレームレートのコンテナ上で実測のキャプチャペースを再現する。
// 外部プロセスに依存しないため、ffmpegのない環境やテストで使う
type MJPEGEncoder struct {
	outputDir string
	fps       int
}

// NewMJPEGEncoder は新しいMJPEGEncoderを作成する
func NewMJPEGEncoder(outputDir string, fps int) *MJPEGEncoder {
	return &MJPEGEncoder{
		outputDir: outputDir,
		fps:       fps,
	}
}

// Format はコンテナフォーマット名を返す
func (e *MJPEGEncoder) Format() string {
	return "avi"
}

// validatedFrame はデコード検証済みのフレーム
type validatedFrame struct {
	index int
	frame recording.TimedFrame
}

// Encode はフレーム列をAVI成果物にコンパイルする
//
// デコード検証と書き込みを有界キューで繋いだ2段パイプラインで処理する。
// キューはFIFOのため消費順 = キャプチャ順が保たれる
func (e *MJPEGEncoder) Encode(ctx context.Context, frames []recording.TimedFrame, progress func(done, total int)) (*recording.Artifact, error) {
	if len(frames) == 0 {
		return nil, &recording.EncoderError{Stage: "prepare", Err: fmt.Errorf("フレームがありません")}
	}

	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return nil, &recording.EncoderError{Stage: "prepare", Err: err}
	}

	// 最初のフレームが出力解像度を決める
	dims, err := jpeg.DecodeConfig(bytes.NewReader(frames[0].Frame.Data))
	if err != nil {
		return nil, &recording.DecodeError{Index: 0, Err: err}
	}

	createdAt := time.Now()
	outPath := filepath.Join(e.outputDir, artifactFilename(createdAt, "avi"))
	partPath := outPath + ".part"

	writer, err := mjpeg.New(partPath, int32(dims.Width), int32(dims.Height), int32(e.fps))
	if err != nil {
		return nil, &recording.EncoderError{Stage: "mux", Err: err}
	}

	totalPictures, encodeErr := e.runPipeline(ctx, writer, frames, dims, progress)
	if encodeErr != nil {
		_ = writer.Close()
		_ = os.Remove(partPath)
		return nil, encodeErr
	}

	if err := writer.Close(); err != nil {
		_ = os.Remove(partPath)
		return nil, &recording.EncoderError{Stage: "finalize", Err: err}
	}

	if err := os.Rename(partPath, outPath); err != nil {
		_ = os.Remove(partPath)
		return nil, &recording.EncoderError{Stage: "finalize", Err: err}
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, &recording.EncoderError{Stage: "finalize", Err: err}
	}

	return &recording.Artifact{
		Path:      outPath,
		Size:      info.Size(),
		Duration:  time.Duration(totalPictures) * time.Second / time.Duration(e.fps),
		Format:    e.Format(),
		CreatedAt: createdAt,
	}, nil
}

// runPipeline はデコード検証→書き込みの2段パイプラインを実行する
// 書き込んだ総ピクチャ数を返す
func (e *MJPEGEncoder) runPipeline(ctx context.Context, writer mjpeg.AviWriter, frames []recording.TimedFrame, dims image.Config, progress func(done, total int)) (int, error) {
	g, ctx := errgroup.WithContext(ctx)
	validated := make(chan validatedFrame, 8)

	// デコードステージ: 各静止画を検証して順に送る
	g.Go(func() error {
		defer close(validated)

		for i, tf := range frames {
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(tf.Frame.Data))
			if err != nil {
				return &recording.DecodeError{Index: i, Err: err}
			}
			if cfg.Width != dims.Width || cfg.Height != dims.Height {
				return &recording.DecodeError{
					Index: i,
					Err:   fmt.Errorf("解像度が一致しません: %dx%d (期待: %dx%d)", cfg.Width, cfg.Height, dims.Width, dims.Height),
				}
			}

			select {
			case validated <- validatedFrame{index: i, frame: tf}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	})

	// プレゼント+エンコードステージ: 表示時間ぶんフレームを繰り返して書き込む
	totalPictures := 0
	g.Go(func() error {
		for vf := range validated {
			repeats := int(math.Round(vf.frame.Hold.Seconds() * float64(e.fps)))
			if repeats < 1 {
				repeats = 1
			}

			for r := 0; r < repeats; r++ {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}

				if err := writer.AddFrame(vf.frame.Frame.Data); err != nil {
					return &recording.EncoderError{Stage: "encode", Err: err}
				}
				totalPictures++
			}

			if progress != nil {
				progress(vf.index+1, len(frames))
			}
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}

	return totalPictures, nil
}
