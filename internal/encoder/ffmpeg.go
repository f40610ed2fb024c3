package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"rokuga/internal/recording"
)

// FFmpegEncoder はffmpegのconcat入力でmp4/h264の成果物を生成する
//
// 各静止画をフレーム毎のduration指定付きでconcatリストに並べることで、
// ffmpegが固定出力レートの中で各画を表示時間ぶん保持する。
// 外部プロセスのためコンテキスト取り消しが即座にエンコードを殺す
type FFmpegEncoder struct {
	outputDir string
	tempDir   string  // 一時ファイル用ディレクトリ
	fps       int     // 出力フレームレート
	quality   float64 // 品質係数 (0-1]
}

// NewFFmpegEncoder は新しいFFmpegEncoderを作成する
func NewFFmpegEncoder(outputDir string, fps int, quality float64) *FFmpegEncoder {
	return &FFmpegEncoder{
		outputDir: outputDir,
		tempDir:   filepath.Join(os.TempDir(), "rokuga-encoder"),
		fps:       fps,
		quality:   quality,
	}
}

// Format はコンテナフォーマット名を返す
func (e *FFmpegEncoder) Format() string {
	return "mp4"
}

// Available はffmpegが利用可能かチェックする
func (e *FFmpegEncoder) Available(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, "ffmpeg", "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpegが見つかりません。インストールしてください: %w", err)
	}

	return nil
}

// Encode はフレーム列をmp4成果物にコンパイルする
func (e *FFmpegEncoder) Encode(ctx context.Context, frames []recording.TimedFrame, progress func(done, total int)) (*recording.Artifact, error) {
	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return nil, &recording.EncoderError{Stage: "prepare", Err: err}
	}

	// 一時ディレクトリを作成
	sessionDir := filepath.Join(e.tempDir, fmt.Sprintf("session_%d", time.Now().UnixNano()))
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, &recording.EncoderError{Stage: "prepare", Err: err}
	}
	defer func() {
		_ = os.RemoveAll(sessionDir) // cleanup中のエラーは無視
	}()

	// 進捗の最後の1枠はffmpeg実行に割り当てる: 画像の書き出しが終わった
	// 時点では完了を報告せず、1.0は成果物の完成だけを意味する
	total := len(frames) + 1
	saveProgress := func(done, _ int) {
		if progress != nil {
			progress(done, total)
		}
	}

	// デコードステージ: 静止画を検証しながら一時画像ファイルとして保存する
	imageFiles, err := e.saveFramesAsImages(ctx, sessionDir, frames, saveProgress)
	if err != nil {
		return nil, err
	}

	// プレゼントステージ: フレーム毎の表示時間をconcatリストに書き出す
	listFile := filepath.Join(sessionDir, "frames.txt")
	if err := e.writeConcatList(listFile, imageFiles, frames); err != nil {
		return nil, &recording.EncoderError{Stage: "present", Err: err}
	}

	createdAt := time.Now()
	outPath := filepath.Join(e.outputDir, artifactFilename(createdAt, "mp4"))
	partPath := outPath + ".part"

	// エンコード+多重化ステージ: ffmpegで一括処理する
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-r", strconv.Itoa(e.fps),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", e.qualityToCRF(),
		"-pix_fmt", "yuv420p",
		"-f", "mp4",
		"-y",
		partPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(partPath)
		if ctx.Err() != nil {
			// 呼び出し側の中断: 部分出力は破棄済み
			return nil, ctx.Err()
		}
		return nil, &recording.EncoderError{
			Stage: "encode",
			Err:   fmt.Errorf("%w (output: %s)", err, string(output)),
		}
	}

	// 完成してから最終パスへ置く: 部分的な成果物は決して公開されない
	if err := os.Rename(partPath, outPath); err != nil {
		_ = os.Remove(partPath)
		return nil, &recording.EncoderError{Stage: "finalize", Err: err}
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, &recording.EncoderError{Stage: "finalize", Err: err}
	}

	if progress != nil {
		progress(total, total)
	}

	return &recording.Artifact{
		Path:      outPath,
		Size:      info.Size(),
		Duration:  recording.TotalHold(frames),
		Format:    e.Format(),
		CreatedAt: createdAt,
	}, nil
}

// saveFramesAsImages はフレームを検証しながら一時画像ファイルとして保存する
func (e *FFmpegEncoder) saveFramesAsImages(ctx context.Context, sessionDir string, frames []recording.TimedFrame, progress func(done, total int)) ([]string, error) {
	imageFiles := make([]string, 0, len(frames))

	for i, tf := range frames {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// デコードできない静止画はこの時点で検出し、フレーム位置付きで報告する
		if _, err := jpeg.DecodeConfig(bytes.NewReader(tf.Frame.Data)); err != nil {
			return nil, &recording.DecodeError{Index: i, Err: err}
		}

		filename := fmt.Sprintf("frame_%06d.jpg", i)
		path := filepath.Join(sessionDir, filename)

		if err := os.WriteFile(path, tf.Frame.Data, 0644); err != nil {
			return nil, &recording.EncoderError{Stage: "decode", Err: fmt.Errorf("フレーム画像の保存に失敗 (%s): %w", filename, err)}
		}

		imageFiles = append(imageFiles, path)

		if progress != nil {
			progress(i+1, len(frames))
		}
	}

	return imageFiles, nil
}

// writeConcatList はフレーム毎の表示時間付きconcatリストを作成する
func (e *FFmpegEncoder) writeConcatList(listFile string, imageFiles []string, frames []recording.TimedFrame) error {
	var buf bytes.Buffer
	for i, path := range imageFiles {
		fmt.Fprintf(&buf, "file '%s'\nduration %.6f\n", path, frames[i].Hold.Seconds())
	}

	// concatデマルチプレクサーは最後のdurationを無視するため、最終フレームを再掲する
	if len(imageFiles) > 0 {
		fmt.Fprintf(&buf, "file '%s'\n", imageFiles[len(imageFiles)-1])
	}

	return os.WriteFile(listFile, buf.Bytes(), 0644)
}

// qualityToCRF は品質係数をffmpegのCRF値に変換する
// 品質0(低) -> CRF28, 品質1(高) -> CRF18
func (e *FFmpegEncoder) qualityToCRF() string {
	crf := 28.0 - e.quality*10.0
	if crf < 18 {
		crf = 18
	}
	if crf > 28 {
		crf = 28
	}
	return strconv.FormatFloat(crf, 'f', 1, 64)
}
