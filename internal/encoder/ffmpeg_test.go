package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rokuga/internal/recording"
)

// TestQualityToCRF は品質係数からCRF値への変換をテストする
func TestQualityToCRF(t *testing.T) {
	tests := []struct {
		name    string
		quality float64
		want    string
	}{
		{name: "最高品質", quality: 1.0, want: "18.0"},
		{name: "標準品質", quality: 0.8, want: "20.0"},
		{name: "中間品質", quality: 0.5, want: "23.0"},
		{name: "最低品質", quality: 0.0, want: "28.0"},
		{name: "範囲外の高品質", quality: 2.0, want: "18.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewFFmpegEncoder(t.TempDir(), 30, tt.quality)
			if got := enc.qualityToCRF(); got != tt.want {
				t.Errorf("qualityToCRF() = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestWriteConcatList はconcatリストの内容をテストする
func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	enc := NewFFmpegEncoder(dir, 30, 0.8)

	imageFiles := []string{
		filepath.Join(dir, "frame_000000.jpg"),
		filepath.Join(dir, "frame_000001.jpg"),
		filepath.Join(dir, "frame_000002.jpg"),
	}
	frames := timedFrames([]byte("x"),
		150*time.Millisecond, 100*time.Millisecond, 33333333*time.Nanosecond)

	listFile := filepath.Join(dir, "frames.txt")
	if err := enc.writeConcatList(listFile, imageFiles, frames); err != nil {
		t.Fatalf("writeConcatListに失敗しました: %v", err)
	}

	data, err := os.ReadFile(listFile)
	if err != nil {
		t.Fatalf("リストの読み込みに失敗しました: %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	// フレーム毎に file + duration の2行、末尾に最終フレームの再掲1行
	wantLines := 2*len(frames) + 1
	if len(lines) != wantLines {
		t.Fatalf("行数: got %d, want %d\n%s", len(lines), wantLines, string(data))
	}

	if lines[0] != "file '"+imageFiles[0]+"'" {
		t.Errorf("1行目: got %q", lines[0])
	}
	if lines[1] != "duration 0.150000" {
		t.Errorf("2行目: got %q, want duration 0.150000", lines[1])
	}
	if lines[5] != "duration 0.033333" {
		t.Errorf("6行目: got %q, want duration 0.033333", lines[5])
	}

	// 最終フレームの再掲 (concatデマルチプレクサーの仕様対策)
	last := lines[len(lines)-1]
	if last != "file '"+imageFiles[2]+"'" {
		t.Errorf("末尾の再掲: got %q", last)
	}
}

// TestArtifactFilename は成果物ファイル名の形式をテストする
func TestArtifactFilename(t *testing.T) {
	ts := time.Date(2026, 3, 15, 9, 30, 45, 0, time.UTC)

	if got := artifactFilename(ts, "mp4"); got != "recording_20260315_093045.mp4" {
		t.Errorf("artifactFilename: got %s", got)
	}
	if got := artifactFilename(ts, "avi"); got != "recording_20260315_093045.avi" {
		t.Errorf("artifactFilename: got %s", got)
	}
}

// TestFFmpegEncode はffmpegによる実際のエンコードをテストする
// ffmpegが利用できない環境ではスキップされる
func TestFFmpegEncode(t *testing.T) {
	dir := t.TempDir()
	enc := NewFFmpegEncoder(dir, 10, 0.8)

	if err := enc.Available(context.Background()); err != nil {
		t.Skipf("ffmpegが利用できないためスキップ: %v", err)
	}

	data := makeJPEG(t, 64, 48)
	frames := timedFrames(data, 200*time.Millisecond, 100*time.Millisecond, 100*time.Millisecond)

	artifact, err := enc.Encode(context.Background(), frames, nil)
	if err != nil {
		t.Fatalf("Encodeに失敗しました: %v", err)
	}

	info, err := os.Stat(artifact.Path)
	if err != nil {
		t.Fatalf("成果物が存在しません: %v", err)
	}
	if info.Size() == 0 {
		t.Error("成果物が空です")
	}
	if artifact.Format != "mp4" {
		t.Errorf("フォーマット: got %s, want mp4", artifact.Format)
	}
	if artifact.Duration != 400*time.Millisecond {
		t.Errorf("再生時間: got %v, want 400ms", artifact.Duration)
	}

	for _, name := range listDir(t, dir) {
		if strings.HasSuffix(name, ".part") {
			t.Errorf("中間ファイルが残っています: %s", name)
		}
	}
}

// TestFFmpegEncodeProgressStaging は進捗が完走前に1.0へ達しないことをテストする
// 画像の書き出しが終わった時点では done < total のままで、
// done == total はffmpegの実行が終わった後の最終報告だけに現れる
func TestFFmpegEncodeProgressStaging(t *testing.T) {
	dir := t.TempDir()
	enc := NewFFmpegEncoder(dir, 10, 0.8)

	data := makeJPEG(t, 64, 48)
	frames := timedFrames(data, 100*time.Millisecond, 100*time.Millisecond, 100*time.Millisecond)

	type report struct{ done, total int }
	var reports []report
	_, err := enc.Encode(context.Background(), frames, func(done, total int) {
		reports = append(reports, report{done, total})
	})

	if len(reports) == 0 {
		t.Fatal("進捗が一度も報告されませんでした")
	}

	// 成功時は最後の報告だけが完了、失敗時(ffmpeg不在など)は完了報告なし
	last := len(reports) - 1
	if err == nil {
		if reports[last].done != reports[last].total {
			t.Errorf("最終報告が完了になっていません: %d/%d", reports[last].done, reports[last].total)
		}
		last--
	}
	for _, r := range reports[:last+1] {
		if r.done >= r.total {
			t.Errorf("途中の報告が完了に達しています: %d/%d", r.done, r.total)
		}
	}
}

// TestFFmpegEncodeDecodeError は壊れたフレームでの失敗をテストする
// 外部プロセス起動前に検出されるためffmpegなしでも実行できる
func TestFFmpegEncodeDecodeError(t *testing.T) {
	dir := t.TempDir()
	enc := NewFFmpegEncoder(dir, 10, 0.8)

	frames := timedFrames([]byte("JPEGではないデータ"), 100*time.Millisecond)

	_, err := enc.Encode(context.Background(), frames, nil)
	var decodeErr *recording.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("DecodeErrorが返りませんでした: %v", err)
	}
	if decodeErr.Index != 0 {
		t.Errorf("失敗フレームの添字: got %d, want 0", decodeErr.Index)
	}

	// 出力ディレクトリには何も生成されない
	if names := listDir(t, dir); len(names) != 0 {
		t.Errorf("失敗後にファイルが残っています: %v", names)
	}
}
