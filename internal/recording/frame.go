package recording

import (
	"path/filepath"
	"time"
)

// Frame は1回のキャプチャで得られた静止画フレーム
// 追記された後は変更されない
type Frame struct {
	Data       []byte    `json:"-"`           // 圧縮済み静止画(JPEG)データ
	CapturedAt time.Time `json:"captured_at"` // キャプチャ時刻 (単調クロック込み)
	Size       int       `json:"size"`        // データサイズ
}

// TimedFrame は表示時間が決定されたフレーム
type TimedFrame struct {
	Frame Frame         // 対象フレーム
	Hold  time.Duration // 出力動画内での表示時間
}

// Artifact はコンパイル済みの動画成果物
// 一度作成されたら変更されず、次のコンパイル成功で置き換えられる
type Artifact struct {
	Path      string        `json:"path"`       // 成果物ファイルのパス
	Size      int64         `json:"size"`       // ファイルサイズ
	Duration  time.Duration `json:"duration"`   // 再生時間
	Format    string        `json:"format"`     // コンテナフォーマット ("mp4" / "avi")
	CreatedAt time.Time     `json:"created_at"` // 作成時刻
}

// Filename は成果物のファイル名を返す
func (a *Artifact) Filename() string {
	return filepath.Base(a.Path)
}
