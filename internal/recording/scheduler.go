package recording

import (
	"bytes"
	"context"
	"image/jpeg"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfnt/resize"

	"rokuga/internal/source"
)

// CaptureScheduler は映像ソースから定期的にフレームをサンプリングする
//
// 各tickでソースからスナップショットを取得し、設定品質のJPEGに整えて
// タイムスタンプを打ち、sink経由でバッファに追記する。
// スナップショットの取得に失敗したtickは黙ってスキップされ、録画は継続する。
// 圧縮がサンプリング間隔に追いつかない場合もtickをスキップする方針
// (最大録画時間で総メモリが抑えられているため、キューイングはしない)
type CaptureScheduler struct {
	provider source.Provider
	interval time.Duration
	quality  int // JPEG品質 (1-100)
	width    int
	height   int

	// sink はフレームの受け入れ判定と追記を1つの操作として行う
	// セッションがRecordingでなければfalseを返し、フレームは破棄される
	sink func(Frame) bool

	// 制御用
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	skippedTicks atomic.Int64
}

// NewCaptureScheduler は新しいCaptureSchedulerを作成する
func NewCaptureScheduler(provider source.Provider, interval time.Duration, quality, width, height int, sink func(Frame) bool) *CaptureScheduler {
	return &CaptureScheduler{
		provider: provider,
		interval: interval,
		quality:  quality,
		width:    width,
		height:   height,
		sink:     sink,
		stopCh:   make(chan struct{}),
	}
}

// Start はサンプリングを開始する
func (cs *CaptureScheduler) Start(ctx context.Context) {
	cs.wg.Add(1)
	go cs.captureLoop(ctx)
}

// Stop はサンプリングを停止するよう通知する
// 既に停止している場合は何もしない
// 飛行中のtickはsinkの判定で弾かれるため、通知の完了を待つ必要はない
func (cs *CaptureScheduler) Stop() {
	cs.stopOnce.Do(func() {
		close(cs.stopCh)
	})
}

// Wait はサンプリングループの終了を待機する
func (cs *CaptureScheduler) Wait() {
	cs.wg.Wait()
}

// SkippedTicks はスキップされたtickの累計を返す
func (cs *CaptureScheduler) SkippedTicks() int64 {
	return cs.skippedTicks.Load()
}

// captureLoop はフレームを定期的にキャプチャする
func (cs *CaptureScheduler) captureLoop(ctx context.Context) {
	defer cs.wg.Done()

	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cs.stopCh:
			return
		case <-ticker.C:
			cs.captureTick(ctx)
		}
	}
}

// captureTick は1回分のサンプリングを実行する
func (cs *CaptureScheduler) captureTick(ctx context.Context) {
	data, err := cs.provider.Snapshot(ctx)
	if err != nil {
		// ソースがスナップショットを供給できなかったtickはスキップ
		cs.skippedTicks.Add(1)
		log.Printf("スナップショットの取得に失敗したためtickをスキップ: %v", err)
		return
	}

	normalized, err := cs.normalize(data)
	if err != nil {
		cs.skippedTicks.Add(1)
		log.Printf("フレームの正規化に失敗したためtickをスキップ: %v", err)
		return
	}

	frame := Frame{
		Data:       normalized,
		CapturedAt: time.Now(),
		Size:       len(normalized),
	}

	// セッションがRecordingでなければsinkが弾く (停止と競合したtickもここで落ちる)
	cs.sink(frame)
}

// normalize はスナップショットを設定解像度・品質のJPEGに整える
// 解像度が既に一致している場合は再エンコードせずそのまま使う
func (cs *CaptureScheduler) normalize(data []byte) ([]byte, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	if cfg.Width == cs.width && cfg.Height == cs.height {
		return data, nil
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	resized := resize.Resize(uint(cs.width), uint(cs.height), img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: cs.quality}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
