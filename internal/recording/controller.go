package recording

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"rokuga/internal/config"
	"rokuga/internal/source"
)

// State は録画セッションの状態を表す
type State string

// State の定数定義
const (
	StateIdle      State = "idle"      // セッションなし
	StateRecording State = "recording" // キャプチャ中
	StateStopped   State = "stopped"   // キャプチャ停止済み、コンパイル可能
	StateCompiling State = "compiling" // 動画コンパイル中
	StateReady     State = "ready"     // 成果物ダウンロード可能
	StateError     State = "error"     // コンパイル失敗
)

// Encoder は(フレーム, 表示時間)列を1つの再生可能な動画成果物に変換する
type Encoder interface {
	// Encode はフレームをキャプチャ順に消費して成果物を生成する
	// progressは消費済みペア数の通知用でnil可
	Encode(ctx context.Context, frames []TimedFrame, progress func(done, total int)) (*Artifact, error)

	// Format はコンテナフォーマット名を返す
	Format() string
}

// Controller は録画セッション全体を統括する状態機械
// 外部から操作できるのはこのコンポーネントだけで、
// 1つのControllerがちょうど1つのFrameStoreとCaptureSchedulerを所有する
type Controller struct {
	cfg      *config.Config
	provider source.Provider
	encoder  Encoder

	mu        sync.Mutex
	state     State
	sessionID string
	// 世代番号はStartごとに増える
	// 旧セッションのスケジューラーから遅れて届いたフレームの判別に使う
	generation int64
	startTime  time.Time
	stopTime   time.Time
	store      *FrameStore
	scheduler  *CaptureScheduler

	// セッション用コンテキスト (停止で取り消される)
	sessionCancel context.CancelFunc
	// 最大録画時間での自動停止用タイマー
	watchdog *time.Timer

	// コンパイル制御
	compileCancel context.CancelFunc
	compileDone   chan struct{}

	artifact *Artifact
	lastErr  error

	progressDone  atomic.Int64
	progressTotal atomic.Int64
}

// NewController は新しいControllerを作成する
// サンプリング間隔・最大録画時間・品質は設定値として構築時に渡される
func NewController(cfg *config.Config, provider source.Provider, encoder Encoder) *Controller {
	return &Controller{
		cfg:      cfg,
		provider: provider,
		encoder:  encoder,
		state:    StateIdle,
		store:    NewFrameStore(),
	}
}

// State は現在の状態を返す
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start は録画を開始する
// Idle/Stopped/Readyから遷移でき、バッファと計測値は必ずリセットされる
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle, StateStopped, StateReady:
	default:
		return &InvalidTransitionError{From: c.state, Op: "start"}
	}

	// 前セッションの残骸をクリア
	c.store.Clear()
	c.sessionID = uuid.NewString()
	c.generation++
	c.startTime = time.Now()
	c.stopTime = time.Time{}
	c.lastErr = nil
	c.progressDone.Store(0)
	c.progressTotal.Store(0)

	ctx, cancel := context.WithCancel(context.Background())
	c.sessionCancel = cancel

	// sinkにこの世代を焼き込む: 旧セッションのスナップショット取得が
	// 停止後まで長引いても、再start後のバッファには決して追記されない
	gen := c.generation
	c.scheduler = NewCaptureScheduler(
		c.provider,
		c.cfg.Recording.CaptureInterval,
		c.cfg.JPEGQuality(),
		c.cfg.Recording.Width,
		c.cfg.Recording.Height,
		func(f Frame) bool { return c.acceptFrame(gen, f) },
	)

	c.state = StateRecording
	c.scheduler.Start(ctx)

	// 最大録画時間に達したら手動stopと同じ遷移を自動で行う
	c.watchdog = time.AfterFunc(c.cfg.Recording.MaxDuration, c.autoStop)

	log.Printf("録画を開始しました (session=%s, interval=%v, max=%v)",
		c.sessionID, c.cfg.Recording.CaptureInterval, c.cfg.Recording.MaxDuration)
	return nil
}

// acceptFrame はスケジューラーからのフレームを受け入れる
// 状態チェックと追記を同一ロック内で行うことで、停止時点で飛行中だった
// tickが停止後のバッファに追記されないことを保証する
// 世代チェックにより、停止→即再startをまたいで完了した旧セッションの
// tickも弾かれる (状態だけではRecordingに見えてしまう)
func (c *Controller) acceptFrame(gen int64, f Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording || gen != c.generation {
		return false
	}

	if err := c.store.Append(f); err != nil {
		log.Printf("フレームの追記に失敗: %v", err)
		return false
	}

	// tick側でも上限到達を検知する (watchdogと同じ遷移)
	if f.CapturedAt.Sub(c.startTime) >= c.cfg.Recording.MaxDuration {
		log.Printf("最大録画時間 %v に達したため自動停止します", c.cfg.Recording.MaxDuration)
		c.stopLocked()
	}

	return true
}

// autoStop はwatchdogタイマーからの自動停止
func (c *Controller) autoStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return
	}
	log.Printf("最大録画時間 %v に達したため自動停止します", c.cfg.Recording.MaxDuration)
	c.stopLocked()
}

// Stop は録画を停止する
// 既に停止済みの場合は何もしない
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRecording:
		c.stopLocked()
		log.Printf("録画を停止しました (session=%s, frames=%d)", c.sessionID, c.store.Len())
		return nil
	case StateStopped:
		return nil
	default:
		return &InvalidTransitionError{From: c.state, Op: "stop"}
	}
}

// stopLocked は録画停止の共通処理 (呼び出し側がロックを保持していること)
func (c *Controller) stopLocked() {
	c.state = StateStopped
	c.stopTime = time.Now()

	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}

// Compile はバッファ内のフレームを1つの動画成果物にコンパイルする
// 呼び出し側をブロックせず非同期に実行される
// キャプチャ中のバッファには決して走らない: 開始できるのはStoppedと、
// 失敗した試行の再実行にあたるErrorからだけ (バッファは失敗後も不変のため)
// フレームが1枚もない場合はErrStoreEmptyを返し、エンコーダーは起動されない
func (c *Controller) Compile() error {
	c.mu.Lock()

	if c.state != StateStopped && c.state != StateError {
		c.mu.Unlock()
		return &InvalidTransitionError{From: c.state, Op: "compile"}
	}
	c.lastErr = nil
	if c.store.Len() == 0 {
		c.mu.Unlock()
		return ErrStoreEmpty
	}

	// コンパイル中のバッファは読み取り専用: コピーに対して1パスで処理する
	frames := c.store.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.compileCancel = cancel
	c.compileDone = done
	c.state = StateCompiling
	c.progressDone.Store(0)
	c.progressTotal.Store(int64(len(frames)))

	minInterval := c.cfg.MinFrameInterval()
	sessionID := c.sessionID
	c.mu.Unlock()

	go c.runCompile(ctx, cancel, done, frames, minInterval, sessionID)
	return nil
}

// runCompile はコンパイル本体 (専用ゴルーチンで実行される)
func (c *Controller) runCompile(ctx context.Context, cancel context.CancelFunc, done chan struct{}, frames []Frame, minInterval time.Duration, sessionID string) {
	defer close(done)
	defer cancel()

	timed := ReconstructTiming(frames, minInterval)

	artifact, err := c.encoder.Encode(ctx, timed, func(doneN, total int) {
		c.progressDone.Store(int64(doneN))
		c.progressTotal.Store(int64(total))
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	// reset()が先行した場合は結果ごと破棄する
	if c.state != StateCompiling || c.compileDone != done {
		if artifact != nil {
			_ = os.Remove(artifact.Path)
		}
		return
	}

	c.compileCancel = nil
	c.compileDone = nil

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// 呼び出し側の意図的な中断はエラー状態にしない
			c.state = StateStopped
			return
		}
		c.lastErr = err
		c.state = StateError
		log.Printf("コンパイルに失敗しました (session=%s): %v", sessionID, err)
		return
	}

	// 前回の成果物は置き換える (マージしない)
	c.artifact = artifact
	c.state = StateReady
	log.Printf("コンパイルが完了しました (session=%s, %s, %v, %dバイト)",
		sessionID, artifact.Path, artifact.Duration, artifact.Size)
}

// Reset はセッションを破棄してIdleに戻す
// コンパイル中であれば中断し、エンコーダー資源の解放を待つ
func (c *Controller) Reset() {
	c.mu.Lock()

	if c.compileCancel != nil {
		c.compileCancel()
	}
	done := c.compileDone
	c.compileCancel = nil
	c.compileDone = nil

	if c.scheduler != nil {
		c.scheduler.Stop()
		c.scheduler = nil
	}
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}

	c.store.Clear()
	c.artifact = nil
	c.lastErr = nil
	c.sessionID = ""
	c.startTime = time.Time{}
	c.stopTime = time.Time{}
	c.state = StateIdle
	c.progressDone.Store(0)
	c.progressTotal.Store(0)

	c.mu.Unlock()

	// 中断されたコンパイルが資源を解放し終えるのを待つ
	if done != nil {
		<-done
	}

	log.Println("セッションをリセットしました")
}

// Artifact は成果物を返す
// 成果物が公開されるのはReadyのときだけ
func (c *Controller) Artifact() (*Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady || c.artifact == nil {
		return nil, false
	}
	return c.artifact, true
}

// FrameCount は現在のバッファ内フレーム数を返す
func (c *Controller) FrameCount() int {
	return c.store.Len()
}

// Telemetry は外部レイヤー向けの状態スナップショット
type Telemetry struct {
	State           State       `json:"state"`
	SessionID       string      `json:"session_id,omitempty"`
	Source          source.Info `json:"source"`
	ElapsedSeconds  float64     `json:"elapsed_seconds"`
	FrameCount      int         `json:"frame_count"`
	SkippedTicks    int64       `json:"skipped_ticks"`
	CompileProgress float64     `json:"compile_progress"`
	Artifact        *Artifact   `json:"artifact,omitempty"`
	LastError       string      `json:"last_error,omitempty"`
}

// Telemetry は現在の計測値のスナップショットを返す
func (c *Controller) Telemetry() Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := Telemetry{
		State:      c.state,
		SessionID:  c.sessionID,
		Source:     c.provider.Info(),
		FrameCount: c.store.Len(),
	}

	if c.scheduler != nil {
		t.SkippedTicks = c.scheduler.SkippedTicks()
	}

	switch {
	case c.state == StateRecording:
		t.ElapsedSeconds = time.Since(c.startTime).Seconds()
	case !c.startTime.IsZero() && !c.stopTime.IsZero():
		t.ElapsedSeconds = c.stopTime.Sub(c.startTime).Seconds()
	}

	switch c.state {
	case StateReady:
		t.CompileProgress = 1
		t.Artifact = c.artifact
	case StateCompiling:
		if total := c.progressTotal.Load(); total > 0 {
			t.CompileProgress = float64(c.progressDone.Load()) / float64(total)
		}
	}

	if c.lastErr != nil {
		t.LastError = c.lastErr.Error()
	}

	return t
}
