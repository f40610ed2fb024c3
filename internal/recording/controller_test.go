package recording

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rokuga/internal/config"
	"rokuga/internal/source"
)

// makeJPEG はテスト用のJPEG画像を生成する
func makeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("テスト画像の生成に失敗しました: %v", err)
	}
	return buf.Bytes()
}

// stubProvider はテスト用の映像ソース
type stubProvider struct {
	mu   sync.Mutex
	data []byte
	err  error
}

func (p *stubProvider) Snapshot(_ context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.data, nil
}

func (p *stubProvider) IsAvailable(_ context.Context) bool { return true }

func (p *stubProvider) Info() source.Info {
	return source.Info{Kind: source.KindSynthetic, Name: "スタブソース"}
}

// spyEncoder はテスト用のエンコーダー
type spyEncoder struct {
	mu        sync.Mutex
	calls     int
	last      []TimedFrame
	fail      error
	block     chan struct{} // 非nilの場合、閉じられるかctx取り消しまで待つ
	cancelled chan struct{} // ctx取り消しで中断したときに閉じられる
}

func newSpyEncoder() *spyEncoder {
	return &spyEncoder{cancelled: make(chan struct{})}
}

func (e *spyEncoder) Encode(ctx context.Context, frames []TimedFrame, progress func(done, total int)) (*Artifact, error) {
	e.mu.Lock()
	e.calls++
	e.last = frames
	block := e.block
	fail := e.fail
	e.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			close(e.cancelled)
			return nil, ctx.Err()
		case <-block:
		}
	}

	if fail != nil {
		return nil, fail
	}

	if progress != nil {
		progress(len(frames), len(frames))
	}

	return &Artifact{
		Path:      "spy.avi",
		Size:      int64(len(frames)),
		Duration:  TotalHold(frames),
		Format:    e.Format(),
		CreatedAt: time.Now(),
	}, nil
}

func (e *spyEncoder) Format() string { return "avi" }

func (e *spyEncoder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *spyEncoder) lastFrames() []TimedFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// testConfig はテスト用の設定を作成する
func testConfig(interval, maxDuration time.Duration) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Recording: config.RecordingConfig{
			CaptureInterval: interval,
			MaxDuration:     maxDuration,
			Quality:         0.8,
			Width:           64,
			Height:          48,
		},
		Encoder: config.EncoderConfig{
			Backend:   config.BackendAVI,
			OutputFPS: 30,
			OutputDir: "recordings",
		},
		Source: config.SourceConfig{Kind: "synthetic"},
	}
}

// newTestController はテスト用のコントローラー一式を作成する
func newTestController(t *testing.T, interval, maxDuration time.Duration) (*Controller, *spyEncoder) {
	t.Helper()

	cfg := testConfig(interval, maxDuration)
	provider := &stubProvider{data: makeJPEG(t, cfg.Recording.Width, cfg.Recording.Height)}
	enc := newSpyEncoder()
	return NewController(cfg, provider, enc), enc
}

// waitForState は指定した状態になるまで待機する
func waitForState(t *testing.T, c *Controller, want State, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("状態 %s への遷移がタイムアウトしました (現在: %s)", want, c.State())
}

// TestControllerInvalidTransitions は許可されない操作の拒否をテストする
func TestControllerInvalidTransitions(t *testing.T) {
	c, enc := newTestController(t, 20*time.Millisecond, 10*time.Second)
	defer c.Reset()

	// Idleからのstop/compileは拒否される
	var transitionErr *InvalidTransitionError
	if err := c.Stop(); !errors.As(err, &transitionErr) {
		t.Errorf("Idleからのstopが拒否されませんでした: %v", err)
	}
	if err := c.Compile(); !errors.As(err, &transitionErr) {
		t.Errorf("Idleからのcompileが拒否されませんでした: %v", err)
	}

	// Recording中の再start/compileは拒否される
	if err := c.Start(); err != nil {
		t.Fatalf("startに失敗しました: %v", err)
	}
	if err := c.Start(); !errors.As(err, &transitionErr) {
		t.Errorf("Recording中のstartが拒否されませんでした: %v", err)
	}
	if err := c.Compile(); !errors.As(err, &transitionErr) {
		t.Errorf("Recording中のcompileが拒否されませんでした: %v", err)
	}

	if enc.callCount() != 0 {
		t.Errorf("拒否された操作でエンコーダーが起動されました: %d回", enc.callCount())
	}
}

// TestControllerStartResetsSession はstartによる計測値のリセットをテストする
func TestControllerStartResetsSession(t *testing.T) {
	c, _ := newTestController(t, 20*time.Millisecond, 10*time.Second)
	defer c.Reset()

	if err := c.Start(); err != nil {
		t.Fatalf("startに失敗しました: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if err := c.Stop(); err != nil {
		t.Fatalf("stopに失敗しました: %v", err)
	}

	if c.FrameCount() == 0 {
		t.Fatal("録画中にフレームがキャプチャされませんでした")
	}
	firstSession := c.Telemetry().SessionID

	// 再startで必ずフレーム数0・経過時間0から始まる
	if err := c.Start(); err != nil {
		t.Fatalf("再startに失敗しました: %v", err)
	}
	telemetry := c.Telemetry()

	if telemetry.FrameCount != 0 {
		t.Errorf("再start直後のフレーム数: got %d, want 0", telemetry.FrameCount)
	}
	if telemetry.ElapsedSeconds > 0.1 {
		t.Errorf("再start直後の経過時間: got %f, want ≈0", telemetry.ElapsedSeconds)
	}
	if telemetry.SessionID == firstSession {
		t.Error("セッションIDが更新されていません")
	}
}

// TestControllerAutoStop は最大録画時間での自動停止をテストする
func TestControllerAutoStop(t *testing.T) {
	interval := 50 * time.Millisecond
	maxDuration := 300 * time.Millisecond
	c, _ := newTestController(t, interval, maxDuration)
	defer c.Reset()

	if err := c.Start(); err != nil {
		t.Fatalf("startに失敗しました: %v", err)
	}

	// 上限から1間隔以内に自動停止する
	waitForState(t, c, StateStopped, maxDuration+2*interval)

	// 停止直後からスケジューラーは非アクティブ: フレーム数が増えない
	countAtStop := c.FrameCount()
	time.Sleep(3 * interval)
	if got := c.FrameCount(); got != countAtStop {
		t.Errorf("停止後にフレームが追記されました: %d -> %d", countAtStop, got)
	}

	// 経過時間は上限で凍結される
	elapsed := c.Telemetry().ElapsedSeconds
	if elapsed < maxDuration.Seconds() || elapsed > (maxDuration+2*interval).Seconds() {
		t.Errorf("凍結された経過時間が範囲外です: %f", elapsed)
	}
}

// TestControllerStopThenCompile は停止時点までのフレームだけが
// コンパイルされることをテストする
func TestControllerStopThenCompile(t *testing.T) {
	c, enc := newTestController(t, 20*time.Millisecond, 10*time.Second)
	defer c.Reset()

	if err := c.Start(); err != nil {
		t.Fatalf("startに失敗しました: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	// stop直後のフレーム数がコンパイル対象の全量になる
	if err := c.Stop(); err != nil {
		t.Fatalf("stopに失敗しました: %v", err)
	}
	countAtStop := c.FrameCount()
	if countAtStop == 0 {
		t.Fatal("録画中にフレームがキャプチャされませんでした")
	}

	if err := c.Compile(); err != nil {
		t.Fatalf("compileに失敗しました: %v", err)
	}
	waitForState(t, c, StateReady, 2*time.Second)

	if got := len(enc.lastFrames()); got != countAtStop {
		t.Errorf("コンパイルされたフレーム数が一致しません: got %d, want %d", got, countAtStop)
	}

	// 成果物が公開され、進捗は1になる
	telemetry := c.Telemetry()
	if telemetry.Artifact == nil {
		t.Error("Readyで成果物が公開されていません")
	}
	if telemetry.CompileProgress != 1 {
		t.Errorf("完了後の進捗: got %f, want 1", telemetry.CompileProgress)
	}
}

// TestControllerCompileEmptyStore はフレームなしでのコンパイル拒否をテストする
func TestControllerCompileEmptyStore(t *testing.T) {
	c, enc := newTestController(t, 50*time.Millisecond, 10*time.Second)
	defer c.Reset()

	// tickが来る前に停止してバッファを空のままにする
	if err := c.Start(); err != nil {
		t.Fatalf("startに失敗しました: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stopに失敗しました: %v", err)
	}

	if err := c.Compile(); !errors.Is(err, ErrStoreEmpty) {
		t.Errorf("ErrStoreEmptyが返りませんでした: %v", err)
	}
	if enc.callCount() != 0 {
		t.Error("空のバッファでエンコーダーが起動されました")
	}
	if c.State() != StateStopped {
		t.Errorf("拒否後の状態が変化しました: %s", c.State())
	}
}

// TestControllerResetDuringCompile はコンパイル中のリセットをテストする
func TestControllerResetDuringCompile(t *testing.T) {
	c, enc := newTestController(t, 20*time.Millisecond, 10*time.Second)
	enc.block = make(chan struct{}) // エンコーダーを故意にブロックさせる

	if err := c.Start(); err != nil {
		t.Fatalf("startに失敗しました: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := c.Stop(); err != nil {
		t.Fatalf("stopに失敗しました: %v", err)
	}
	if err := c.Compile(); err != nil {
		t.Fatalf("compileに失敗しました: %v", err)
	}
	waitForState(t, c, StateCompiling, time.Second)

	// リセットはコンパイルを中断し、資源解放を待ってから戻る
	c.Reset()

	select {
	case <-enc.cancelled:
	default:
		t.Error("エンコーダーが中断されていません")
	}

	if c.State() != StateIdle {
		t.Errorf("リセット後の状態: got %s, want %s", c.State(), StateIdle)
	}
	if c.FrameCount() != 0 {
		t.Errorf("リセット後のフレーム数: got %d, want 0", c.FrameCount())
	}
	if _, ok := c.Artifact(); ok {
		t.Error("リセット後に成果物が公開されています")
	}
}

// slowFirstProvider は最初のSnapshotだけ指示があるまで返さないソース
// 停止をまたいで長引くキャプチャtickを再現する
type slowFirstProvider struct {
	data    []byte
	first   atomic.Bool
	entered chan struct{} // 最初の呼び出しが始まったら閉じられる
	release chan struct{} // 閉じられるまで最初の呼び出しをブロックする
}

func (p *slowFirstProvider) Snapshot(_ context.Context) ([]byte, error) {
	if p.first.CompareAndSwap(false, true) {
		close(p.entered)
		<-p.release
	}
	return p.data, nil
}

func (p *slowFirstProvider) IsAvailable(_ context.Context) bool { return true }

func (p *slowFirstProvider) Info() source.Info {
	return source.Info{Kind: source.KindSynthetic, Name: "遅延スタブソース"}
}

// TestControllerStaleTickAfterRestart は停止→即再startをまたいで完走した
// 旧セッションのtickが新しいバッファに追記されないことをテストする
func TestControllerStaleTickAfterRestart(t *testing.T) {
	interval := 50 * time.Millisecond
	cfg := testConfig(interval, 10*time.Second)
	provider := &slowFirstProvider{
		data:    makeJPEG(t, cfg.Recording.Width, cfg.Recording.Height),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	var releaseOnce sync.Once
	defer releaseOnce.Do(func() { close(provider.release) })

	c := NewController(cfg, provider, newSpyEncoder())
	defer c.Reset()

	if err := c.Start(); err != nil {
		t.Fatalf("startに失敗しました: %v", err)
	}

	// 最初のtickがSnapshotでストールするのを待つ
	select {
	case <-provider.entered:
	case <-time.After(time.Second):
		t.Fatal("最初のtickが開始されませんでした")
	}

	// ストール中に停止して即座に新セッションを開始する
	if err := c.Stop(); err != nil {
		t.Fatalf("stopに失敗しました: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("再startに失敗しました: %v", err)
	}

	// 旧tickを完走させても、新セッションの最初のtickが来る前の
	// バッファは空のまま (旧セッションのフレームは世代チェックで弾かれる)
	releaseOnce.Do(func() { close(provider.release) })
	time.Sleep(20 * time.Millisecond)
	if got := c.FrameCount(); got != 0 {
		t.Fatalf("旧セッションのtickが新しいバッファに追記されました: frames=%d", got)
	}

	// 新セッション自体のキャプチャは正常に進む
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && c.FrameCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if c.FrameCount() == 0 {
		t.Fatal("新セッションでフレームがキャプチャされませんでした")
	}
}

// TestControllerCompileFailureAllowsRetry はコンパイル失敗後の再試行をテストする
func TestControllerCompileFailureAllowsRetry(t *testing.T) {
	c, enc := newTestController(t, 20*time.Millisecond, 10*time.Second)
	defer c.Reset()
	enc.fail = &DecodeError{Index: 2, Err: errors.New("壊れたJPEG")}

	if err := c.Start(); err != nil {
		t.Fatalf("startに失敗しました: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := c.Stop(); err != nil {
		t.Fatalf("stopに失敗しました: %v", err)
	}
	countAtStop := c.FrameCount()

	if err := c.Compile(); err != nil {
		t.Fatalf("compileに失敗しました: %v", err)
	}
	waitForState(t, c, StateError, 2*time.Second)

	// 失敗してもバッファは不変で、エラー詳細が公開される
	if got := c.FrameCount(); got != countAtStop {
		t.Errorf("失敗したコンパイルがバッファを変更しました: %d -> %d", countAtStop, got)
	}
	telemetry := c.Telemetry()
	if telemetry.LastError == "" {
		t.Error("エラー詳細が公開されていません")
	}
	if _, ok := c.Artifact(); ok {
		t.Error("失敗後に成果物が公開されています")
	}

	// 再録画なしで再試行できる
	enc.mu.Lock()
	enc.fail = nil
	enc.mu.Unlock()

	if err := c.Compile(); err != nil {
		t.Fatalf("再試行のcompileに失敗しました: %v", err)
	}
	waitForState(t, c, StateReady, 2*time.Second)

	if got := len(enc.lastFrames()); got != countAtStop {
		t.Errorf("再試行のフレーム数が一致しません: got %d, want %d", got, countAtStop)
	}
}

// TestControllerCaptureScenario は実時間シナリオの全体をテストする
// 間隔100ms・上限2秒で録画し、約20フレームが集まり、
// 成果物の再生時間が2秒の5%以内に収まることを確認する
func TestControllerCaptureScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("実時間シナリオのためshortモードではスキップ")
	}

	interval := 100 * time.Millisecond
	maxDuration := 2 * time.Second
	c, enc := newTestController(t, interval, maxDuration)
	defer c.Reset()

	if err := c.Start(); err != nil {
		t.Fatalf("startに失敗しました: %v", err)
	}
	waitForState(t, c, StateStopped, maxDuration+5*interval)

	frameCount := c.FrameCount()
	if frameCount < 17 || frameCount > 21 {
		t.Errorf("フレーム数が想定範囲外です: got %d, want ≈20", frameCount)
	}

	if err := c.Compile(); err != nil {
		t.Fatalf("compileに失敗しました: %v", err)
	}
	waitForState(t, c, StateReady, 5*time.Second)

	artifact, ok := c.Artifact()
	if !ok {
		t.Fatal("成果物が公開されていません")
	}
	if got := len(enc.lastFrames()); got != frameCount {
		t.Errorf("コンパイルされたフレーム数が一致しません: got %d, want %d", got, frameCount)
	}

	// 再生時間はキャプチャ実時間(フレーム数×間隔)に追従する
	want := time.Duration(frameCount) * interval
	diff := artifact.Duration - want
	if diff < 0 {
		diff = -diff
	}
	if float64(diff) > float64(want)*0.1 {
		t.Errorf("成果物の再生時間がずれています: got %v, want %v±10%%", artifact.Duration, want)
	}
}
