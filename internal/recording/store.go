package recording

import (
	"fmt"
	"sync"
	"time"
)

// FrameStore は1録画セッション分のフレームを保持する追記専用バッファ
// 挿入順 = キャプチャ順であり、タイムスタンプは単調非減少に保たれる
type FrameStore struct {
	mu     sync.RWMutex
	frames []Frame
}

// NewFrameStore は新しいFrameStoreを作成する
func NewFrameStore() *FrameStore {
	return &FrameStore{
		frames: make([]Frame, 0, 1024),
	}
}

// Append はフレームを末尾に追記する
// 直前のフレームより古いタイムスタンプは順序の破壊として拒否する
func (s *FrameStore) Append(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.frames); n > 0 {
		if f.CapturedAt.Before(s.frames[n-1].CapturedAt) {
			return fmt.Errorf("タイムスタンプが逆行しています: %v < %v",
				f.CapturedAt, s.frames[n-1].CapturedAt)
		}
	}

	s.frames = append(s.frames, f)
	return nil
}

// Clear はバッファを空にする
func (s *FrameStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = s.frames[:0]
}

// Snapshot は全フレームのコピーを返す
// 返されたスライスはその後のAppend/Clearの影響を受けない
func (s *FrameStore) Snapshot() []Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]Frame, len(s.frames))
	copy(snapshot, s.frames)
	return snapshot
}

// Len は現在のフレーム数を返す
func (s *FrameStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Span は最初と最後のフレームのタイムスタンプ差を返す
// フレームが1枚以下の場合は0
func (s *FrameStore) Span() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.frames) < 2 {
		return 0
	}
	return s.frames[len(s.frames)-1].CapturedAt.Sub(s.frames[0].CapturedAt)
}
