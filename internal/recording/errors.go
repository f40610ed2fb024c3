package recording

import (
	"errors"
	"fmt"
)

// ErrStoreEmpty はフレームが1枚もない状態でのコンパイル要求を表す
// エンコーダーには決して転送されない
var ErrStoreEmpty = errors.New("バッファにフレームがありません")

// InvalidTransitionError は許可されていない状態遷移の要求を表す
type InvalidTransitionError struct {
	From State  // 要求時の状態
	Op   string // 要求された操作
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("状態 %s では操作 %s を実行できません", e.From, e.Op)
}

// DecodeError はコンパイル中の静止画デコード失敗を表す
// そのコンパイル試行だけが中断され、バッファは保持される
type DecodeError struct {
	Index int   // 失敗したフレームの位置
	Err   error // 原因
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("フレーム %d のデコードに失敗: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncoderError はエンコーダー/マルチプレクサーの失敗を表す
// そのコンパイル試行だけが中断され、バッファは保持される
type EncoderError struct {
	Stage string // 失敗したステージ ("encode" / "mux" / "finalize" など)
	Err   error  // 原因
}

func (e *EncoderError) Error() string {
	return fmt.Sprintf("エンコーダーの %s ステージで失敗: %v", e.Stage, e.Err)
}

func (e *EncoderError) Unwrap() error {
	return e.Err
}
