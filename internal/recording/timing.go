package recording

import (
	"time"
)

// ReconstructTiming は不規則なキャプチャタイムスタンプ列から各フレームの表示時間を復元する
//
// キャプチャのtickはスケジューリングのゆらぎやストールで完全には周期的にならない。
// 一定レートでそのまま再生すると成果物の長さが実際の録画時間からずれるため、
// 各フレームを実測のフレーム間隔だけ表示させて実時間のペースを保存する。
//
// hold[i] = max(minFrameInterval, t[i+1] - t[i])   (i < n-1)
// hold[n-1] = minFrameInterval
//
// フレーム0枚なら空、1枚ならminFrameIntervalの1ペアを返す
func ReconstructTiming(frames []Frame, minFrameInterval time.Duration) []TimedFrame {
	if len(frames) == 0 {
		return nil
	}

	timed := make([]TimedFrame, 0, len(frames))

	for i := 0; i < len(frames)-1; i++ {
		hold := frames[i+1].CapturedAt.Sub(frames[i].CapturedAt)
		if hold < minFrameInterval {
			hold = minFrameInterval
		}
		timed = append(timed, TimedFrame{Frame: frames[i], Hold: hold})
	}

	// 最後のフレームには後続がないため下限値を割り当てる
	timed = append(timed, TimedFrame{
		Frame: frames[len(frames)-1],
		Hold:  minFrameInterval,
	})

	return timed
}

// TotalHold は表示時間の合計を返す
func TotalHold(timed []TimedFrame) time.Duration {
	var total time.Duration
	for _, tf := range timed {
		total += tf.Hold
	}
	return total
}
