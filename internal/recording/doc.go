// Package recording は、ライブ映像ソースの録画パイプラインの中核を実装します。
//
// このパッケージは、定期サンプリングによるフレームキャプチャ、タイムスタンプ付き
// フレームバッファ、不規則なキャプチャ間隔から各フレームの表示時間を復元する
// タイミング再構成、およびそれらを統括する録画状態機械を提供します。
//
// 責務:
//   - フレームの定期キャプチャとバッファへの追記 (CaptureScheduler)
//   - キャプチャ順・タイムスタンプ順が保証されたフレームバッファ (FrameStore)
//   - キャプチャ間隔から表示時間列への変換 (ReconstructTiming)
//   - Idle/Recording/Stopped/Compiling/Ready/Error の状態遷移管理 (Controller)
//
// 仕様:
//   - スケジューラーがアクティブなのは状態がRecordingのときだけ
//   - コンパイルはStoppedと、失敗後の再試行にあたるErrorからのみ開始でき、
//     キャプチャと同時には走らない
//   - 停止時点で飛行中のtickは停止後のバッファに追記されない
//   - コンパイル失敗はその試行だけを中断し、バッファは保持される
package recording
