// Package server は、録画コントローラーへのHTTP/WebSocketインターフェースを提供します。
//
// このパッケージは、外部のダッシュボードレイヤーが利用する制御・テレメトリー
// サーフェスを公開します。ダッシュボード自体 (UI、チャート、AI連携) はこの
// リポジトリの範囲外であり、ここで定義するAPIだけが両者の接点になります。
//
// 責務:
//   - 録画操作エンドポイント (start/stop/compile/reset)
//   - テレメトリー取得 (状態、経過時間、フレーム数、コンパイル進捗、エラー詳細)
//   - 成果物のダウンロード配信
//   - WebSocketによるテレメトリーのプッシュ配信
//   - グレースフルシャットダウン
//
// 仕様:
//   - HTTPフレームワークはgin-gonic/ginを使用
//   - WebSocketはgorilla/websocketを使用
//   - 許可されない状態遷移は409、フレームなしのコンパイルは422を返す
package server
