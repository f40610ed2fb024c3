// Package source は、録画パイプラインに静止画を供給する映像ソースを管理します。
//
// このパッケージは、外部レンダラーから要求時に1枚の静止画スナップショットを
// 取得するためのProviderインターフェースと、その実装を提供します。
//
// 責務:
//   - スナップショット取得インターフェースの定義
//   - X11画面キャプチャによるスナップショット取得 (ffmpeg x11grab)
//   - テスト・デモ用の合成パターンソース
//
// 仕様:
//   - スナップショットはJPEGバイト列として返される
//   - 取得失敗はそのtickのスキップとして扱われ、録画は継続する
//   - ソース自身はセッション状態を一切変更しない
package source
