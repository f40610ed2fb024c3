// Package encoder は、(フレーム, 表示時間)列を1つの再生可能な動画に変換します。
//
// このパッケージは、録画パイプラインの最終段であるエンコード・多重化処理を
// 担当します。フレームは必ずキャプチャ順に消費され、フレームi+1の処理は
// フレームiの表示義務が満たされるまで開始されません。
//
// バックエンド:
//   - FFmpegEncoder: 静止画列をffmpegのconcat入力 (フレーム毎のduration指定) で
//     libx264/mp4にエンコードする。外部プロセスのためコンテキスト取り消しで
//     即座に中断できる
//   - MJPEGEncoder: icza/mjpegによる純Go実装。各フレームを出力フレームレートに
//     合わせて繰り返し書き込み、AVIコンテナに多重化する
//
// 仕様:
//   - デコードできない静止画があればそのコンパイルを中断する (バッファは不変)
//   - 失敗・中断時に最終出力パスへ部分的な成果物を残さない
package encoder
