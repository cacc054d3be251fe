// Package camera カメラデバイスからのフレーム取得を担う
//
// # 責務
// - Device / Opener による取得元の抽象化
// - ffmpeg 経由の V4L2 デバイスおよび動画ファイルの読み出し
// - MJPEG ストリームのフレーム分割
// - V4L2 デバイスの検出
//
// # 仕様
// - Device.Read は同期的にブロックし、終端で ErrEndOfStream を返す
// - 終端後の Read は常に ErrEndOfStream を返す
// - Device は単一のゴルーチンから使う前提で、ロックを持たない
//
// # 前提要件
//   - v4l-utils: カメラ名の取得とデバイス制御に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: ffmpeg バックエンドでの画像キャプチャに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
