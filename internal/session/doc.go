// Package session カメラ1台分のキャプチャセッションを管理する
//
// # 責務
// - デバイスの Open と Close
// - フレーム取得と任意の歪み補正
// - 写真の保存と録画の開始・停止
//
// # 仕様
// - 状態は Uninitialized → Streaming → Closed の一方向に進む
// - 録画中は書き込み先の動画ファイルがちょうど1つ開いている
// - 録画中に返したフレームは、返す前にすべて動画へ書き込まれている
// - ストリーム終端後の NextFrame は常に ErrEndOfStream を返す
// - Close は録画を確定してからデバイスを解放する。2回目以降は何もしない
// - 出力ディレクトリは最初の写真または録画のときに作成する
//
// Session はロックを持たない。1つのゴルーチンからのみ操作すること。
package session
