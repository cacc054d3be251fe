// Package server は、キャプチャループを操作するHTTPサーバーを管理します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - 撮影・録画切り替え・終了のリクエストをコマンドとしてループへ渡す
//   - セッション状態の配信 (GET /api/status, WebSocket /api/ws)
//   - タイムラプス状態の取得 (GET /api/timelapse)
//
// 仕様:
//   - ルーティングは gin を使用
//   - ハンドラはセッションに直接触れず、controller.Controller.Do の結果を待つ
//   - 応答待ちがタイムアウトした場合は 504 を返す
//   - WebSocket では状態のJSONを server.status_interval ごとに送る
//   - フレームの配信は行わない
package server
