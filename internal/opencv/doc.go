// Package opencv gocv を使ったデバイス・書き出し・歪み補正・プレビューの実装
//
// # 責務
// - camera.Device の OpenCV 実装（VideoCapture）
// - media.VideoWriter / media.ImageWriter の OpenCV 実装
// - キャリブレーション済みの内部パラメータによる歪み補正
// - プレビューウィンドウ
//
// # 前提要件
//   - OpenCV 4.x と cgo ビルド環境
//     https://gocv.io/getting-started/linux/
//
// Window は OS スレッドに依存するため main ゴルーチンから使うこと。
package opencv
