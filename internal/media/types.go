// Package media はフレームをファイルに書き出す処理をまとめる
package media

import (
	"image"
)

// VideoWriter は開いている動画ファイル
// 同時に複数のゴルーチンから呼んではならない
type VideoWriter interface {
	// Write はフレームを到着順に追記する
	Write(frame image.Image) error
	// Close はフラッシュしてファイルを確定する。2回目以降は何もしない
	Close() error
	// Path は出力先のパス
	Path() string
	// Frames はこれまでに書き込んだフレーム数
	Frames() int
}

// VideoWriterFactory は指定のFPSと解像度で動画ファイルを作成する
// 失敗時はファイルを開いたまま残してはならない
type VideoWriterFactory func(path string, fps, width, height int) (VideoWriter, error)

// ImageWriter は静止画を書き出す
type ImageWriter interface {
	WriteImage(path string, frame image.Image) error
}

// ImageWriterFunc は関数を ImageWriter として使うためのアダプタ
type ImageWriterFunc func(path string, frame image.Image) error

// WriteImage は f(path, frame) を呼ぶ
func (f ImageWriterFunc) WriteImage(path string, frame image.Image) error {
	return f(path, frame)
}
