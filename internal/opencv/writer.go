package opencv

import (
	"image"
	"os"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"shutter/internal/media"
)

// DefaultCodec は mp4 コンテナ向けの FOURCC
const DefaultCodec = "mp4v"

// VideoWriter は gocv.VideoWriter を使う media.VideoWriter 実装
type VideoWriter struct {
	writer *gocv.VideoWriter
	path   string
	width  int
	height int
	frames int
	closed bool
}

// NewVideoWriterFactory は codec で書き出す VideoWriterFactory を返す
func NewVideoWriterFactory(codec string) media.VideoWriterFactory {
	if codec == "" {
		codec = DefaultCodec
	}
	return func(path string, fps, width, height int) (media.VideoWriter, error) {
		return NewVideoWriter(path, codec, fps, width, height)
	}
}

// NewVideoWriter は path に動画ファイルを作成する
// 開けなかった場合は作りかけのファイルを残さない
func NewVideoWriter(path, codec string, fps, width, height int) (*VideoWriter, error) {
	if fps <= 0 || width <= 0 || height <= 0 {
		return nil, errors.Errorf("無効な動画設定: %dx%d @ %dfps", width, height, fps)
	}

	writer, err := gocv.VideoWriterFile(path, codec, float64(fps), width, height, true)
	if err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrapf(err, "動画ファイルを作成できません: %s", path)
	}
	if !writer.IsOpened() {
		_ = writer.Close()
		_ = os.Remove(path)
		return nil, errors.Errorf("動画ファイルを開けません: %s (codec=%s)", path, codec)
	}

	return &VideoWriter{
		writer: writer,
		path:   path,
		width:  width,
		height: height,
	}, nil
}

// Write はフレームを追記する。解像度が異なるフレームは拒否する
func (w *VideoWriter) Write(frame image.Image) error {
	if w.closed {
		return errors.New("クローズ済みのWriterです")
	}

	b := frame.Bounds()
	if b.Dx() != w.width || b.Dy() != w.height {
		return errors.Errorf("フレームサイズが一致しません: %dx%d (期待値 %dx%d)", b.Dx(), b.Dy(), w.width, w.height)
	}

	mat, err := matFromImage(frame)
	if err != nil {
		return err
	}
	defer mat.Close()

	if err := w.writer.Write(mat); err != nil {
		return errors.Wrap(err, "フレームの書き込みに失敗")
	}
	w.frames++
	return nil
}

// Close はファイルを確定する
func (w *VideoWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.writer.Close()
}

// Path は出力先のパス
func (w *VideoWriter) Path() string { return w.path }

// Frames は書き込んだフレーム数
func (w *VideoWriter) Frames() int { return w.frames }

// PhotoWriter は gocv.IMWrite で静止画を保存する media.ImageWriter 実装
type PhotoWriter struct{}

// WriteImage は path に frame を書き出す。形式は拡張子で決まる
func (PhotoWriter) WriteImage(path string, frame image.Image) error {
	mat, err := matFromImage(frame)
	if err != nil {
		return err
	}
	defer mat.Close()

	if ok := gocv.IMWrite(path, mat); !ok {
		return errors.Errorf("画像を保存できません: %s", path)
	}
	return nil
}
