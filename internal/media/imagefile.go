package media

import (
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ImageFileWriter は拡張子に応じてJPEGまたはPNGで静止画を保存する
type ImageFileWriter struct {
	JPEGQuality int // 0 なら 90
}

// WriteImage は path に frame を書き出す。既存ファイルは上書きする
func (w ImageFileWriter) WriteImage(path string, frame image.Image) (err error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if !SupportedImageExt(ext) {
		return errors.Errorf("サポートされていない画像形式: %q", ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "画像ファイルを作成できません")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "画像ファイルのクローズに失敗")
		}
	}()

	switch ext {
	case "png":
		err = png.Encode(f, frame)
	default:
		quality := w.JPEGQuality
		if quality <= 0 {
			quality = 90
		}
		err = jpeg.Encode(f, frame, &jpeg.Options{Quality: quality})
	}
	if err != nil {
		return errors.Wrap(err, "画像のエンコードに失敗")
	}
	return nil
}

// SupportedImageExt は ImageFileWriter が扱える拡張子か判定する
func SupportedImageExt(ext string) bool {
	switch strings.ToLower(ext) {
	case "jpg", "jpeg", "png":
		return true
	}
	return false
}
