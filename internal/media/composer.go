package media

import (
	"image"
	"image/draw"
)

// SideBySide は2枚のフレームを左右に並べた画像を作る
// right の大きさが left と異なる場合は left と同じ大きさに拡縮する
func SideBySide(left, right image.Image) *image.RGBA {
	lb := left.Bounds()
	w, h := lb.Dx(), lb.Dy()

	out := image.NewRGBA(image.Rect(0, 0, w*2, h))
	draw.Draw(out, image.Rect(0, 0, w, h), left, lb.Min, draw.Src)

	rb := right.Bounds()
	if rb.Dx() == w && rb.Dy() == h {
		draw.Draw(out, image.Rect(w, 0, w*2, h), right, rb.Min, draw.Src)
	} else {
		drawImageAt(out, right, image.Rect(w, 0, w*2, h))
	}
	return out
}

// drawImageAt は dst の rect に src をニアレストネイバー法で拡縮して描画する
func drawImageAt(dst *image.RGBA, src image.Image, rect image.Rectangle) {
	srcBounds := src.Bounds()
	srcWidth := srcBounds.Dx()
	srcHeight := srcBounds.Dy()
	if srcWidth == 0 || srcHeight == 0 {
		return
	}

	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			srcX := x * srcWidth / rect.Dx()
			srcY := y * srcHeight / rect.Dy()
			dst.Set(rect.Min.X+x, rect.Min.Y+y, src.At(srcBounds.Min.X+srcX, srcBounds.Min.Y+srcY))
		}
	}
}
