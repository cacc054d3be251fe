package opencv

import (
	"image"

	"gocv.io/x/gocv"
)

// Window は gocv のプレビューウィンドウ
type Window struct {
	window *gocv.Window
}

// NewWindow は title のウィンドウを開く
func NewWindow(title string) *Window {
	return &Window{window: gocv.NewWindow(title)}
}

// Show は img を表示する
func (w *Window) Show(img image.Image) error {
	mat, err := matFromImage(img)
	if err != nil {
		return err
	}
	defer mat.Close()

	w.window.IMShow(mat)
	return nil
}

// WaitKey は最大 ms ミリ秒キー入力を待つ。入力がなければ -1
func (w *Window) WaitKey(ms int) int {
	return w.window.WaitKey(ms)
}

// Close はウィンドウを閉じる
func (w *Window) Close() error {
	return w.window.Close()
}
