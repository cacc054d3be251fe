package opencv

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"shutter/internal/calibration"
)

// matFromImage は image.Image を 8bit 3ch の Mat に変換する
// 呼び出し側で Close すること
func matFromImage(img image.Image) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "画像をMatに変換できません")
	}
	if mat.Empty() {
		_ = mat.Close()
		return gocv.Mat{}, errors.New("空の画像です")
	}
	return mat, nil
}

// matFromMatrix3 は 3x3 行列を CV_64F の Mat にする
func matFromMatrix3(m calibration.Matrix3) gocv.Mat {
	mat := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			mat.SetDoubleAt(r, c, m[r][c])
		}
	}
	return mat
}

// matFromVector は係数列を 1xN の CV_64F の Mat にする
func matFromVector(v []float64) gocv.Mat {
	mat := gocv.NewMatWithSize(1, len(v), gocv.MatTypeCV64F)
	for i, x := range v {
		mat.SetDoubleAt(0, i, x)
	}
	return mat
}

// matrix3FromMat は 3x3 の CV_64F の Mat を読み出す
func matrix3FromMat(mat gocv.Mat) (calibration.Matrix3, error) {
	var m calibration.Matrix3
	if mat.Rows() != 3 || mat.Cols() != 3 {
		return m, errors.Errorf("3x3行列ではありません: %dx%d", mat.Rows(), mat.Cols())
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m[r][c] = mat.GetDoubleAt(r, c)
		}
	}
	return m, nil
}
