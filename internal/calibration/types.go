package calibration

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrConfigNotFound は未登録のカメラ名が指定されたことを表す
	ErrConfigNotFound = errors.New("キャリブレーション設定が見つかりません")
	// ErrParse はファイルが読めない、または内容が不正なことを表す
	ErrParse = errors.New("キャリブレーションファイルの解析に失敗")
)

// Matrix3 は行優先の3x3行列
type Matrix3 [3][3]float64

// NewMatrix3 は行優先9要素から行列を作る
func NewMatrix3(data []float64) (Matrix3, error) {
	var m Matrix3
	if len(data) != 9 {
		return m, fmt.Errorf("3x3行列には9要素が必要です (got %d)", len(data))
	}
	for i := 0; i < 9; i++ {
		m[i/3][i%3] = data[i]
	}
	return m, nil
}

// Flat は行優先の9要素を返す
func (m Matrix3) Flat() []float64 {
	out := make([]float64, 0, 9)
	for r := 0; r < 3; r++ {
		out = append(out, m[r][:]...)
	}
	return out
}

// NewCameraMatrixMode は歪み補正後のカメラ行列の選び方
type NewCameraMatrixMode string

const (
	// NewCameraMatrixProjection は投影行列の左上3x3を使う
	NewCameraMatrixProjection NewCameraMatrixMode = "projection"
	// NewCameraMatrixIntrinsic は内部パラメータ行列をそのまま使う
	NewCameraMatrixIntrinsic NewCameraMatrixMode = "intrinsic"
	// NewCameraMatrixOptimal は alpha=1 で最適化したカメラ行列を使う（opencv パッケージで計算）
	NewCameraMatrixOptimal NewCameraMatrixMode = "optimal"
)

// ParseNewCameraMatrixMode は設定文字列をモードに変換する。空文字は projection
func ParseNewCameraMatrixMode(s string) (NewCameraMatrixMode, error) {
	switch NewCameraMatrixMode(s) {
	case "", NewCameraMatrixProjection:
		return NewCameraMatrixProjection, nil
	case NewCameraMatrixIntrinsic, NewCameraMatrixOptimal:
		return NewCameraMatrixMode(s), nil
	default:
		return "", fmt.Errorf("不明なカメラ行列モード: %q", s)
	}
}

// Intrinsics は1台のカメラの内部パラメータ
type Intrinsics struct {
	CameraName      string
	DistortionModel string
	ImageWidth      int // 0 はファイルに記載なし
	ImageHeight     int

	CameraMatrix     Matrix3
	DistortionCoeffs []float64
	// Projection は 3x4 投影行列の左上3x3
	Projection Matrix3
}

// NewCameraMatrix は補正後の座標系に使う行列を返す。optimal は扱えない
func (in *Intrinsics) NewCameraMatrix(mode NewCameraMatrixMode) (Matrix3, error) {
	switch mode {
	case "", NewCameraMatrixProjection:
		return in.Projection, nil
	case NewCameraMatrixIntrinsic:
		return in.CameraMatrix, nil
	default:
		return Matrix3{}, fmt.Errorf("カメラ行列モード %q はこのパッケージでは計算できません", mode)
	}
}

// Extrinsics は2台のカメラ間の外部パラメータ
type Extrinsics struct {
	From, To    string
	Translation [3]float64
	// Quaternion は (x, y, z, w) の順
	Quaternion [4]float64
}

// Rotation はクォータニオンを正規化して回転行列に変換する
func (e *Extrinsics) Rotation() Matrix3 {
	x, y, z, w := e.Quaternion[0], e.Quaternion[1], e.Quaternion[2], e.Quaternion[3]
	n := math.Sqrt(x*x + y*y + z*z + w*w)
	if n == 0 {
		return Matrix3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	x, y, z, w = x/n, y/n, z/n, w/n

	return Matrix3{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// Params は全カメラのパラメータ
type Params struct {
	Intrinsics map[string]*Intrinsics
	// Extrinsics は top→head が両方登録されている場合のみ設定される
	Extrinsics *Extrinsics
}
