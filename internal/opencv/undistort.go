package opencv

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"shutter/internal/calibration"
)

// Undistorter はカメラ行列と歪み係数でフレームを補正する
// 補正は入力フレームの解像度で行い、出力も同じ解像度になる
type Undistorter struct {
	cameraMatrix gocv.Mat
	distortion   gocv.Mat
	newMatrix    gocv.Mat
	size         image.Point
	closed       bool
}

// NewUndistorter は内部パラメータから補正器を作る
// size は入力フレームの解像度で、optimal モードの新カメラ行列の計算に使う
func NewUndistorter(in *calibration.Intrinsics, mode calibration.NewCameraMatrixMode, size image.Point) (*Undistorter, error) {
	if in == nil {
		return nil, errors.New("内部パラメータがありません")
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("無効な画像サイズ: %dx%d", size.X, size.Y)
	}

	u := &Undistorter{
		cameraMatrix: matFromMatrix3(in.CameraMatrix),
		distortion:   matFromVector(in.DistortionCoeffs),
		size:         size,
	}

	if mode == calibration.NewCameraMatrixOptimal {
		// alpha=1: 元画像の全画素を残す
		newMatrix, _ := gocv.GetOptimalNewCameraMatrixWithParams(u.cameraMatrix, u.distortion, size, 1.0, size, false)
		u.newMatrix = newMatrix
		return u, nil
	}

	m, err := in.NewCameraMatrix(mode)
	if err != nil {
		_ = u.Close()
		return nil, err
	}
	u.newMatrix = matFromMatrix3(m)
	return u, nil
}

// NewCameraMatrix は補正に使う新カメラ行列を返す
func (u *Undistorter) NewCameraMatrix() (calibration.Matrix3, error) {
	return matrix3FromMat(u.newMatrix)
}

// Undistort は frame を補正した新しい画像を返す
func (u *Undistorter) Undistort(frame image.Image) (image.Image, error) {
	if u.closed {
		return nil, errors.New("クローズ済みのUndistorterです")
	}

	src, err := matFromImage(frame)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	gocv.Undistort(src, &dst, u.cameraMatrix, u.distortion, u.newMatrix)
	if dst.Empty() {
		return nil, errors.New("歪み補正の結果が空です")
	}

	img, err := dst.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "補正画像の変換に失敗")
	}
	return img, nil
}

// Close は行列を解放する
func (u *Undistorter) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true

	_ = u.cameraMatrix.Close()
	_ = u.distortion.Close()
	if !u.newMatrix.Empty() {
		_ = u.newMatrix.Close()
	}
	return nil
}
