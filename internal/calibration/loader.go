package calibration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultCameras は標準のカメラ名とファイル名の対応
func DefaultCameras() map[string]string {
	return map[string]string{
		"head": "head.yaml",
		"top":  "top.yaml",
	}
}

// Loader は名前付きカメラのキャリブレーションファイルを読み込む
type Loader struct {
	dir     string
	cameras map[string]string
}

// NewLoader は新しいLoaderを作成する。cameras が空なら DefaultCameras を使う
func NewLoader(dir string, cameras map[string]string) *Loader {
	if len(cameras) == 0 {
		cameras = DefaultCameras()
	}
	copied := make(map[string]string, len(cameras))
	for id, file := range cameras {
		copied[id] = file
	}
	return &Loader{dir: dir, cameras: copied}
}

// Cameras は登録されているカメラ名をソートして返す
func (l *Loader) Cameras() []string {
	ids := make([]string, 0, len(l.cameras))
	for id := range l.cameras {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Path はカメラ名に対応するファイルパスを返す
func (l *Loader) Path(id string) (string, error) {
	file, ok := l.cameras[id]
	if !ok {
		return "", errors.Wrapf(ErrConfigNotFound, "カメラ %q", id)
	}
	if filepath.IsAbs(file) {
		return file, nil
	}
	return filepath.Join(l.dir, file), nil
}

// LoadIntrinsics はカメラ名から内部パラメータを読み込む
func (l *Loader) LoadIntrinsics(id string) (*Intrinsics, error) {
	path, err := l.Path(id)
	if err != nil {
		return nil, err
	}
	return LoadIntrinsicsFile(path)
}

// LoadExtrinsics は from から to への外部パラメータを読み込む
// ファイル名は <from>_to_<to>_camera.yaml
func (l *Loader) LoadExtrinsics(from, to string) (*Extrinsics, error) {
	for _, id := range []string{from, to} {
		if _, ok := l.cameras[id]; !ok {
			return nil, errors.Wrapf(ErrConfigNotFound, "カメラ %q", id)
		}
	}

	path := filepath.Join(l.dir, fmt.Sprintf("%s_to_%s_camera.yaml", from, to))
	ext, err := LoadExtrinsicsFile(path)
	if err != nil {
		return nil, err
	}
	ext.From, ext.To = from, to
	return ext, nil
}

// LoadAll は登録済み全カメラの内部パラメータと top→head の外部パラメータを読み込む
func (l *Loader) LoadAll() (*Params, error) {
	params := &Params{Intrinsics: make(map[string]*Intrinsics, len(l.cameras))}

	for _, id := range l.Cameras() {
		in, err := l.LoadIntrinsics(id)
		if err != nil {
			return nil, err
		}
		params.Intrinsics[id] = in
	}

	_, hasTop := l.cameras["top"]
	_, hasHead := l.cameras["head"]
	if hasTop && hasHead {
		ext, err := l.LoadExtrinsics("top", "head")
		if err != nil {
			return nil, err
		}
		params.Extrinsics = ext
	}

	return params, nil
}

type matrixNode struct {
	Rows *int      `yaml:"rows"`
	Cols *int      `yaml:"cols"`
	Data []float64 `yaml:"data"`
}

type intrinsicsFile struct {
	ImageWidth             int         `yaml:"image_width"`
	ImageHeight            int         `yaml:"image_height"`
	CameraName             string      `yaml:"camera_name"`
	DistortionModel        string      `yaml:"distortion_model"`
	CameraMatrix           *matrixNode `yaml:"camera_matrix"`
	DistortionCoefficients *matrixNode `yaml:"distortion_coefficients"`
	ProjectionMatrix       *matrixNode `yaml:"projection_matrix"`
}

type extrinsicsFile struct {
	Translation []float64 `yaml:"translation"`
	Quaternion  []float64 `yaml:"quaternion"`
}

// OpenCV が受け付ける歪み係数の個数
var validDistortionLengths = map[int]bool{4: true, 5: true, 8: true, 12: true, 14: true}

// LoadIntrinsicsFile は指定パスの camera_info YAML を読み込む
func LoadIntrinsicsFile(path string) (*Intrinsics, error) {
	var f intrinsicsFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}

	k, err := matrixData(path, "camera_matrix", f.CameraMatrix, 9)
	if err != nil {
		return nil, err
	}
	d, err := matrixData(path, "distortion_coefficients", f.DistortionCoefficients, -1)
	if err != nil {
		return nil, err
	}
	if !validDistortionLengths[len(d)] {
		return nil, errors.Wrapf(ErrParse, "%s: distortion_coefficients の要素数が不正です (got %d)", path, len(d))
	}
	p, err := matrixData(path, "projection_matrix", f.ProjectionMatrix, 12)
	if err != nil {
		return nil, err
	}
	if f.ImageWidth < 0 || f.ImageHeight < 0 {
		return nil, errors.Wrapf(ErrParse, "%s: 画像サイズが負です", path)
	}

	camera, _ := NewMatrix3(k)
	projection, _ := NewMatrix3([]float64{
		p[0], p[1], p[2],
		p[4], p[5], p[6],
		p[8], p[9], p[10],
	})

	return &Intrinsics{
		CameraName:       f.CameraName,
		DistortionModel:  f.DistortionModel,
		ImageWidth:       f.ImageWidth,
		ImageHeight:      f.ImageHeight,
		CameraMatrix:     camera,
		DistortionCoeffs: append([]float64(nil), d...),
		Projection:       projection,
	}, nil
}

// LoadExtrinsicsFile は指定パスの外部パラメータ YAML を読み込む
func LoadExtrinsicsFile(path string) (*Extrinsics, error) {
	var f extrinsicsFile
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}

	if len(f.Translation) != 3 {
		return nil, errors.Wrapf(ErrParse, "%s: translation には3要素が必要です (got %d)", path, len(f.Translation))
	}
	if len(f.Quaternion) != 4 {
		return nil, errors.Wrapf(ErrParse, "%s: quaternion には4要素が必要です (got %d)", path, len(f.Quaternion))
	}
	var norm float64
	for _, v := range f.Quaternion {
		norm += v * v
	}
	if norm == 0 {
		return nil, errors.Wrapf(ErrParse, "%s: quaternion のノルムが0です", path)
	}

	ext := &Extrinsics{}
	copy(ext.Translation[:], f.Translation)
	copy(ext.Quaternion[:], f.Quaternion)
	return ext, nil
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(ErrParse, "%s を読み込めません: %v", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrapf(ErrParse, "%s: YAMLが不正です: %v", path, err)
	}
	return nil
}

// matrixData はキーの存在と要素数を検証する。want が負なら要素数は問わない
func matrixData(path, key string, node *matrixNode, want int) ([]float64, error) {
	if node == nil || node.Data == nil {
		return nil, errors.Wrapf(ErrParse, "%s: %s.data がありません", path, key)
	}
	n := len(node.Data)
	if want >= 0 && n != want {
		return nil, errors.Wrapf(ErrParse, "%s: %s.data には%d要素が必要です (got %d)", path, key, want, n)
	}
	if node.Rows != nil && node.Cols != nil && *node.Rows**node.Cols != n {
		return nil, errors.Wrapf(ErrParse, "%s: %s の rows x cols (%dx%d) が要素数 %d と一致しません",
			path, key, *node.Rows, *node.Cols, n)
	}
	return node.Data, nil
}
