package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"shutter/internal/calibration"
	"shutter/internal/camera"
	"shutter/internal/media"
	"shutter/internal/timelapse"
)

// EnvPrefix は設定を上書きする環境変数の接頭辞（例: SHUTTER_CAMERA_DEVICE）
const EnvPrefix = "SHUTTER"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Camera      CameraConfig      `mapstructure:"camera" yaml:"camera"`
	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration"`
	Output      OutputConfig      `mapstructure:"output" yaml:"output"`
	Preview     PreviewConfig     `mapstructure:"preview" yaml:"preview"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Timelapse   timelapse.Config  `mapstructure:"timelapse" yaml:"timelapse"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// CameraConfig はカメラデバイスの設定
type CameraConfig struct {
	Device      string `mapstructure:"device" yaml:"device"`             // デバイスパス (例: /dev/video0) または動画ファイル
	Width       int    `mapstructure:"width" yaml:"width"`               // 画像幅
	Height      int    `mapstructure:"height" yaml:"height"`             // 画像高さ
	FPS         int    `mapstructure:"fps" yaml:"fps"`                   // フレームレート (fps)
	PixelFormat string `mapstructure:"pixel_format" yaml:"pixel_format"` // FOURCC
	Backend     string `mapstructure:"backend" yaml:"backend"`           // opencv または ffmpeg
}

// CalibrationConfig はキャリブレーションと歪み補正の設定
type CalibrationConfig struct {
	Dir             string            `mapstructure:"dir" yaml:"dir"`                             // パラメータファイルのディレクトリ
	Camera          string            `mapstructure:"camera" yaml:"camera"`                       // 使用するカメラ名
	Undistort       bool              `mapstructure:"undistort" yaml:"undistort"`                 // 歪み補正の有効化
	NewCameraMatrix string            `mapstructure:"new_camera_matrix" yaml:"new_camera_matrix"` // projection / intrinsic / optimal
	Cameras         map[string]string `mapstructure:"cameras" yaml:"cameras"`                     // カメラ名とファイル名の対応
}

// OutputConfig は写真と動画の出力設定
type OutputConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	PhotoExt string `mapstructure:"photo_ext" yaml:"photo_ext"`
	VideoExt string `mapstructure:"video_ext" yaml:"video_ext"`
	Codec    string `mapstructure:"codec" yaml:"codec"`     // opencv バックエンドの FOURCC
	Quality  int    `mapstructure:"quality" yaml:"quality"` // ffmpeg バックエンドの画質 (1-5)
}

// PreviewConfig はプレビューウィンドウの設定
type PreviewConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Title   string `mapstructure:"title" yaml:"title"`
	PollMS  int    `mapstructure:"poll_ms" yaml:"poll_ms"` // キー入力の待ち時間
}

// ServerConfig はHTTP制御サーバーの設定
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"` // リッスンするホスト
	Port    int    `mapstructure:"port" yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`       // 読み込みタイムアウト
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`     // 書き込みタイムアウト
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"` // コマンド応答の待ち時間
	StatusInterval time.Duration `mapstructure:"status_interval" yaml:"status_interval"` // WebSocketでの状態配信間隔
}

// LogConfig はログの設定
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Backend の種類
const (
	BackendOpenCV = "opencv"
	BackendFFmpeg = "ffmpeg"
)

// SetDefaults は v に既定値を登録する
func SetDefaults(v *viper.Viper) {
	v.SetDefault("camera.device", "/dev/video0")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.fps", 30)
	v.SetDefault("camera.pixel_format", camera.DefaultPixelFormat)
	v.SetDefault("camera.backend", BackendOpenCV)

	v.SetDefault("calibration.dir", "camera_info_640")
	v.SetDefault("calibration.camera", "")
	v.SetDefault("calibration.undistort", false)
	v.SetDefault("calibration.new_camera_matrix", string(calibration.NewCameraMatrixProjection))
	v.SetDefault("calibration.cameras", calibration.DefaultCameras())

	v.SetDefault("output.dir", "cap")
	v.SetDefault("output.photo_ext", "jpg")
	v.SetDefault("output.video_ext", "mp4")
	v.SetDefault("output.codec", "mp4v")
	v.SetDefault("output.quality", 3)

	v.SetDefault("preview.enabled", true)
	v.SetDefault("preview.title", "shutter")
	v.SetDefault("preview.poll_ms", 1)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.command_timeout", 5*time.Second)
	v.SetDefault("server.status_interval", 500*time.Millisecond)

	tl := timelapse.DefaultConfig()
	v.SetDefault("timelapse.enabled", tl.Enabled)
	v.SetDefault("timelapse.schedule", tl.Schedule)
	v.SetDefault("timelapse.max_shots", tl.MaxShots)
	v.SetDefault("timelapse.retention_days", tl.RetentionDays)

	v.SetDefault("log.level", "info")
}

// New は既定値・環境変数・設定ファイル探索パスを登録した viper を返す
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("shutter")
	v.SetConfigType("yaml")
	for _, path := range []string{".", "$HOME/.shutter", "/etc/shutter"} {
		v.AddConfigPath(os.ExpandEnv(path))
	}
	return v
}

// Load は設定を読み込む
// path が空なら探索パスから shutter.yaml を探し、見つからなければ既定値を使う
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の展開に失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// カメラ設定の検証
	if err := camera.ValidateSettings(c.CameraSettings()); err != nil {
		return err
	}
	switch c.Camera.Backend {
	case BackendOpenCV, BackendFFmpeg:
	default:
		return fmt.Errorf("無効なバックエンド: %q", c.Camera.Backend)
	}

	// キャリブレーション設定の検証
	if _, err := calibration.ParseNewCameraMatrixMode(c.Calibration.NewCameraMatrix); err != nil {
		return err
	}
	if c.Calibration.Undistort {
		if c.Calibration.Camera == "" {
			return fmt.Errorf("歪み補正にはカメラ名 (calibration.camera) が必要です")
		}
		if _, ok := c.Calibration.Cameras[c.Calibration.Camera]; !ok {
			return fmt.Errorf("未知のカメラ名: %q", c.Calibration.Camera)
		}
	}

	// 出力設定の検証
	if c.Output.Dir == "" {
		return fmt.Errorf("出力ディレクトリが指定されていません")
	}
	if !media.SupportedImageExt(strings.TrimPrefix(c.Output.PhotoExt, ".")) {
		return fmt.Errorf("サポートされていない写真の拡張子: %q", c.Output.PhotoExt)
	}
	if c.Output.VideoExt == "" {
		return fmt.Errorf("動画の拡張子が指定されていません")
	}
	if len(c.Output.Codec) != 4 {
		return fmt.Errorf("無効なコーデック: %q", c.Output.Codec)
	}
	if c.Output.Quality < 1 || c.Output.Quality > 5 {
		return fmt.Errorf("無効な画質: %d", c.Output.Quality)
	}

	// サーバー設定の検証
	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
		}
		if c.Server.CommandTimeout <= 0 {
			return fmt.Errorf("無効なコマンドタイムアウト: %s", c.Server.CommandTimeout)
		}
	}

	if err := c.Timelapse.Validate(); err != nil {
		return err
	}

	return nil
}

// CameraSettings はデバイスに渡す取得設定を返す
func (c *Config) CameraSettings() camera.Settings {
	return camera.Settings{
		Device:      c.Camera.Device,
		Width:       c.Camera.Width,
		Height:      c.Camera.Height,
		FPS:         c.Camera.FPS,
		PixelFormat: c.Camera.PixelFormat,
	}
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
