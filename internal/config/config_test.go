package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// defaultConfig は既定値だけで組み立てた設定を返す
func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)

	cfg := &Config{}
	require.NoError(t, v.Unmarshal(cfg))
	return cfg
}

// TestConfigDefaults は既定値をテストする
func TestConfigDefaults(t *testing.T) {
	cfg := defaultConfig(t)
	require.NoError(t, cfg.Validate())

	// カメラ設定の検証
	assert.Equal(t, "/dev/video0", cfg.Camera.Device)
	assert.Equal(t, 640, cfg.Camera.Width)
	assert.Equal(t, 480, cfg.Camera.Height)
	assert.Equal(t, 30, cfg.Camera.FPS)
	assert.Equal(t, "MJPG", cfg.Camera.PixelFormat)
	assert.Equal(t, BackendOpenCV, cfg.Camera.Backend)

	// 出力設定の検証
	assert.Equal(t, "cap", cfg.Output.Dir)
	assert.Equal(t, "jpg", cfg.Output.PhotoExt)
	assert.Equal(t, "mp4", cfg.Output.VideoExt)
	assert.Equal(t, "mp4v", cfg.Output.Codec)

	// キャリブレーション設定の検証
	assert.False(t, cfg.Calibration.Undistort)
	assert.Equal(t, "projection", cfg.Calibration.NewCameraMatrix)
	assert.Equal(t, "head.yaml", cfg.Calibration.Cameras["head"])
	assert.Equal(t, "top.yaml", cfg.Calibration.Cameras["top"])

	// サーバー設定の検証
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Server.CommandTimeout)

	// タイムラプス設定の検証
	assert.False(t, cfg.Timelapse.Enabled)
	assert.Equal(t, "@every 2s", cfg.Timelapse.Schedule)
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			modify:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "デバイスなし",
			modify:    func(c *Config) { c.Camera.Device = "" },
			expectErr: true,
		},
		{
			name:      "無効なFPS",
			modify:    func(c *Config) { c.Camera.FPS = 0 },
			expectErr: true,
		},
		{
			name:      "無効なバックエンド",
			modify:    func(c *Config) { c.Camera.Backend = "gstreamer" },
			expectErr: true,
		},
		{
			name:      "無効なカメラ行列モード",
			modify:    func(c *Config) { c.Calibration.NewCameraMatrix = "fisheye" },
			expectErr: true,
		},
		{
			name:      "歪み補正でカメラ名なし",
			modify:    func(c *Config) { c.Calibration.Undistort = true },
			expectErr: true,
		},
		{
			name: "歪み補正で未知のカメラ名",
			modify: func(c *Config) {
				c.Calibration.Undistort = true
				c.Calibration.Camera = "side"
			},
			expectErr: true,
		},
		{
			name: "歪み補正あり",
			modify: func(c *Config) {
				c.Calibration.Undistort = true
				c.Calibration.Camera = "head"
			},
			expectErr: false,
		},
		{
			name:      "未対応の写真形式",
			modify:    func(c *Config) { c.Output.PhotoExt = "gif" },
			expectErr: true,
		},
		{
			name:      "無効なコーデック",
			modify:    func(c *Config) { c.Output.Codec = "h264x" },
			expectErr: true,
		},
		{
			name:      "無効な画質",
			modify:    func(c *Config) { c.Output.Quality = 9 },
			expectErr: true,
		},
		{
			name: "無効なポート番号",
			modify: func(c *Config) {
				c.Server.Enabled = true
				c.Server.Port = 99999
			},
			expectErr: true,
		},
		{
			name:      "サーバー無効ならポートは検証しない",
			modify:    func(c *Config) { c.Server.Port = 0 },
			expectErr: false,
		},
		{
			name: "無効なタイムラプススケジュール",
			modify: func(c *Config) {
				c.Timelapse.Enabled = true
				c.Timelapse.Schedule = "sometimes"
			},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	assert.Equal(t, "192.168.1.100:9090", cfg.ServerAddress())
}

// TestLoadFile は設定ファイルの読み込みをテストする
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shutter.yaml")
	content := `
camera:
  device: /dev/video6
  fps: 60
calibration:
  dir: params
  camera: top
  undistort: true
  new_camera_matrix: optimal
output:
  dir: out
  photo_ext: png
server:
  enabled: true
  port: 9000
  command_timeout: 2s
timelapse:
  enabled: true
  schedule: "*/10 * * * *"
  retention_days: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/video6", cfg.Camera.Device)
	assert.Equal(t, 60, cfg.Camera.FPS)
	assert.Equal(t, 640, cfg.Camera.Width, "未指定の値は既定値")
	assert.Equal(t, "params", cfg.Calibration.Dir)
	assert.Equal(t, "top", cfg.Calibration.Camera)
	assert.True(t, cfg.Calibration.Undistort)
	assert.Equal(t, "optimal", cfg.Calibration.NewCameraMatrix)
	assert.Equal(t, "out", cfg.Output.Dir)
	assert.Equal(t, "png", cfg.Output.PhotoExt)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Server.CommandTimeout)
	assert.True(t, cfg.Timelapse.Enabled)
	assert.Equal(t, "*/10 * * * *", cfg.Timelapse.Schedule)
	assert.Equal(t, 7, cfg.Timelapse.RetentionDays)
}

// TestLoadMissingFile は明示したファイルがない場合をテストする
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestLoadInvalidFile は検証に失敗する設定ファイルをテストする
func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shutter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("camera:\n  fps: 500\n"), 0o644))

	_, err := Load(New(), path)
	assert.ErrorContains(t, err, "無効なFPS値")
}

// TestEnvironmentVariables は環境変数の処理をテストする
// 注意: このテストは環境変数を変更するため、parallelは使わない
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("SHUTTER_CAMERA_DEVICE", "/dev/video2")
	t.Setenv("SHUTTER_CAMERA_WIDTH", "1280")
	t.Setenv("SHUTTER_OUTPUT_DIR", "captures")

	path := filepath.Join(t.TempDir(), "shutter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("camera:\n  device: /dev/video1\n"), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/video2", cfg.Camera.Device, "環境変数はファイルより優先")
	assert.Equal(t, 1280, cfg.Camera.Width)
	assert.Equal(t, "captures", cfg.Output.Dir)
}

// TestCameraSettings はデバイス設定への変換をテストする
func TestCameraSettings(t *testing.T) {
	cfg := defaultConfig(t)
	settings := cfg.CameraSettings()

	assert.Equal(t, cfg.Camera.Device, settings.Device)
	assert.Equal(t, cfg.Camera.Width, settings.Width)
	assert.Equal(t, cfg.Camera.Height, settings.Height)
	assert.Equal(t, cfg.Camera.FPS, settings.FPS)
	assert.Equal(t, cfg.Camera.PixelFormat, settings.PixelFormat)
}
