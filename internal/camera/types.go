package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// ErrEndOfStream はデバイスがこれ以上フレームを供給できないことを表す
var ErrEndOfStream = errors.New("ストリームが終了しました")

// DefaultPixelFormat はデバイスに要求する既定のFOURCC
const DefaultPixelFormat = "MJPG"

// Settings はデバイスに要求する取得設定
type Settings struct {
	Device      string // デバイスパス（例: /dev/video0）または動画ファイル
	Width       int    // 画像幅
	Height      int    // 画像高さ
	FPS         int    // フレームレート
	PixelFormat string // FOURCC（例: MJPG）
}

// Device は開かれたフレーム供給元
// 同時に複数のゴルーチンから呼んではならない
type Device interface {
	// Read は次のフレームが届くまでブロックする。終端では ErrEndOfStream を返す
	Read() (image.Image, error)
	// Close はデバイスを解放する
	Close() error
}

// Opener は設定に従ってデバイスを開く
type Opener func(ctx context.Context, settings Settings) (Device, error)

// ValidateSettings は設定値の妥当性を検証する
func ValidateSettings(settings Settings) error {
	if settings.Device == "" {
		return fmt.Errorf("デバイスが指定されていません")
	}

	if settings.FPS <= 0 || settings.FPS > 120 {
		return fmt.Errorf("無効なFPS値: %d", settings.FPS)
	}

	if settings.Width <= 0 || settings.Width > 4096 {
		return fmt.Errorf("無効な幅: %d", settings.Width)
	}

	if settings.Height <= 0 || settings.Height > 4096 {
		return fmt.Errorf("無効な高さ: %d", settings.Height)
	}

	if settings.PixelFormat != "" && len(settings.PixelFormat) != 4 {
		return fmt.Errorf("無効なピクセルフォーマット: %q", settings.PixelFormat)
	}

	return nil
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device  string   // デバイスパス
	Name    string   // デバイス名
	Driver  string   // ドライバー名
	Formats []string // サポートされるフォーマット
}
