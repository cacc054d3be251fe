package opencv

import (
	"context"
	"image"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"shutter/internal/camera"
)

// Device は gocv.VideoCapture を使う camera.Device 実装
type Device struct {
	capture *gocv.VideoCapture
	frame   gocv.Mat
	ended   bool
	closed  bool
}

// captureSource は "0" のような番号をデバイスIDに、それ以外をパスとして扱う
func captureSource(device string) any {
	if id, err := strconv.Atoi(device); err == nil {
		return id
	}
	return device
}

// OpenDevice は設定に従ってデバイスを開く。camera.Opener として使える
func OpenDevice(_ context.Context, settings camera.Settings) (camera.Device, error) {
	if err := camera.ValidateSettings(settings); err != nil {
		return nil, err
	}

	capture, err := gocv.OpenVideoCapture(captureSource(settings.Device))
	if err != nil {
		return nil, errors.Wrapf(err, "%s を開けません", settings.Device)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, errors.Errorf("%s を開けません", settings.Device)
	}

	// 動画ファイルではデバイス設定は無視される
	capture.Set(gocv.VideoCaptureFrameWidth, float64(settings.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(settings.Height))
	if settings.PixelFormat != "" {
		capture.Set(gocv.VideoCaptureFOURCC, float64(capture.ToCodec(strings.ToUpper(settings.PixelFormat))))
	}
	capture.Set(gocv.VideoCaptureFPS, float64(settings.FPS))

	return &Device{
		capture: capture,
		frame:   gocv.NewMat(),
	}, nil
}

// Read は次のフレームを返す。読み取り失敗か空のフレームで終端とみなす
func (d *Device) Read() (image.Image, error) {
	if d.closed || d.ended {
		return nil, camera.ErrEndOfStream
	}

	if ok := d.capture.Read(&d.frame); !ok || d.frame.Empty() {
		d.ended = true
		return nil, camera.ErrEndOfStream
	}

	img, err := d.frame.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "フレームの変換に失敗")
	}
	return img, nil
}

// Close はデバイスを解放する
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	_ = d.frame.Close()
	return d.capture.Close()
}
