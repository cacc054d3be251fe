package controller

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"shutter/internal/camera"
	"shutter/internal/media"
	"shutter/internal/session"
)

// DefaultPlayDelay は再生時のフレーム間の待ち時間（ミリ秒）
const DefaultPlayDelay = 25

// Play は device のフレームを順に表示する。終端か q / ESC で終わる
// device は終了時に閉じる
func Play(ctx context.Context, device camera.Device, display Display, delay int) error {
	if delay <= 0 {
		delay = DefaultPlayDelay
	}

	return showLoop(ctx, device, display, delay, func(frame image.Image) (image.Image, error) {
		return frame, nil
	})
}

// Compare は補正前後のフレームを横に並べて表示する。終端か q / ESC で終わる
// undistorter が nil なら補正前のフレームだけを表示する。device は終了時に閉じる
func Compare(ctx context.Context, device camera.Device, display Display, undistorter session.Undistorter) error {
	return showLoop(ctx, device, display, 1, func(frame image.Image) (image.Image, error) {
		if undistorter == nil {
			return frame, nil
		}
		undistorted, err := undistorter.Undistort(frame)
		if err != nil {
			return nil, errors.Wrap(err, "歪み補正に失敗")
		}
		return media.SideBySide(frame, undistorted), nil
	})
}

func showLoop(ctx context.Context, device camera.Device, display Display, delay int, render func(image.Image) (image.Image, error)) error {
	defer device.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := device.Read()
		if errors.Is(err, camera.ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "フレームの取得に失敗")
		}

		out, err := render(frame)
		if err != nil {
			return err
		}
		if err := display.Show(out); err != nil {
			return errors.Wrap(err, "フレームの表示に失敗")
		}

		if isQuitKey(display.WaitKey(delay)) {
			return nil
		}
	}
}

func isQuitKey(key int) bool {
	if key < 0 {
		return false
	}
	key &= 0xFF
	return key == 'q' || key == KeyEsc
}
