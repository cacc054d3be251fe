package cmd

import (
	"fmt"
	"image"

	"shutter/internal/calibration"
	"shutter/internal/camera"
	"shutter/internal/config"
	"shutter/internal/media"
	"shutter/internal/opencv"
	"shutter/internal/session"
)

// deviceOpener はバックエンドに応じたデバイスのOpenerを返す
func deviceOpener(backend string) camera.Opener {
	if backend == config.BackendFFmpeg {
		return camera.OpenFFmpeg
	}
	return opencv.OpenDevice
}

// sessionDeps は設定からセッションの依存を組み立てる
func sessionDeps(c *config.Config) (session.Deps, error) {
	deps := session.Deps{Opener: deviceOpener(c.Camera.Backend)}

	switch c.Camera.Backend {
	case config.BackendFFmpeg:
		deps.Writers = media.NewFFmpegWriterFactory(c.Output.Quality)
		deps.Photos = media.ImageFileWriter{}
	default:
		deps.Writers = opencv.NewVideoWriterFactory(c.Output.Codec)
		deps.Photos = opencv.PhotoWriter{}
	}

	if c.Calibration.Undistort {
		u, err := loadUndistorter(c.Calibration, image.Pt(c.Camera.Width, c.Camera.Height))
		if err != nil {
			return session.Deps{}, err
		}
		deps.Undistorter = u
	}
	return deps, nil
}

// loadUndistorter は設定されたカメラのキャリブレーションから補正器を作る
func loadUndistorter(c config.CalibrationConfig, size image.Point) (*opencv.Undistorter, error) {
	mode, err := calibration.ParseNewCameraMatrixMode(c.NewCameraMatrix)
	if err != nil {
		return nil, err
	}
	in, err := calibration.NewLoader(c.Dir, c.Cameras).LoadIntrinsics(c.Camera)
	if err != nil {
		return nil, err
	}
	if in.ImageWidth > 0 && (in.ImageWidth != size.X || in.ImageHeight != size.Y) {
		log.Warnf("キャリブレーション解像度 %dx%d と取得解像度 %dx%d が異なります",
			in.ImageWidth, in.ImageHeight, size.X, size.Y)
	}

	u, err := opencv.NewUndistorter(in, mode, size)
	if err != nil {
		return nil, fmt.Errorf("補正器の作成に失敗: %w", err)
	}
	return u, nil
}

// sessionConfig は設定からセッション設定を組み立てる
func sessionConfig(c *config.Config) session.Config {
	return session.Config{
		Device:      c.Camera.Device,
		Width:       c.Camera.Width,
		Height:      c.Camera.Height,
		FPS:         c.Camera.FPS,
		PixelFormat: c.Camera.PixelFormat,
		Undistort:   c.Calibration.Undistort,
		CameraID:    c.Calibration.Camera,
		OutputDir:   c.Output.Dir,
		PhotoExt:    c.Output.PhotoExt,
		VideoExt:    c.Output.VideoExt,
	}
}
