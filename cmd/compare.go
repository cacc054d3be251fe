package cmd

import (
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"shutter/internal/calibration"
	"shutter/internal/controller"
	"shutter/internal/opencv"
)

func newCompareCommand() *cobra.Command {
	var (
		param         string
		showUndistort bool
		matrixMode    string
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "補正前と補正後の映像を並べて表示する",
		Long: `キャリブレーションファイルを読み込んでカメラ映像を表示します。
--show-undistort を指定すると左に元の映像、右に歪み補正した映像を並べます。
ESC で終了します。`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := calibration.LoadIntrinsicsFile(param)
			if err != nil {
				return err
			}

			settings := cfg.CameraSettings()
			// 解像度は明示されなければキャリブレーションファイルに合わせる
			if !changed(cmd.Flags(), "width") && in.ImageWidth > 0 {
				settings.Width = in.ImageWidth
			}
			if !changed(cmd.Flags(), "height") && in.ImageHeight > 0 {
				settings.Height = in.ImageHeight
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			device, err := deviceOpener(cfg.Camera.Backend)(ctx, settings)
			if err != nil {
				return fmt.Errorf("カメラを開けませんでした %s: %w", settings.Device, err)
			}
			fmt.Printf("カメラ %s を開きました。解像度: %dx%d, FPS: %d\n",
				color.CyanString(settings.Device), settings.Width, settings.Height, settings.FPS)

			window := opencv.NewWindow(cfg.Preview.Title)
			defer window.Close()

			if !showUndistort {
				return controller.Compare(ctx, device, window, nil)
			}

			mode, err := calibration.ParseNewCameraMatrixMode(matrixMode)
			if err != nil {
				_ = device.Close()
				return err
			}
			undistorter, err := opencv.NewUndistorter(in, mode, image.Pt(settings.Width, settings.Height))
			if err != nil {
				_ = device.Close()
				return err
			}
			defer undistorter.Close()

			return controller.Compare(ctx, device, window, undistorter)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&param, "param", "camera_info_640/top.yaml", "キャリブレーションファイルのパス")
	flags.BoolVar(&showUndistort, "show-undistort", false, "歪み補正した映像を並べて表示する")
	flags.StringVar(&matrixMode, "new-camera-matrix", string(calibration.NewCameraMatrixOptimal), "補正後のカメラ行列 (projection, intrinsic, optimal)")
	flags.StringP("device", "d", "/dev/video0", "カメラデバイス")
	flags.Int("width", 640, "画像幅 (省略時はキャリブレーションファイルの値)")
	flags.Int("height", 480, "画像高さ (省略時はキャリブレーションファイルの値)")
	flags.Int("fps", 30, "フレームレート")

	bindFlags(cmd, map[string]string{
		"device": "camera.device",
		"width":  "camera.width",
		"height": "camera.height",
		"fps":    "camera.fps",
	})
	return cmd
}
