package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"shutter/internal/controller"
	"shutter/internal/opencv"
	"shutter/internal/server"
	"shutter/internal/session"
	"shutter/internal/timelapse"
)

func newRunCommand() *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "カメラを開いて撮影・録画を行う",
		Long: `カメラの映像をウィンドウに表示し、キー操作で撮影と録画を行います。

  e: 写真を撮影
  r: 録画の開始/停止
  q, ESC: 終了

--serve を指定するとHTTPからも同じ操作ができます。`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd.Context(), headless)
		},
	}

	flags := cmd.Flags()
	flags.StringP("device", "d", "/dev/video0", "カメラデバイスまたは動画ファイル")
	flags.Int("width", 640, "画像幅")
	flags.Int("height", 480, "画像高さ")
	flags.Int("fps", 30, "フレームレート")
	flags.String("backend", "opencv", "取得バックエンド (opencv, ffmpeg)")
	flags.Bool("undistort", false, "歪み補正した映像を保存する")
	flags.String("camera", "", "キャリブレーションのカメラ名 (top, head)")
	flags.StringP("output", "o", "cap", "写真と動画の保存先")
	flags.Bool("serve", false, "HTTP制御サーバーを起動する")
	flags.Int("port", 8080, "HTTP制御サーバーのポート")
	flags.Bool("timelapse", false, "定期撮影を有効にする")
	flags.BoolVar(&headless, "headless", false, "プレビューウィンドウを表示しない")

	bindFlags(cmd, map[string]string{
		"device":    "camera.device",
		"width":     "camera.width",
		"height":    "camera.height",
		"fps":       "camera.fps",
		"backend":   "camera.backend",
		"undistort": "calibration.undistort",
		"camera":    "calibration.camera",
		"output":    "output.dir",
		"serve":     "server.enabled",
		"port":      "server.port",
		"timelapse": "timelapse.enabled",
	})
	return cmd
}

// runSession はセッションを組み立ててループを実行する
// ウィンドウ操作のためループはこのゴルーチンで回し、サーバーとタイムラプスは別ゴルーチンで動かす
func runSession(parent context.Context, headless bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := sessionDeps(cfg)
	if err != nil {
		return err
	}
	sess, err := session.New(sessionConfig(cfg), deps, session.WithLogger(log))
	if err != nil {
		if u, ok := deps.Undistorter.(*opencv.Undistorter); ok {
			_ = u.Close()
		}
		return err
	}

	opts := []controller.Option{
		controller.WithLogger(log),
		controller.WithPollInterval(cfg.Preview.PollMS),
	}
	if cfg.Preview.Enabled && !headless {
		window := opencv.NewWindow(cfg.Preview.Title)
		defer window.Close()
		opts = append(opts, controller.WithDisplay(window))
	}
	ctrl := controller.New(sess, opts...)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var tl *timelapse.Capture
	if cfg.Timelapse.Enabled {
		tl, err = timelapse.NewCapture(cfg.Timelapse, ctrl, cfg.Output.Dir, log)
		if err == nil {
			err = tl.Start(loopCtx)
		}
		if err != nil {
			_ = sess.Close()
			return err
		}
		defer tl.Stop()
	}

	var background func(context.Context) error
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, ctrl, log)
		if tl != nil {
			srv.SetTimelapse(tl)
		}
		background = srv.Start
		color.New(color.FgCyan).Printf("HTTP制御サーバー: http://%s\n", cfg.ServerAddress())
	}

	printBanner()
	err = runAlongside(loopCtx, ctrl.Run, background)

	status := ctrl.Status()
	log.WithFields(logrus.Fields{
		"frames_read":     status.FramesRead,
		"frames_recorded": status.FramesRecorded,
	}).Info("セッションを終了しました")
	return err
}

// runAlongside は background を別ゴルーチンで動かしながら run を実行する
// background が失敗すると run をキャンセルし、run がエラーなく終わればそのエラーを返す
func runAlongside(ctx context.Context, run, background func(context.Context) error) error {
	if background == nil {
		return run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		bgErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := background(ctx); err != nil {
			log.WithError(err).Error("HTTPサーバーが停止しました")
			bgErr = err
			cancel()
		}
	}()

	err := run(ctx)
	cancel()
	wg.Wait()

	if err == nil {
		err = bgErr
	}
	return err
}

func printBanner() {
	fmt.Printf("デバイス %s を %dx%d %dfps で開きます\n",
		color.CyanString(cfg.Camera.Device), cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	if cfg.Calibration.Undistort {
		fmt.Printf("歪み補正: %s (%s)\n", color.GreenString(cfg.Calibration.Camera), cfg.Calibration.NewCameraMatrix)
	}
	fmt.Printf("操作: %s 撮影 / %s 録画 / %s 終了\n",
		color.YellowString("e"), color.YellowString("r"), color.YellowString("q"))
}
