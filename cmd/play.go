package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shutter/internal/controller"
	"shutter/internal/opencv"
)

func newPlayCommand() *cobra.Command {
	var delay int

	cmd := &cobra.Command{
		Use:   "play <file>",
		Short: "録画した動画を再生する",
		Long:  "録画した動画ファイルを再生します。q で終了します。",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("動画ファイルを開けません: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			settings := cfg.CameraSettings()
			settings.Device = path
			device, err := opencv.OpenDevice(ctx, settings)
			if err != nil {
				return fmt.Errorf("動画ファイルを開けません %s: %w", path, err)
			}

			window := opencv.NewWindow(path)
			defer window.Close()

			return controller.Play(ctx, device, window, delay)
		},
	}

	cmd.Flags().IntVar(&delay, "delay", controller.DefaultPlayDelay, "フレーム間の待ち時間（ミリ秒）")
	return cmd
}
