package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"shutter/internal/camera"
)

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "接続されているカメラデバイスを一覧表示する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listDevices(cmd, camera.NewLinuxDiscovery(), os.Stdout)
		},
	}
}

// listDevices は discovery で見つかったデバイスを w に書き出す
func listDevices(cmd *cobra.Command, discovery camera.Discovery, w io.Writer) error {
	ctx := cmd.Context()

	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		color.New(color.Faint).Fprintln(w, "カメラデバイスが見つかりませんでした")
		return nil
	}

	for _, device := range devices {
		info, err := discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			fmt.Fprintf(w, "%s  %s\n", color.CyanString(device), color.RedString(err.Error()))
			continue
		}

		name := info.Name
		if name == "" {
			name = "(不明)"
		}
		fmt.Fprintf(w, "%s  %s\n", color.CyanString(device), name)
		if info.Driver != "" {
			fmt.Fprintf(w, "    ドライバー:   %s\n", info.Driver)
		}
		if len(info.Formats) > 0 {
			fmt.Fprintf(w, "    フォーマット: %s\n", color.GreenString(strings.Join(info.Formats, ", ")))
		}
	}
	return nil
}
