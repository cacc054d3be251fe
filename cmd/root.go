// Package cmd はshutterのコマンドライン実装です
package cmd

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"shutter/internal/config"
)

var (
	// v はすべてのサブコマンドが共有する設定
	v = config.New()

	cfg     *config.Config
	log     = logrus.New()
	cfgFile string
	verbose bool

	// flagKeys はコマンドごとのフラグ名と設定キーの対応
	// 実行されるコマンドのフラグだけを viper に結び付ける
	flagKeys = map[*cobra.Command]map[string]string{}

	rootCmd = &cobra.Command{
		Use:   "shutter",
		Short: "キャリブレーション済みカメラの撮影ツール",
		Long: `shutter はカメラの映像を表示しながら写真の撮影と動画の録画を行うツールです。
キャリブレーションファイルがあれば歪み補正した映像を保存できます。`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

// Execute はルートコマンドを実行する
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "設定ファイルのパス (デフォルト: ./shutter.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "詳細なログを出力する")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newCompareCommand())
	rootCmd.AddCommand(newPlayCommand())
	rootCmd.AddCommand(newCalibCommand())
	rootCmd.AddCommand(newDevicesCommand())
}

// bindFlags は cmd のフラグを設定キーとして登録する
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	flagKeys[cmd] = keys
}

// setup はフラグを設定に反映し、設定とロガーを準備する
func setup(cmd *cobra.Command, _ []string) error {
	for name, key := range flagKeys[cmd] {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}

	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
		log.Warnf("不明なログレベル %q のため info を使います", cfg.Log.Level)
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	return nil
}

// changed は name のフラグが明示的に指定されたかを返す
func changed(flags *pflag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	return f != nil && f.Changed
}
