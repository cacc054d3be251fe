package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"shutter/internal/calibration"
)

func newCalibCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calib",
		Short: "キャリブレーションパラメータを確認する",
	}
	cmd.PersistentFlags().String("dir", "camera_info_640", "キャリブレーションファイルのディレクトリ")
	cmd.PersistentFlags().String("output", "text", "出力形式 (text, yaml)")

	show := &cobra.Command{
		Use:   "show [camera...]",
		Short: "内部パラメータを表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := calibration.NewLoader(cfg.Calibration.Dir, cfg.Calibration.Cameras)
			format, _ := cmd.Flags().GetString("output")

			if all, _ := cmd.Flags().GetBool("all"); all {
				if len(args) > 0 {
					return fmt.Errorf("--all とカメラ名は同時に指定できません")
				}
				params, err := loader.LoadAll()
				if err != nil {
					return err
				}
				return printParams(os.Stdout, params, format)
			}

			if len(args) == 0 {
				args = loader.Cameras()
			}

			for _, id := range args {
				in, err := loader.LoadIntrinsics(id)
				if err != nil {
					return err
				}
				if err := printIntrinsics(os.Stdout, id, in, format); err != nil {
					return err
				}
			}
			return nil
		},
	}
	show.Flags().Bool("all", false, "登録済みの全カメラと top→head の外部パラメータをまとめて表示する")
	bindFlags(show, map[string]string{"dir": "calibration.dir"})

	extrinsics := &cobra.Command{
		Use:   "extrinsics",
		Short: "カメラ間の外部パラメータを表示する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			format, _ := cmd.Flags().GetString("output")

			loader := calibration.NewLoader(cfg.Calibration.Dir, cfg.Calibration.Cameras)
			ext, err := loader.LoadExtrinsics(from, to)
			if err != nil {
				return err
			}
			return printExtrinsics(os.Stdout, ext, format)
		},
	}
	extrinsics.Flags().String("from", "top", "基準カメラ")
	extrinsics.Flags().String("to", "head", "対象カメラ")
	bindFlags(extrinsics, map[string]string{"dir": "calibration.dir"})

	cmd.AddCommand(show, extrinsics)
	return cmd
}

type intrinsicsView struct {
	Camera           string       `yaml:"camera"`
	ImageWidth       int          `yaml:"image_width,omitempty"`
	ImageHeight      int          `yaml:"image_height,omitempty"`
	DistortionModel  string       `yaml:"distortion_model,omitempty"`
	CameraMatrix     [][3]float64 `yaml:"camera_matrix,flow"`
	DistortionCoeffs []float64    `yaml:"distortion_coefficients,flow"`
	Projection       [][3]float64 `yaml:"projection,flow"`
}

type paramsView struct {
	Cameras    []intrinsicsView `yaml:"cameras"`
	Extrinsics *extrinsicsView  `yaml:"extrinsics,omitempty"`
}

type extrinsicsView struct {
	From        string       `yaml:"from"`
	To          string       `yaml:"to"`
	Translation []float64    `yaml:"translation,flow"`
	Quaternion  []float64    `yaml:"quaternion,flow"`
	Rotation    [][3]float64 `yaml:"rotation,flow"`
}

func rows(m calibration.Matrix3) [][3]float64 {
	return [][3]float64{m[0], m[1], m[2]}
}

func newIntrinsicsView(id string, in *calibration.Intrinsics) intrinsicsView {
	return intrinsicsView{
		Camera:           id,
		ImageWidth:       in.ImageWidth,
		ImageHeight:      in.ImageHeight,
		DistortionModel:  in.DistortionModel,
		CameraMatrix:     rows(in.CameraMatrix),
		DistortionCoeffs: in.DistortionCoeffs,
		Projection:       rows(in.Projection),
	}
}

func newExtrinsicsView(ext *calibration.Extrinsics) extrinsicsView {
	return extrinsicsView{
		From:        ext.From,
		To:          ext.To,
		Translation: ext.Translation[:],
		Quaternion:  ext.Quaternion[:],
		Rotation:    rows(ext.Rotation()),
	}
}

// printParams は LoadAll の結果をまとめて書き出す
// YAMLでは1つのドキュメントにする
func printParams(w io.Writer, params *calibration.Params, format string) error {
	ids := make([]string, 0, len(params.Intrinsics))
	for id := range params.Intrinsics {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	switch format {
	case "yaml":
		view := paramsView{Cameras: make([]intrinsicsView, 0, len(ids))}
		for _, id := range ids {
			view.Cameras = append(view.Cameras, newIntrinsicsView(id, params.Intrinsics[id]))
		}
		if params.Extrinsics != nil {
			ext := newExtrinsicsView(params.Extrinsics)
			view.Extrinsics = &ext
		}
		return writeYAML(w, view)
	case "text":
	default:
		return fmt.Errorf("不明な出力形式: %q", format)
	}

	for _, id := range ids {
		if err := printIntrinsics(w, id, params.Intrinsics[id], format); err != nil {
			return err
		}
	}
	if params.Extrinsics == nil {
		color.New(color.Faint).Fprintln(w, "外部パラメータ: top と head の両方が登録されていません")
		return nil
	}
	return printExtrinsics(w, params.Extrinsics, format)
}

// printIntrinsics は内部パラメータを format で書き出す
func printIntrinsics(w io.Writer, id string, in *calibration.Intrinsics, format string) error {
	switch format {
	case "yaml":
		return writeYAML(w, newIntrinsicsView(id, in))
	case "text":
	default:
		return fmt.Errorf("不明な出力形式: %q", format)
	}

	title := color.New(color.FgCyan, color.Bold)
	title.Fprintf(w, "[%s]", id)
	if in.CameraName != "" && in.CameraName != id {
		fmt.Fprintf(w, " %s", in.CameraName)
	}
	fmt.Fprintln(w)

	if in.ImageWidth > 0 {
		fmt.Fprintf(w, "  解像度:     %dx%d\n", in.ImageWidth, in.ImageHeight)
	}
	if in.DistortionModel != "" {
		fmt.Fprintf(w, "  歪みモデル: %s\n", in.DistortionModel)
	}
	printMatrix(w, "K", in.CameraMatrix)
	fmt.Fprintf(w, "  %s %s\n", color.YellowString("D:"), formatFloats(in.DistortionCoeffs))
	printMatrix(w, "P", in.Projection)
	fmt.Fprintln(w)
	return nil
}

// printExtrinsics は外部パラメータを format で書き出す
func printExtrinsics(w io.Writer, ext *calibration.Extrinsics, format string) error {
	switch format {
	case "yaml":
		return writeYAML(w, newExtrinsicsView(ext))
	case "text":
	default:
		return fmt.Errorf("不明な出力形式: %q", format)
	}

	color.New(color.FgCyan, color.Bold).Fprintf(w, "[%s → %s]\n", ext.From, ext.To)
	fmt.Fprintf(w, "  %s %s\n", color.YellowString("t:"), formatFloats(ext.Translation[:]))
	fmt.Fprintf(w, "  %s %s\n", color.YellowString("q:"), formatFloats(ext.Quaternion[:]))
	printMatrix(w, "R", ext.Rotation())
	return nil
}

func printMatrix(w io.Writer, name string, m calibration.Matrix3) {
	for r := 0; r < 3; r++ {
		label := "  "
		if r == 0 {
			label = name + ":"
		}
		fmt.Fprintf(w, "  %s %s\n", color.YellowString("%-2s", label), formatFloats(m[r][:]))
	}
}

func formatFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%12.6f", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("YAMLの出力に失敗: %w", err)
	}
	return enc.Close()
}
