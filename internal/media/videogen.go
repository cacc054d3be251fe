package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// FFmpegWriter はJPEGフレームをffmpegの標準入力に流し込んで動画を作る
type FFmpegWriter struct {
	path   string
	width  int
	height int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *stderrBuffer

	frames int
	closed bool
}

// NewFFmpegWriterFactory は品質 quality (1-5) の FFmpegWriter を作る VideoWriterFactory を返す
func NewFFmpegWriterFactory(quality int) VideoWriterFactory {
	return func(path string, fps, width, height int) (VideoWriter, error) {
		return NewFFmpegWriter(path, fps, width, height, quality)
	}
}

// NewFFmpegWriter はffmpegを起動して書き込み可能な状態にする
func NewFFmpegWriter(path string, fps, width, height, quality int) (*FFmpegWriter, error) {
	if fps <= 0 || width <= 0 || height <= 0 {
		return nil, errors.Errorf("無効な動画設定: %dx%d@%d", width, height, fps)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.Wrap(err, "FFmpegが見つかりません。インストールしてください")
	}

	// 書き込めないパスと既存ファイルはffmpeg起動前に弾く
	// ここで作ったファイルだけが後で削除の対象になる
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "動画ファイルを作成できません")
	}
	_ = f.Close()

	w := &FFmpegWriter{path: path, width: width, height: height, stderr: &stderrBuffer{limit: 4096}}
	w.cmd = exec.Command("ffmpeg", EncodeArgs(path, fps, width, height, quality)...)
	w.cmd.Stderr = w.stderr

	w.stdin, err = w.cmd.StdinPipe()
	if err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrap(err, "stdinパイプの作成に失敗")
	}
	if err := w.cmd.Start(); err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrap(err, "ffmpegの起動に失敗")
	}

	return w, nil
}

// EncodeArgs はMJPEGパイプ入力をH.264のMP4に変換するffmpeg引数を返す
func EncodeArgs(path string, fps, width, height, quality int) []string {
	rate := strconv.Itoa(fps)
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "image2pipe",
		"-framerate", rate,
		"-c:v", "mjpeg",
		"-i", "-",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", rate,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", qualityToCRF(quality),
		"-pix_fmt", "yuv420p",
		"-y", // 上書き許可
		path,
	}
}

// Write はフレームをJPEGにしてffmpegへ送る
func (w *FFmpegWriter) Write(frame image.Image) error {
	if w.closed {
		return errors.Errorf("%s は既に閉じられています", w.path)
	}
	if b := frame.Bounds(); b.Dx() != w.width || b.Dy() != w.height {
		return errors.Errorf("フレームサイズ %dx%d が動画サイズ %dx%d と一致しません",
			b.Dx(), b.Dy(), w.width, w.height)
	}

	if err := jpeg.Encode(w.stdin, frame, &jpeg.Options{Quality: 95}); err != nil {
		return errors.Wrapf(err, "ffmpegへの書き込みに失敗 (stderr: %s)", strings.TrimSpace(w.stderr.String()))
	}
	w.frames++
	return nil
}

// Close は入力を閉じてffmpegの終了を待つ
// 1フレームも書いていない場合は空ファイルを残さない
func (w *FFmpegWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.frames == 0 {
		_ = w.cmd.Process.Kill()
		_ = w.cmd.Wait()
		_ = os.Remove(w.path)
		return nil
	}

	if err := w.stdin.Close(); err != nil {
		return errors.Wrap(err, "stdinのクローズに失敗")
	}
	if err := w.cmd.Wait(); err != nil {
		return errors.Wrapf(err, "動画の確定に失敗 (output: %s)", strings.TrimSpace(w.stderr.String()))
	}
	return nil
}

// Path は出力先のパス
func (w *FFmpegWriter) Path() string { return w.path }

// Frames はこれまでに書き込んだフレーム数
func (w *FFmpegWriter) Frames() int { return w.frames }

// qualityToCRF は品質設定をFFmpegのCRF値に変換する
func qualityToCRF(quality int) string {
	// 品質1(低) -> CRF28, 品質5(高) -> CRF18
	crf := 28.0 - float64(quality-1)*2.5
	if crf < 18 {
		crf = 18
	}
	if crf > 28 {
		crf = 28
	}
	return strconv.FormatFloat(crf, 'f', 1, 64)
}

// stderrBuffer はffmpegのstderrを先頭 limit バイトだけ保持する
// exec が別ゴルーチンから書き込むためロックで守る
type stderrBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *stderrBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		b.buf.Write(p)
	}
	return n, nil
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
