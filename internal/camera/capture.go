package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// JPEGScanner はMJPEGバイトストリームをJPEGフレーム単位に分割する
type JPEGScanner struct {
	r   *bufio.Reader
	buf bytes.Buffer
}

// NewJPEGScanner は新しいJPEGScannerを作成する
func NewJPEGScanner(r io.Reader) *JPEGScanner {
	return &JPEGScanner{r: bufio.NewReaderSize(r, 1024*1024)}
}

// Next は次の完全なJPEGフレーム（FF D8 から FF D9 まで）を返す
// フレーム開始前の終端は io.EOF、フレーム途中の終端は io.ErrUnexpectedEOF
func (s *JPEGScanner) Next() ([]byte, error) {
	// JPEGの開始マーカー（FF D8）を探す
	var prev byte
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == 0xFF && b == 0xD8 {
			break
		}
		prev = b
	}

	s.buf.Reset()
	s.buf.Write([]byte{0xFF, 0xD8})

	// JPEGの終了マーカー（FF D9）まで読む
	prev = 0
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		s.buf.WriteByte(b)
		if prev == 0xFF && b == 0xD9 {
			break
		}
		prev = b
	}

	frame := make([]byte, s.buf.Len())
	copy(frame, s.buf.Bytes())
	return frame, nil
}

// ffmpegInputFormats はFOURCCをffmpegの -input_format 名に変換する
var ffmpegInputFormats = map[string]string{
	"MJPG": "mjpeg",
	"YUYV": "yuyv422",
	"H264": "h264",
}

// FFmpegArgs はデバイスからMJPEGをパイプ出力するffmpeg引数を組み立てる
func FFmpegArgs(settings Settings) []string {
	size := fmt.Sprintf("%dx%d", settings.Width, settings.Height)
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	if strings.HasPrefix(settings.Device, "/dev/") {
		args = append(args, "-f", "v4l2")
		if format, ok := ffmpegInputFormats[strings.ToUpper(settings.PixelFormat)]; ok {
			args = append(args, "-input_format", format)
		}
		args = append(args,
			"-video_size", size,
			"-framerate", strconv.Itoa(settings.FPS),
		)
	}

	args = append(args,
		"-i", settings.Device,
		"-s", size,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
	return args
}

// FFmpegDevice はffmpegプロセス経由でV4L2デバイスや動画ファイルを読む Device 実装
type FFmpegDevice struct {
	settings Settings
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	scanner  *JPEGScanner
	stderr   *limitedBuffer

	pending []byte // Open 時に読んだ最初のフレーム
	ended   bool
	closed  bool
}

// OpenFFmpeg はffmpegを起動し、最初のフレームが届くことを確認してから返す
func OpenFFmpeg(ctx context.Context, settings Settings) (Device, error) {
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, "ffmpeg", FFmpegArgs(settings)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "stdoutパイプの作成に失敗")
	}
	stderr := &limitedBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrap(err, "ffmpegの起動に失敗")
	}

	d := &FFmpegDevice{
		settings: settings,
		cmd:      cmd,
		cancel:   cancel,
		scanner:  NewJPEGScanner(stdout),
		stderr:   stderr,
	}

	// テストキャプチャ: 最初のフレームが取れなければデバイスは使えない
	first, err := d.scanner.Next()
	if err != nil {
		_ = d.Close()
		return nil, errors.Errorf("%s から最初のフレームを取得できません: %v (stderr: %s)",
			settings.Device, err, strings.TrimSpace(stderr.String()))
	}
	d.pending = first

	return d, nil
}

// Read は次のフレームをデコードして返す
func (d *FFmpegDevice) Read() (image.Image, error) {
	if d.closed || d.ended {
		return nil, ErrEndOfStream
	}

	data := d.pending
	d.pending = nil
	if data == nil {
		var err error
		data, err = d.scanner.Next()
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				d.ended = true
				return nil, ErrEndOfStream
			}
			return nil, errors.Wrap(err, "フレーム読み取りエラー")
		}
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "JPEG画像のデコードに失敗")
	}
	return img, nil
}

// Close はffmpegプロセスを停止する
func (d *FFmpegDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	d.cancel()
	_ = d.cmd.Wait() // エラーは無視（キャンセル時に発生するため）
	return nil
}

// limitedBuffer は先頭 limit バイトだけ保持する io.Writer
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
