package session

import (
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"shutter/internal/camera"
	"shutter/internal/media"
)

// recorder は呼び出し順を記録する
type recorder struct {
	events []string
}

func (r *recorder) add(event string) { r.events = append(r.events, event) }

// fakeDevice は決まった枚数のフレームを返した後に終端する Device
type fakeDevice struct {
	rec      *recorder
	width    int
	height   int
	remain   int
	next     uint8
	reads    int
	closed   int
	readErr  error
	closeErr error
}

func (d *fakeDevice) Read() (image.Image, error) {
	d.reads++
	if d.readErr != nil {
		return nil, d.readErr
	}
	if d.remain <= 0 {
		return nil, camera.ErrEndOfStream
	}
	d.remain--
	d.next++
	return taggedFrame(d.width, d.height, d.next), nil
}

func (d *fakeDevice) Close() error {
	d.closed++
	d.rec.add("device.close")
	return d.closeErr
}

// taggedFrame は左上の画素に番号を埋め込んだフレームを作る
func taggedFrame(w, h int, tag uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.SetRGBA(0, 0, color.RGBA{R: tag, A: 255})
	return img
}

func frameTag(img image.Image) uint8 {
	r, _, _, _ := img.At(0, 0).RGBA()
	return uint8(r >> 8)
}

// fakeWriter は書き込まれたフレームを保持する VideoWriter
type fakeWriter struct {
	rec    *recorder
	path   string
	fps    int
	width  int
	height int
	frames []image.Image
	closed int

	writeErr error
	closeErr error
}

func (w *fakeWriter) Write(frame image.Image) error {
	if w.closed > 0 {
		return errors.New("closed writer")
	}
	if w.writeErr != nil {
		return w.writeErr
	}
	w.frames = append(w.frames, frame)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed++
	w.rec.add("writer.close")
	return w.closeErr
}

func (w *fakeWriter) Path() string { return w.path }
func (w *fakeWriter) Frames() int  { return len(w.frames) }

// fakeMedia は作成した writer をすべて記録する
type fakeMedia struct {
	rec     *recorder
	writers []*fakeWriter
	failN   int // 残りの失敗回数
	// createFiles が true なら実際の writer と同じく開いた時点でファイルを作る
	createFiles bool
}

func (m *fakeMedia) factory() media.VideoWriterFactory {
	return func(path string, fps, width, height int) (media.VideoWriter, error) {
		if m.failN > 0 {
			m.failN--
			return nil, errors.New("encoder not available")
		}
		if m.createFiles {
			if err := os.WriteFile(path, []byte("clip"), 0o644); err != nil {
				return nil, err
			}
		}
		w := &fakeWriter{rec: m.rec, path: path, fps: fps, width: width, height: height}
		m.writers = append(m.writers, w)
		m.rec.add("writer.open")
		return w, nil
	}
}

func (m *fakeMedia) openWriters() int {
	n := 0
	for _, w := range m.writers {
		if w.closed == 0 {
			n++
		}
	}
	return n
}

// fakeUndistorter はフレームの番号を 100 ずらして返す
type fakeUndistorter struct {
	calls  int
	closed int
}

func (u *fakeUndistorter) Undistort(frame image.Image) (image.Image, error) {
	u.calls++
	b := frame.Bounds()
	return taggedFrame(b.Dx(), b.Dy(), frameTag(frame)+100), nil
}

func (u *fakeUndistorter) Close() error {
	u.closed++
	return nil
}

var _ io.Closer = (*fakeUndistorter)(nil)

// fixture はテスト用セッション一式
type fixture struct {
	rec    *recorder
	device *fakeDevice
	media  *fakeMedia
	opens  int
	sess   *Session
}

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 14, 15, 9, 26, 0, time.Local)
	return func() time.Time { return t }
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(dir string) Config {
	return Config{
		Device:    "/dev/video0",
		Width:     640,
		Height:    480,
		FPS:       30,
		OutputDir: dir,
	}
}

func newFixture(cfg Config, frames int, deps Deps, opts ...Option) (*fixture, error) {
	rec := &recorder{}
	f := &fixture{
		rec:    rec,
		device: &fakeDevice{rec: rec, width: cfg.Width, height: cfg.Height, remain: frames},
		media:  &fakeMedia{rec: rec},
	}
	deps.Opener = func(_ context.Context, settings camera.Settings) (camera.Device, error) {
		f.opens++
		return f.device, nil
	}
	deps.Writers = f.media.factory()

	opts = append([]Option{WithClock(fixedClock()), WithLogger(quietLogger())}, opts...)
	sess, err := New(cfg, deps, opts...)
	if err != nil {
		return nil, err
	}
	f.sess = sess
	return f, nil
}
