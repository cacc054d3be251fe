package session

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shutter/internal/camera"
	"shutter/internal/media"
)

func openFixture(t *testing.T, cfg Config, frames int, deps Deps) *fixture {
	t.Helper()
	f, err := newFixture(cfg, frames, deps)
	require.NoError(t, err)
	require.NoError(t, f.sess.Open(context.Background()))
	return f
}

func readFrames(t *testing.T, s *Session, n int) []image.Image {
	t.Helper()
	frames := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		frame, err := s.NextFrame()
		require.NoError(t, err, "frame %d", i)
		frames = append(frames, frame)
	}
	return frames
}

func TestNew_Validation(t *testing.T) {
	dir := t.TempDir()

	t.Run("有効な設定", func(t *testing.T) {
		f, err := newFixture(testConfig(dir), 0, Deps{})
		require.NoError(t, err)
		assert.Equal(t, StateUninitialized, f.sess.State())
		assert.NotEmpty(t, f.sess.ID())
		assert.Equal(t, "jpg", f.sess.Config().PhotoExt)
		assert.Equal(t, "mp4", f.sess.Config().VideoExt)
		assert.Equal(t, camera.DefaultPixelFormat, f.sess.Config().PixelFormat)
	})

	t.Run("拡張子の先頭ドットは除去", func(t *testing.T) {
		cfg := testConfig(dir)
		cfg.PhotoExt = ".png"
		cfg.VideoExt = ".avi"
		f, err := newFixture(cfg, 0, Deps{})
		require.NoError(t, err)
		assert.Equal(t, "png", f.sess.Config().PhotoExt)
		assert.Equal(t, "avi", f.sess.Config().VideoExt)
	})

	t.Run("無効なFPS", func(t *testing.T) {
		cfg := testConfig(dir)
		cfg.FPS = 0
		_, err := newFixture(cfg, 0, Deps{})
		assert.Error(t, err)
	})

	t.Run("歪み補正にはカメラ名が必要", func(t *testing.T) {
		cfg := testConfig(dir)
		cfg.Undistort = true
		_, err := newFixture(cfg, 0, Deps{Undistorter: &fakeUndistorter{}})
		assert.Error(t, err)
	})

	t.Run("歪み補正にはUndistorterが必要", func(t *testing.T) {
		cfg := testConfig(dir)
		cfg.Undistort = true
		cfg.CameraID = "head"
		_, err := newFixture(cfg, 0, Deps{})
		assert.Error(t, err)
	})

	t.Run("Opener未指定", func(t *testing.T) {
		_, err := New(testConfig(dir), Deps{Writers: (&fakeMedia{rec: &recorder{}}).factory()})
		assert.Error(t, err)
	})
}

func TestSession_RecordFiveOfFifteen(t *testing.T) {
	dir := t.TempDir()
	f := openFixture(t, testConfig(dir), 100, Deps{})
	s := f.sess

	readFrames(t, s, 10)

	path, err := s.ToggleRecording()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "video_20250314_150926.mp4"), path)
	assert.True(t, s.Recording())
	assert.Equal(t, path, s.RecordingPath())

	recorded := readFrames(t, s, 5)

	stopped, err := s.ToggleRecording()
	require.NoError(t, err)
	assert.Equal(t, path, stopped)
	assert.False(t, s.Recording())

	require.Len(t, f.media.writers, 1)
	w := f.media.writers[0]
	assert.Equal(t, 1, w.closed)
	assert.Equal(t, 30, w.fps)
	assert.Equal(t, 640, w.width)
	assert.Equal(t, 480, w.height)
	require.Len(t, w.frames, 5)
	for i := range recorded {
		assert.Same(t, recorded[i], w.frames[i], "frame %d", i)
	}
	assert.Equal(t, 15, s.FramesRead())
	assert.Equal(t, 5, s.FramesRecorded())

	// 停止後のフレームは書き込まれない
	readFrames(t, s, 3)
	assert.Len(t, w.frames, 5)
}

func TestSession_TogglesKeepOneWriterOpen(t *testing.T) {
	f := openFixture(t, testConfig(t.TempDir()), 100, Deps{})
	s := f.sess

	for i := 1; i <= 6; i++ {
		_, err := s.ToggleRecording()
		require.NoError(t, err)
		readFrames(t, s, 2)

		if i%2 == 1 {
			assert.True(t, s.Recording(), "toggle %d", i)
			assert.Equal(t, 1, f.media.openWriters(), "toggle %d", i)
		} else {
			assert.False(t, s.Recording(), "toggle %d", i)
			assert.Equal(t, 0, f.media.openWriters(), "toggle %d", i)
		}
	}

	require.Len(t, f.media.writers, 3)
	for _, w := range f.media.writers {
		assert.Len(t, w.frames, 2)
	}
}

func TestSession_CloseWhileRecording(t *testing.T) {
	f := openFixture(t, testConfig(t.TempDir()), 100, Deps{})
	s := f.sess

	_, err := s.ToggleRecording()
	require.NoError(t, err)
	frames := readFrames(t, s, 4)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.False(t, s.Recording())

	w := f.media.writers[0]
	assert.Equal(t, 1, w.closed)
	require.Len(t, w.frames, 4)
	assert.Same(t, frames[len(frames)-1], w.frames[len(w.frames)-1])

	// 録画を確定してからデバイスを解放する
	assert.Equal(t, []string{"writer.open", "writer.close", "device.close"}, f.rec.events)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	f := openFixture(t, testConfig(t.TempDir()), 10, Deps{})

	require.NoError(t, f.sess.Close())
	require.NoError(t, f.sess.Close())
	assert.Equal(t, 1, f.device.closed)
}

func TestSession_CloseWithoutOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	f, err := newFixture(testConfig(dir), 10, Deps{})
	require.NoError(t, err)

	require.NoError(t, f.sess.Close())
	assert.Equal(t, StateClosed, f.sess.State())
	assert.Equal(t, 0, f.opens)
	assert.Equal(t, 0, f.device.closed)
	assert.Empty(t, f.media.writers)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "出力ディレクトリは作られない")
}

func TestSession_CloseReportsAllErrors(t *testing.T) {
	f := openFixture(t, testConfig(t.TempDir()), 10, Deps{})
	s := f.sess

	_, err := s.ToggleRecording()
	require.NoError(t, err)
	f.media.writers[0].closeErr = errors.New("flush failed")
	f.device.closeErr = errors.New("busy")

	err = s.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush failed")
	assert.Contains(t, err.Error(), "busy")
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, f.device.closed)
}

func TestSession_EndOfStreamIsSticky(t *testing.T) {
	f := openFixture(t, testConfig(t.TempDir()), 3, Deps{})
	s := f.sess

	readFrames(t, s, 3)

	for i := 0; i < 3; i++ {
		_, err := s.NextFrame()
		assert.ErrorIs(t, err, ErrEndOfStream)
	}
	assert.Equal(t, 4, f.device.reads, "終端後はデバイスを読まない")
	assert.True(t, s.Snapshot().Ended)

	// 終端後もセッションは Streaming のまま Close できる
	assert.Equal(t, StateStreaming, s.State())
	require.NoError(t, s.Close())
}

func TestSession_DeviceReadError(t *testing.T) {
	f := openFixture(t, testConfig(t.TempDir()), 3, Deps{})
	f.device.readErr = errors.New("usb reset")

	_, err := f.sess.NextFrame()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEndOfStream)

	// 一時的なエラーの後も読み続けられる
	f.device.readErr = nil
	_, err = f.sess.NextFrame()
	assert.NoError(t, err)
}

func TestSession_OpenFailure(t *testing.T) {
	dir := t.TempDir()
	fail := true
	rec := &recorder{}
	device := &fakeDevice{rec: rec, width: 640, height: 480, remain: 1}
	opener := func(context.Context, camera.Settings) (camera.Device, error) {
		if fail {
			return nil, errors.New("no such device")
		}
		return device, nil
	}

	s, err := New(testConfig(dir), Deps{Opener: opener, Writers: (&fakeMedia{rec: rec}).factory()},
		WithLogger(quietLogger()))
	require.NoError(t, err)

	err = s.Open(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Contains(t, err.Error(), "/dev/video0")
	assert.Equal(t, StateUninitialized, s.State())

	fail = false
	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, StateStreaming, s.State())
}

func TestSession_OpenPassesSettings(t *testing.T) {
	var got camera.Settings
	cfg := testConfig(t.TempDir())
	cfg.PixelFormat = "YUYV"
	rec := &recorder{}
	opener := func(_ context.Context, settings camera.Settings) (camera.Device, error) {
		got = settings
		return &fakeDevice{rec: rec}, nil
	}

	s, err := New(cfg, Deps{Opener: opener, Writers: (&fakeMedia{rec: rec}).factory()}, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))

	assert.Equal(t, camera.Settings{Device: "/dev/video0", Width: 640, Height: 480, FPS: 30, PixelFormat: "YUYV"}, got)
}

func TestSession_InvalidStateTransitions(t *testing.T) {
	f, err := newFixture(testConfig(t.TempDir()), 10, Deps{})
	require.NoError(t, err)
	s := f.sess
	frame := taggedFrame(4, 4, 1)

	// Open 前
	_, err = s.NextFrame()
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = s.CapturePhoto(frame)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = s.ToggleRecording()
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	// 二重 Open
	require.NoError(t, s.Open(context.Background()))
	assert.ErrorIs(t, s.Open(context.Background()), ErrInvalidStateTransition)
	assert.Equal(t, 1, f.opens)

	// Close 後
	require.NoError(t, s.Close())
	_, err = s.NextFrame()
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = s.CapturePhoto(frame)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = s.ToggleRecording()
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.ErrorIs(t, s.Open(context.Background()), ErrInvalidStateTransition)
}

func TestSession_WriterInitFailure(t *testing.T) {
	f := openFixture(t, testConfig(t.TempDir()), 10, Deps{})
	s := f.sess
	f.media.failN = 1

	path, err := s.ToggleRecording()
	require.ErrorIs(t, err, ErrWriterInit)
	assert.Empty(t, path)
	assert.False(t, s.Recording())

	// 失敗しても次のフレームは取得でき、書き込まれない
	_, err = s.NextFrame()
	require.NoError(t, err)

	// 再度の切り替えで録画を開始できる
	_, err = s.ToggleRecording()
	require.NoError(t, err)
	assert.True(t, s.Recording())
	assert.Len(t, f.media.writers, 1)
}

func TestSession_RecordingWriteFailure(t *testing.T) {
	f := openFixture(t, testConfig(t.TempDir()), 10, Deps{})
	s := f.sess

	_, err := s.ToggleRecording()
	require.NoError(t, err)
	f.media.writers[0].writeErr = errors.New("disk full")

	_, err = s.NextFrame()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, s.Recording(), "書き込み失敗では録画を止めない")
}

func TestSession_CapturePhotoSameSecondOverwrites(t *testing.T) {
	dir := t.TempDir()
	f := openFixture(t, testConfig(dir), 10, Deps{Photos: media.ImageFileWriter{}})
	s := f.sess

	first, err := s.NextFrame()
	require.NoError(t, err)
	second, err := s.NextFrame()
	require.NoError(t, err)

	p1, err := s.CapturePhoto(first)
	require.NoError(t, err)
	p2, err := s.CapturePhoto(second)
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, filepath.Join(dir, "photo_20250314_150926.jpg"), p1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSession_RestartRecordingSameSecondKeepsClip(t *testing.T) {
	dir := t.TempDir()
	f := openFixture(t, testConfig(dir), 100, Deps{})
	f.media.createFiles = true
	s := f.sess

	first, err := s.ToggleRecording()
	require.NoError(t, err)
	readFrames(t, s, 5)
	_, err = s.ToggleRecording()
	require.NoError(t, err)

	second, err := s.ToggleRecording()
	require.NoError(t, err)
	_, err = s.ToggleRecording()
	require.NoError(t, err)

	third, err := s.ToggleRecording()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "video_20250314_150926.mp4"), first)
	assert.Equal(t, filepath.Join(dir, "video_20250314_150926_1.mp4"), second)
	assert.Equal(t, filepath.Join(dir, "video_20250314_150926_2.mp4"), third)

	require.Len(t, f.media.writers, 3)
	assert.Len(t, f.media.writers[0].frames, 5, "最初の動画は後の録画に影響されない")
	assert.FileExists(t, first)
	assert.FileExists(t, second)
}

func TestSession_CaptureTimelapse(t *testing.T) {
	dir := t.TempDir()
	f := openFixture(t, testConfig(dir), 10, Deps{Photos: media.ImageFileWriter{}})
	s := f.sess

	frame, err := s.NextFrame()
	require.NoError(t, err)

	manual, err := s.CapturePhoto(frame)
	require.NoError(t, err)
	scheduled, err := s.CaptureTimelapse(frame)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "photo_20250314_150926.jpg"), manual)
	assert.Equal(t, filepath.Join(dir, "timelapse_20250314_150926.jpg"), scheduled)
	assert.FileExists(t, manual, "定期撮影は手動の写真を上書きしない")
	assert.FileExists(t, scheduled)
}

func TestSession_CapturePhotoUsesWriter(t *testing.T) {
	var paths []string
	var frames []image.Image
	photos := media.ImageWriterFunc(func(path string, frame image.Image) error {
		paths = append(paths, path)
		frames = append(frames, frame)
		return nil
	})

	cfg := testConfig(filepath.Join(t.TempDir(), "nested", "cap"))
	cfg.PhotoExt = "png"
	f := openFixture(t, cfg, 10, Deps{Photos: photos})

	frame, err := f.sess.NextFrame()
	require.NoError(t, err)
	path, err := f.sess.CapturePhoto(frame)
	require.NoError(t, err)

	assert.Equal(t, []string{path}, paths)
	assert.Equal(t, ".png", filepath.Ext(path))
	assert.Same(t, frame, frames[0])
	assert.DirExists(t, cfg.OutputDir, "撮影時に出力ディレクトリを作成する")

	_, err = f.sess.CapturePhoto(nil)
	assert.Error(t, err)
}

func TestSession_Undistort(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Undistort = true
	cfg.CameraID = "head"
	undistorter := &fakeUndistorter{}
	f := openFixture(t, cfg, 10, Deps{Undistorter: undistorter})
	s := f.sess

	_, err := s.ToggleRecording()
	require.NoError(t, err)

	frame, err := s.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, uint8(101), frameTag(frame))
	assert.Equal(t, uint8(101), frameTag(f.media.writers[0].frames[0]), "録画にも補正済みフレームを書く")
	assert.Equal(t, 1, undistorter.calls)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, undistorter.closed)
}

func TestSession_UndistortDisabled(t *testing.T) {
	undistorter := &fakeUndistorter{}
	f := openFixture(t, testConfig(t.TempDir()), 10, Deps{Undistorter: undistorter})

	frame, err := f.sess.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), frameTag(frame))
	assert.Equal(t, 0, undistorter.calls)

	require.NoError(t, f.sess.Close())
	assert.Equal(t, 0, undistorter.closed)
}

func TestSession_Frames(t *testing.T) {
	f := openFixture(t, testConfig(t.TempDir()), 7, Deps{})

	var tags []uint8
	for frame, err := range f.sess.Frames() {
		require.NoError(t, err)
		tags = append(tags, frameTag(frame))
	}
	assert.Equal(t, []uint8{1, 2, 3, 4, 5, 6, 7}, tags)

	// 終端後は何も返さない
	count := 0
	for range f.sess.Frames() {
		count++
	}
	assert.Zero(t, count)
}

func TestSession_FramesStopsOnError(t *testing.T) {
	f := openFixture(t, testConfig(t.TempDir()), 7, Deps{})
	f.device.readErr = errors.New("broken pipe")

	var errs []error
	for _, err := range f.sess.Frames() {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "broken pipe")
}

func TestSession_FramesEarlyBreak(t *testing.T) {
	f := openFixture(t, testConfig(t.TempDir()), 7, Deps{})

	n := 0
	for range f.sess.Frames() {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, f.sess.FramesRead())
}

func TestSession_Snapshot(t *testing.T) {
	f := openFixture(t, testConfig(t.TempDir()), 10, Deps{})
	s := f.sess

	readFrames(t, s, 2)
	path, err := s.ToggleRecording()
	require.NoError(t, err)
	readFrames(t, s, 1)

	snap := s.Snapshot()
	assert.Equal(t, s.ID(), snap.ID)
	assert.Equal(t, "streaming", snap.State)
	assert.True(t, snap.Recording)
	assert.Equal(t, path, snap.RecordingPath)
	assert.Equal(t, 3, snap.FramesRead)
	assert.Equal(t, 1, snap.FramesRecorded)
	assert.False(t, snap.Ended)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
