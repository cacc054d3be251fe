package session

import (
	"context"
	"fmt"
	"image"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"shutter/internal/camera"
	"shutter/internal/media"
)

var (
	// ErrDeviceUnavailable はデバイスを開けなかったことを表す
	ErrDeviceUnavailable = errors.New("デバイスを開けません")
	// ErrEndOfStream はデバイスがフレームを供給できなくなったことを表す。エラーではなく終端の合図
	ErrEndOfStream = errors.New("ストリームが終了しました")
	// ErrWriterInit は録画ファイルを作成できなかったことを表す
	ErrWriterInit = errors.New("録画ファイルを作成できません")
	// ErrInvalidStateTransition は現在の状態では実行できない操作を表す
	ErrInvalidStateTransition = errors.New("不正な状態遷移")
)

// timestampLayout はファイル名に埋め込む秒単位のタイムスタンプ
const timestampLayout = "20060102_150405"

// State はセッションの状態
type State int

const (
	StateUninitialized State = iota // Open 前
	StateStreaming                  // フレーム取得中
	StateClosed                     // 終了（再利用不可）
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config はセッションの構成。作成後は変更しない
type Config struct {
	Device      string // デバイスパスまたは動画ファイル
	Width       int
	Height      int
	FPS         int
	PixelFormat string // FOURCC。空なら MJPG

	Undistort bool
	CameraID  string // Undistort 時に必須のキャリブレーション名

	OutputDir string // 写真と動画の保存先。空なら cap
	PhotoExt  string // 空なら jpg
	VideoExt  string // 空なら mp4
}

// Undistorter はフレームの歪みを補正する。セッションの状態には触れない
type Undistorter interface {
	Undistort(frame image.Image) (image.Image, error)
}

// Deps はセッションが使う外部コンポーネント
type Deps struct {
	Opener      camera.Opener
	Writers     media.VideoWriterFactory
	Photos      media.ImageWriter // nil なら media.ImageFileWriter
	Undistorter Undistorter       // Config.Undistort が true のとき必須
}

// Option はセッションの任意設定
type Option func(*Session)

// WithClock はファイル名に使う時計を差し替える
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger はロガーを差し替える
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Session) { s.baseLog = logger }
}

// Session はカメラデバイスと録画ファイルを所有するキャプチャセッション
//
// 状態は Uninitialized → Streaming → Closed と進み、録画中フラグは Streaming 中のみ立つ。
// 録画中は writer が必ず1つ開いており、録画していないときは writer を持たない。
// Session は並行に使ってはならない。
type Session struct {
	id   string
	cfg  Config
	deps Deps

	now     func() time.Time
	baseLog logrus.FieldLogger
	log     logrus.FieldLogger

	state  State
	device camera.Device
	ended  bool
	writer media.VideoWriter

	framesRead     int
	framesRecorded int
}

// New は設定を検証してセッションを作成する。デバイスはまだ開かない
func New(cfg Config, deps Deps, opts ...Option) (*Session, error) {
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = camera.DefaultPixelFormat
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "cap"
	}
	cfg.PhotoExt = normalizeExt(cfg.PhotoExt, "jpg")
	cfg.VideoExt = normalizeExt(cfg.VideoExt, "mp4")

	if err := camera.ValidateSettings(cfg.settings()); err != nil {
		return nil, errors.Wrap(err, "セッション設定が無効")
	}
	if deps.Opener == nil {
		return nil, errors.New("デバイスのOpenerが指定されていません")
	}
	if deps.Writers == nil {
		return nil, errors.New("動画WriterFactoryが指定されていません")
	}
	if deps.Photos == nil {
		deps.Photos = media.ImageFileWriter{}
	}
	if cfg.Undistort {
		if cfg.CameraID == "" {
			return nil, errors.New("歪み補正にはキャリブレーションのカメラ名が必要です")
		}
		if deps.Undistorter == nil {
			return nil, errors.New("歪み補正が有効ですがUndistorterが指定されていません")
		}
	}

	s := &Session{
		id:      uuid.New().String(),
		cfg:     cfg,
		deps:    deps,
		now:     time.Now,
		baseLog: logrus.StandardLogger(),
		state:   StateUninitialized,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.baseLog.WithFields(logrus.Fields{"session": s.id[:8], "device": cfg.Device})

	return s, nil
}

func normalizeExt(ext, def string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return def
	}
	return ext
}

func (c Config) settings() camera.Settings {
	return camera.Settings{
		Device:      c.Device,
		Width:       c.Width,
		Height:      c.Height,
		FPS:         c.FPS,
		PixelFormat: c.PixelFormat,
	}
}

// Open はデバイスを開いて Streaming に遷移する
// 失敗時は Uninitialized のままなので再試行できる
func (s *Session) Open(ctx context.Context) error {
	if s.state != StateUninitialized {
		return errors.Wrapf(ErrInvalidStateTransition, "%s の状態では開けません", s.state)
	}

	device, err := s.deps.Opener(ctx, s.cfg.settings())
	if err != nil {
		return errors.Wrapf(ErrDeviceUnavailable, "%s: %v", s.cfg.Device, err)
	}

	s.device = device
	s.state = StateStreaming
	s.log.Infof("カメラを開きました: %dx%d @ %dfps", s.cfg.Width, s.cfg.Height, s.cfg.FPS)
	return nil
}

// NextFrame は次のフレームが届くまでブロックする
// 歪み補正が有効なら補正済みのフレームを返し、録画中なら返す前に書き込みを終える。
// 一度 ErrEndOfStream を返した後は、デバイスに触れずに常に ErrEndOfStream を返す。
func (s *Session) NextFrame() (image.Image, error) {
	if s.state != StateStreaming {
		return nil, errors.Wrapf(ErrInvalidStateTransition, "%s の状態ではフレームを取得できません", s.state)
	}
	if s.ended {
		return nil, ErrEndOfStream
	}

	frame, err := s.device.Read()
	if err != nil {
		if errors.Is(err, camera.ErrEndOfStream) {
			s.ended = true
			s.log.Info("ストリームが終了しました")
			return nil, ErrEndOfStream
		}
		return nil, errors.Wrap(err, "フレームの取得に失敗")
	}

	if s.cfg.Undistort {
		frame, err = s.deps.Undistorter.Undistort(frame)
		if err != nil {
			return nil, errors.Wrap(err, "歪み補正に失敗")
		}
	}
	s.framesRead++

	if s.writer != nil {
		if err := s.writer.Write(frame); err != nil {
			return nil, errors.Wrapf(err, "録画フレームの書き込みに失敗: %s", s.writer.Path())
		}
		s.framesRecorded++
	}

	return frame, nil
}

// Frames はフレームを順に返す一度きりのシーケンス
// ErrEndOfStream で静かに終わり、それ以外のエラーは1回だけ渡して終わる
func (s *Session) Frames() iter.Seq2[image.Image, error] {
	return func(yield func(image.Image, error) bool) {
		for {
			frame, err := s.NextFrame()
			if errors.Is(err, ErrEndOfStream) {
				return
			}
			if !yield(frame, err) || err != nil {
				return
			}
		}
	}
}

// TimelapsePrefix は定期撮影した写真のファイル名の接頭辞
const TimelapsePrefix = "timelapse"

// CapturePhoto は frame を photo_<タイムスタンプ>.<拡張子> に保存してパスを返す
// 同じ秒に2回呼ぶと後の写真で上書きされる
func (s *Session) CapturePhoto(frame image.Image) (string, error) {
	return s.capture("photo", frame)
}

// CaptureTimelapse は frame を timelapse_<タイムスタンプ>.<拡張子> に保存する
// 接頭辞以外は CapturePhoto と同じ
func (s *Session) CaptureTimelapse(frame image.Image) (string, error) {
	return s.capture(TimelapsePrefix, frame)
}

func (s *Session) capture(prefix string, frame image.Image) (string, error) {
	if s.state != StateStreaming {
		return "", errors.Wrapf(ErrInvalidStateTransition, "%s の状態では撮影できません", s.state)
	}
	if frame == nil {
		return "", errors.New("撮影するフレームがありません")
	}
	if err := s.ensureOutputDir(); err != nil {
		return "", err
	}

	path := s.outputPath(prefix, s.cfg.PhotoExt)
	if err := s.deps.Photos.WriteImage(path, frame); err != nil {
		return "", errors.Wrapf(err, "写真の保存に失敗: %s", path)
	}

	s.log.WithField("path", path).Info("写真を保存しました")
	return path, nil
}

// ToggleRecording は録画の開始と停止を切り替え、対象ファイルのパスを返す
// 開始に失敗した場合は ErrWriterInit を返し、録画していない状態のまま
func (s *Session) ToggleRecording() (string, error) {
	if s.state != StateStreaming {
		return "", errors.Wrapf(ErrInvalidStateTransition, "%s の状態では録画を切り替えられません", s.state)
	}
	if s.writer != nil {
		return s.stopRecording()
	}
	return s.startRecording()
}

func (s *Session) startRecording() (string, error) {
	if err := s.ensureOutputDir(); err != nil {
		return "", errors.Wrapf(ErrWriterInit, "%v", err)
	}

	path := s.uniqueOutputPath("video", s.cfg.VideoExt)
	writer, err := s.deps.Writers(path, s.cfg.FPS, s.cfg.Width, s.cfg.Height)
	if err != nil {
		return "", errors.Wrapf(ErrWriterInit, "%s: %v", path, err)
	}

	s.writer = writer
	s.framesRecorded = 0
	s.log.WithField("path", path).Info("録画を開始しました")
	return path, nil
}

func (s *Session) stopRecording() (string, error) {
	writer := s.writer
	s.writer = nil

	path := writer.Path()
	if err := writer.Close(); err != nil {
		return path, errors.Wrapf(err, "録画ファイルのクローズに失敗: %s", path)
	}

	s.log.WithFields(logrus.Fields{"path": path, "frames": writer.Frames()}).Info("録画を停止しました")
	return path, nil
}

// Close は録画中なら先に録画を確定し、その後デバイスを解放する
// 何度呼んでもよく、Open 前に呼んだ場合は何も作らない
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed

	var errs []error
	if s.writer != nil {
		if _, err := s.stopRecording(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.device != nil {
		if err := s.device.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "デバイスの解放に失敗"))
		}
		s.device = nil
		s.log.Info("カメラを閉じました")
	}
	if closer, ok := s.deps.Undistorter.(io.Closer); ok && s.cfg.Undistort {
		if err := closer.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "歪み補正リソースの解放に失敗"))
		}
	}

	return joinErrors(errs)
}

func (s *Session) ensureOutputDir() error {
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return errors.Wrapf(err, "出力ディレクトリの作成に失敗: %s", s.cfg.OutputDir)
	}
	return nil
}

func (s *Session) outputPath(prefix, ext string) string {
	name := prefix + "_" + s.now().Format(timestampLayout) + "." + ext
	return filepath.Join(s.cfg.OutputDir, name)
}

// uniqueOutputPath は outputPath と同じ名前だが、既にファイルがあれば _1, _2 ... を付ける
// 同じ秒に録画を再開しても直前の動画を上書きしない
func (s *Session) uniqueOutputPath(prefix, ext string) string {
	stamp := prefix + "_" + s.now().Format(timestampLayout)
	path := filepath.Join(s.cfg.OutputDir, stamp+"."+ext)
	for i := 1; exists(path); i++ {
		path = filepath.Join(s.cfg.OutputDir, fmt.Sprintf("%s_%d.%s", stamp, i, ext))
	}
	return path
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
