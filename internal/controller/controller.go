package controller

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"shutter/internal/session"
)

// Controller はセッションを所有し、フレーム取得とキー・コマンド処理を1つのループで行う
type Controller struct {
	sess     *session.Session
	display  Display
	keymap   Keymap
	pollMs   int
	log      logrus.FieldLogger
	commands chan Command
	done     chan struct{}

	mu     sync.RWMutex
	status Status
}

// Option は Controller の任意設定
type Option func(*Controller)

// WithDisplay はプレビュー表示先を設定する。未設定ならヘッドレス
func WithDisplay(d Display) Option {
	return func(c *Controller) { c.display = d }
}

// WithKeymap はキー割り当てを差し替える
func WithKeymap(k Keymap) Option {
	return func(c *Controller) { c.keymap = k }
}

// WithPollInterval はキー入力の待ち時間（ミリ秒）を設定する
func WithPollInterval(ms int) Option {
	return func(c *Controller) {
		if ms > 0 {
			c.pollMs = ms
		}
	}
}

// WithLogger はロガーを差し替える
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Controller) { c.log = logger }
}

// New は Controller を作成する
func New(sess *session.Session, opts ...Option) *Controller {
	c := &Controller{
		sess:     sess,
		keymap:   DefaultKeymap(),
		pollMs:   1,
		log:      logrus.StandardLogger(),
		commands: make(chan Command, 8),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status = Status{Snapshot: sess.Snapshot(), UpdatedAt: time.Now()}
	return c
}

// Run はループを実行する
// 終了キー、終了コマンド、ctx のキャンセル、ストリーム終端では nil を返す。
// どの経路で終わってもセッションは Close される。
func (c *Controller) Run(ctx context.Context) (err error) {
	defer close(c.done)
	defer func() {
		if cerr := c.sess.Close(); cerr != nil {
			c.log.WithError(cerr).Error("セッションのクローズに失敗")
			if err == nil {
				err = cerr
			}
		}
		c.publish(false, func(s *Status) {
			if err != nil {
				s.LastError = err.Error()
			}
		})
	}()

	if c.sess.State() == session.StateUninitialized {
		if err := c.sess.Open(ctx); err != nil {
			return err
		}
	}
	c.publish(true, nil)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("キャンセルされました")
			return nil
		default:
		}

		frame, err := c.sess.NextFrame()
		if errors.Is(err, session.ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return err
		}

		if c.display != nil {
			if err := c.display.Show(frame); err != nil {
				return errors.Wrap(err, "プレビューの表示に失敗")
			}
			if action := c.keymap.Lookup(c.display.WaitKey(c.pollMs)); action != ActionNone {
				if c.perform(action, frame).Action == ActionQuit {
					return nil
				}
			}
		}

		if quit := c.drainCommands(frame); quit {
			return nil
		}
		c.publish(true, nil)
	}
}

// drainCommands はフレーム間に溜まったコマンドを処理する
func (c *Controller) drainCommands(frame image.Image) bool {
	for {
		select {
		case cmd := <-c.commands:
			result := c.perform(cmd.Action, frame)
			cmd.reply <- result
			if result.Action == ActionQuit {
				return true
			}
		default:
			return false
		}
	}
}

// perform は1つの操作を実行する。撮影と録画切り替えの失敗はログに残して続行する
func (c *Controller) perform(action Action, frame image.Image) Result {
	result := Result{Action: action}

	switch action {
	case ActionQuit:
		c.log.Info("終了します")
	case ActionPhoto:
		result.Path, result.Err = c.sess.CapturePhoto(frame)
	case ActionTimelapse:
		result.Path, result.Err = c.sess.CaptureTimelapse(frame)
	case ActionToggleRecording:
		result.Path, result.Err = c.sess.ToggleRecording()
	}

	if result.Err != nil {
		c.log.WithError(result.Err).Warnf("%s に失敗しました", action)
	}

	c.publish(true, func(s *Status) {
		switch {
		case result.Err != nil:
			s.LastError = result.Err.Error()
		case action == ActionPhoto || action == ActionTimelapse:
			s.LastPhoto = result.Path
		case action == ActionToggleRecording && !s.Recording:
			s.LastVideo = result.Path
		}
	})
	return result
}

// Do はループに操作を依頼し、結果を待つ
func (c *Controller) Do(ctx context.Context, action Action) (Result, error) {
	cmd := Command{Action: action, reply: make(chan Result, 1)}

	select {
	case c.commands <- cmd:
	case <-c.done:
		return Result{}, ErrNotRunning
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case result := <-cmd.reply:
		return result, nil
	case <-c.done:
		// ループ終了直前に処理された可能性がある
		select {
		case result := <-cmd.reply:
			return result, nil
		default:
			return Result{}, ErrNotRunning
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Status は最新の状態を返す
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Done はループ終了時に閉じられるチャネル
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) publish(running bool, update func(*Status)) {
	snapshot := c.sess.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Snapshot = snapshot
	c.status.Running = running
	c.status.UpdatedAt = time.Now()
	if update != nil {
		update(&c.status)
	}
}
