package controller

import (
	"image"
	"time"

	"github.com/pkg/errors"

	"shutter/internal/session"
)

// ErrNotRunning は駆動ループが動いていないときのコマンド送信を表す
var ErrNotRunning = errors.New("キャプチャループが動作していません")

// KeyEsc は WaitKey が返す ESC のキーコード
const KeyEsc = 27

// Display はフレームの表示先とキー入力元
type Display interface {
	Show(frame image.Image) error
	// WaitKey は最大 ms ミリ秒待ち、押されたキーを返す。押されなければ負の値
	WaitKey(ms int) int
	Close() error
}

// Action はループが実行する操作
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionPhoto
	ActionToggleRecording
	ActionTimelapse // 定期撮影。キーには割り当てない
)

func (a Action) String() string {
	switch a {
	case ActionQuit:
		return "quit"
	case ActionPhoto:
		return "photo"
	case ActionToggleRecording:
		return "toggle_recording"
	case ActionTimelapse:
		return "timelapse"
	default:
		return "none"
	}
}

// Keymap はキーコードと操作の対応
type Keymap map[int]Action

// DefaultKeymap は q で終了、e で撮影、r で録画切り替え、ESC で終了
func DefaultKeymap() Keymap {
	return Keymap{
		'q':    ActionQuit,
		'e':    ActionPhoto,
		'r':    ActionToggleRecording,
		KeyEsc: ActionQuit,
	}
}

// Lookup は WaitKey の戻り値に対応する操作を返す
func (k Keymap) Lookup(key int) Action {
	if key < 0 {
		return ActionNone
	}
	return k[key&0xFF]
}

// Command は外部からループに渡す操作
type Command struct {
	Action Action
	reply  chan Result
}

// Result は操作の結果
type Result struct {
	Action Action `json:"action"`
	Path   string `json:"path,omitempty"`
	Err    error  `json:"-"`
}

// Status はループとセッションの状態
type Status struct {
	session.Snapshot
	Running   bool      `json:"running"`
	LastPhoto string    `json:"last_photo,omitempty"`
	LastVideo string    `json:"last_video,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
