package session

import (
	stderrors "errors"
)

// Snapshot はセッション状態の読み取り専用コピー
type Snapshot struct {
	ID             string `json:"id"`
	Device         string `json:"device"`
	State          string `json:"state"`
	Recording      bool   `json:"recording"`
	RecordingPath  string `json:"recording_path,omitempty"`
	FramesRead     int    `json:"frames_read"`
	FramesRecorded int    `json:"frames_recorded"`
	Undistort      bool   `json:"undistort"`
	Ended          bool   `json:"ended"`
}

// ID はセッションの識別子
func (s *Session) ID() string { return s.id }

// State は現在の状態
func (s *Session) State() State { return s.state }

// Recording は録画中かどうか
func (s *Session) Recording() bool { return s.writer != nil }

// RecordingPath は録画中のファイルパス。録画していなければ空
func (s *Session) RecordingPath() string {
	if s.writer == nil {
		return ""
	}
	return s.writer.Path()
}

// FramesRead は Open 以降に返したフレーム数
func (s *Session) FramesRead() int { return s.framesRead }

// FramesRecorded は現在または直前の録画に書き込んだフレーム数
func (s *Session) FramesRecorded() int { return s.framesRecorded }

// Config は補完済みの設定を返す
func (s *Session) Config() Config { return s.cfg }

// Snapshot は現在の状態をまとめて返す
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:             s.id,
		Device:         s.cfg.Device,
		State:          s.state.String(),
		Recording:      s.Recording(),
		RecordingPath:  s.RecordingPath(),
		FramesRead:     s.framesRead,
		FramesRecorded: s.framesRecorded,
		Undistort:      s.cfg.Undistort,
		Ended:          s.ended,
	}
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return stderrors.Join(errs...)
	}
}
