// Package timelapse は定期撮影と古い写真の整理を行う
package timelapse

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"shutter/internal/controller"
)

// Config はタイムラプス設定
type Config struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`               // 有効/無効
	Schedule      string `mapstructure:"schedule" yaml:"schedule"`             // cron 式または @every 形式 (デフォルト: @every 2s)
	MaxShots      int    `mapstructure:"max_shots" yaml:"max_shots"`           // 最大撮影枚数 (0 は無制限)
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"` // 保持期間（日数、0 は削除しない）
}

// DefaultConfig はデフォルトのタイムラプス設定を返す
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Schedule:      "@every 2s",
		MaxShots:      0,
		RetentionDays: 0,
	}
}

// Validate は設定の妥当性を検証する
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("無効なスケジュール %q: %w", c.Schedule, err)
	}
	if c.MaxShots < 0 {
		return fmt.Errorf("無効な最大撮影枚数: %d", c.MaxShots)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("無効な保持期間: %d", c.RetentionDays)
	}
	return nil
}

// Shooter は撮影を依頼する相手
type Shooter interface {
	Do(ctx context.Context, action controller.Action) (controller.Result, error)
}

// StatusInfo はタイムラプスの状態情報
type StatusInfo struct {
	Enabled   bool      `json:"enabled"`
	Schedule  string    `json:"schedule"`
	Shots     int       `json:"shots"`
	Failures  int       `json:"failures"`
	Removed   int       `json:"removed"`
	LastPhoto string    `json:"last_photo,omitempty"`
	LastShot  time.Time `json:"last_shot,omitempty"`
	NextShot  time.Time `json:"next_shot,omitempty"`
}
