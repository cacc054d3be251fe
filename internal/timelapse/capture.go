package timelapse

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"shutter/internal/controller"
	"shutter/internal/session"
)

// shotTimeout は1回の撮影依頼の応答待ち時間
const shotTimeout = 5 * time.Second

// Capture はスケジュールに従って撮影を依頼する
type Capture struct {
	config    Config
	shooter   Shooter
	outputDir string
	log       logrus.FieldLogger
	now       func() time.Time

	cron    *cron.Cron
	shootID cron.EntryID
	ctx     context.Context

	mu     sync.RWMutex
	status StatusInfo
}

// NewCapture は新しいCaptureを作成する
func NewCapture(config Config, shooter Shooter, outputDir string, logger logrus.FieldLogger) (*Capture, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	cronLogger := cron.PrintfLogger(logger)
	return &Capture{
		config:    config,
		shooter:   shooter,
		outputDir: outputDir,
		log:       logger.WithField("component", "timelapse"),
		now:       time.Now,
		cron:      cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger))),
		ctx:       context.Background(),
		status: StatusInfo{
			Enabled:  config.Enabled,
			Schedule: config.Schedule,
		},
	}, nil
}

// Start はタイムラプスキャプチャを開始する
// ctx は撮影依頼に使い、キャンセルされると以降の撮影は失敗として数えない
func (tc *Capture) Start(ctx context.Context) error {
	if !tc.config.Enabled {
		return nil
	}
	tc.ctx = ctx

	id, err := tc.cron.AddFunc(tc.config.Schedule, tc.shoot)
	if err != nil {
		return errors.Wrapf(err, "スケジュールの登録に失敗: %s", tc.config.Schedule)
	}
	tc.shootID = id

	if tc.config.RetentionDays > 0 {
		tc.prune()
		if _, err := tc.cron.AddFunc("@hourly", tc.prune); err != nil {
			return errors.Wrap(err, "整理ジョブの登録に失敗")
		}
	}

	tc.cron.Start()
	tc.log.Infof("タイムラプスを開始しました (%s)", tc.config.Schedule)
	return nil
}

// Stop はタイムラプスキャプチャを停止し、実行中の撮影が終わるまで待つ
func (tc *Capture) Stop() {
	if !tc.config.Enabled {
		return
	}
	<-tc.cron.Stop().Done()
	tc.log.Info("タイムラプスを停止しました")
}

// Status は現在の状態を返す
func (tc *Capture) Status() StatusInfo {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	status := tc.status
	if tc.shootID != 0 {
		status.NextShot = tc.cron.Entry(tc.shootID).Next
	}
	return status
}

// shoot は1回分の撮影を依頼する
func (tc *Capture) shoot() {
	tc.mu.RLock()
	done := tc.config.MaxShots > 0 && tc.status.Shots >= tc.config.MaxShots
	tc.mu.RUnlock()
	if done {
		return
	}
	if tc.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(tc.ctx, shotTimeout)
	defer cancel()

	result, err := tc.shooter.Do(ctx, controller.ActionTimelapse)
	if err == nil {
		err = result.Err
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	if err != nil {
		if tc.ctx.Err() == nil {
			tc.status.Failures++
			tc.log.WithError(err).Warn("定期撮影に失敗しました")
		}
		return
	}

	tc.status.Shots++
	tc.status.LastPhoto = result.Path
	tc.status.LastShot = tc.now()
	tc.log.WithField("path", result.Path).Debug("定期撮影しました")

	if tc.config.MaxShots > 0 && tc.status.Shots >= tc.config.MaxShots {
		tc.log.Infof("最大撮影枚数 %d に達しました", tc.config.MaxShots)
	}
}

// prune は保持期間を過ぎた定期撮影の写真を削除する。手動で撮った photo_ は対象外
func (tc *Capture) prune() {
	maxAge := time.Duration(tc.config.RetentionDays) * 24 * time.Hour
	removed, err := PruneOld(tc.outputDir, session.TimelapsePrefix+"_", maxAge, tc.now())
	if err != nil {
		tc.log.WithError(err).Warn("古い写真の削除に失敗しました")
	}

	tc.mu.Lock()
	tc.status.Removed += removed
	tc.mu.Unlock()

	if removed > 0 {
		tc.log.Infof("古い写真を %d 件削除しました", removed)
	}
}
