package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"shutter/internal/config"
	"shutter/internal/controller"
	"shutter/internal/timelapse"
)

// Controller はサーバーが操作を依頼する相手
type Controller interface {
	Do(ctx context.Context, action controller.Action) (controller.Result, error)
	Status() controller.Status
}

// TimelapseReporter はタイムラプスの状態を返す
type TimelapseReporter interface {
	Status() timelapse.StatusInfo
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     config.ServerConfig
	ctrl       Controller
	log        logrus.FieldLogger
	router     *gin.Engine
	httpServer *http.Server
	timelapse  TimelapseReporter

	// stop はハイジャック済みのWebSocket接続に停止を伝える
	stop     chan struct{}
	stopOnce sync.Once
}

// New は新しいServerインスタンスを作成する
func New(cfg config.ServerConfig, ctrl Controller, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		config: cfg,
		ctrl:   ctrl,
		log:    logger,
		router: router,
		stop:   make(chan struct{}),
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// SetTimelapse はタイムラプスの状態取得先を設定する
// Serve より前に呼ぶこと
func (s *Server) SetTimelapse(t TimelapseReporter) {
	s.timelapse = t
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.router.GET("/health", s.handleHealth)

	// APIエンドポイント
	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/ws", s.handleStream)
	api.GET("/timelapse", s.handleTimelapse)
	api.POST("/photo", s.handleAction(controller.ActionPhoto))
	api.POST("/recording/toggle", s.handleAction(controller.ActionToggleRecording))
	api.POST("/quit", s.handleAction(controller.ActionQuit))
}

// Start はサーバーを起動し、ctx がキャンセルされるまで待つ
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrap(err, "サーバーの起動に失敗")
	}
	return s.Serve(ctx, listener)
}

// Serve は listener で待ち受け、ctx がキャンセルされたらグレースフルにシャットダウンする
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.log.Infof("HTTPサーバーを起動しています: %s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- errors.Wrap(err, "サーバーの起動に失敗")
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.log.Info("サーバーをシャットダウンしています...")
	s.stopOnce.Do(func() { close(s.stop) })

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "サーバーのシャットダウンに失敗")
	}

	s.log.Info("サーバーが正常にシャットダウンされました")
	return nil
}

func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("HTTPリクエスト")
	}
}
