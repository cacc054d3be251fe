package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"shutter/internal/controller"
	"shutter/internal/session"
)

// HealthResponse はヘルスチェックの応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ActionResponse は操作の応答
type ActionResponse struct {
	Action    string    `json:"action"`
	Path      string    `json:"path,omitempty"`
	Recording bool      `json:"recording"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はセッション状態の取得エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

// handleTimelapse はタイムラプス状態の取得エンドポイント
func (s *Server) handleTimelapse(c *gin.Context) {
	if s.timelapse == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "timelapse_disabled",
			Message:   "タイムラプスは有効になっていません",
			Timestamp: time.Now(),
		})
		return
	}
	c.JSON(http.StatusOK, s.timelapse.Status())
}

// handleAction は操作をループに依頼し、結果を返すハンドラを作る
func (s *Server) handleAction(action controller.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		timeout := s.config.CommandTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		result, err := s.ctrl.Do(ctx, action)
		if err != nil {
			s.writeError(c, err)
			return
		}
		if result.Err != nil {
			s.writeError(c, result.Err)
			return
		}

		c.JSON(http.StatusOK, ActionResponse{
			Action:    action.String(),
			Path:      result.Path,
			Recording: s.ctrl.Status().Recording,
			Timestamp: time.Now(),
		})
	}
}

// writeError はエラーの種類に応じたステータスで応答する
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"

	switch {
	case errors.Is(err, controller.ErrNotRunning):
		status, code = http.StatusServiceUnavailable, "not_running"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, session.ErrInvalidStateTransition):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, session.ErrWriterInit):
		status, code = http.StatusInternalServerError, "writer_init"
	}

	s.log.WithError(err).Warnf("リクエストの処理に失敗: %s", c.Request.URL.Path)
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}
