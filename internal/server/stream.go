package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultStatusInterval = 500 * time.Millisecond
	streamWriteWait       = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleStream はセッション状態をWebSocketで定期的に配信する
// クライアントからのメッセージは読み捨て、切断の検出にだけ使う
func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocketへのアップグレードに失敗しました")
		return
	}
	defer conn.Close()

	// http.Server の ReadTimeout を引き継がないようにする
	_ = conn.SetReadDeadline(time.Time{})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.WithError(err).Debug("WebSocketの読み込みに失敗しました")
				}
				return
			}
		}
	}()

	interval := s.config.StatusInterval
	if interval <= 0 {
		interval = defaultStatusInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.WithField("remote", c.Request.RemoteAddr).Debug("状態配信を開始しました")
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(s.ctrl.Status()); err != nil {
			s.log.WithError(err).Debug("状態の送信に失敗しました")
			return
		}

		select {
		case <-closed:
			return
		case <-s.stop:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
			return
		case <-ticker.C:
		}
	}
}
