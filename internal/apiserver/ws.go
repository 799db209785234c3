// ws.go — WebSocket 推送通道: 事件总线订阅 → 客户端。
package apiserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentchat/stream-core/pkg/logger"
	"github.com/agentchat/stream-core/pkg/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 推送通道只读事件, 不接受指令; 跨域由部署层反代控制
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient WebSocket 连接 + 写锁 (gorilla/websocket 不安全并发写)。
type wsClient struct {
	ws   *websocket.Conn
	wrMu sync.Mutex
}

func (c *wsClient) writeJSON(deadline time.Duration, v any) error {
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(deadline))
	return c.ws.WriteJSON(v)
}

func (c *wsClient) writePing(deadline time.Duration) error {
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(deadline))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// wsHandler 升级连接并持续推送总线事件, 带周期 ping 保活。
func (s *Server) wsHandler(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("ws upgrade failed", logger.FieldError, err)
		return
	}

	clientID := "ws-" + uuid.NewString()
	client := &wsClient{ws: ws}
	ch := s.bus.Subscribe(clientID)
	defer func() {
		s.bus.Unsubscribe(clientID)
		_ = ws.Close()
		logger.Info("ws client disconnected", logger.FieldConn, clientID)
	}()
	logger.Info("ws client connected", logger.FieldConn, clientID)

	writeWait := time.Duration(s.cfg.WSWriteWaitSec) * time.Second
	pingPeriod := time.Duration(s.cfg.WSPingPeriodSec) * time.Second

	// 读循环只为感知对端关闭 / 处理 pong
	done := make(chan struct{})
	util.SafeGo(func() {
		defer close(done)
		ws.SetReadLimit(1024)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case evt := <-ch:
			if err := client.writeJSON(writeWait, evt); err != nil {
				logger.Warn("ws write failed", logger.FieldConn, clientID, logger.FieldError, err)
				return
			}
		case <-ticker.C:
			if err := client.writePing(writeWait); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
