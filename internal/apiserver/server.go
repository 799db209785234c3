// Package apiserver 提供会话 HTTP API (gin) 与实时推送 (SSE / WebSocket)。
package apiserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentchat/stream-core/internal/config"
	"github.com/agentchat/stream-core/internal/history"
	"github.com/agentchat/stream-core/internal/runtime"
	"github.com/agentchat/stream-core/internal/stream"
	"github.com/agentchat/stream-core/internal/timeline"
	"github.com/agentchat/stream-core/pkg/logger"
)

// Invoker 上游运行时端口 (runtime.Client 实现)。
type Invoker interface {
	timeline.ResumeSender
	InvokeStream(ctx context.Context, req runtime.InvokeRequest) (io.ReadCloser, error)
}

// MetadataStore 消息元数据 overlay 端口 (store.SessionMetadataStore 实现)。
type MetadataStore interface {
	GetOverlays(ctx context.Context, sessionID string) (map[string]history.Overlay, error)
	UpsertFeedback(ctx context.Context, sessionID, messageID, feedback string) error
	UpsertMetrics(ctx context.Context, sessionID, messageID string, latency *timeline.LatencyMetrics, usage *stream.TokenUsage) error
}

// Server 会话 API 服务。
type Server struct {
	cfg          *config.Config
	router       *gin.Engine
	invoker      Invoker
	pager        history.Pager
	meta         MetadataStore
	bus          *EventBus
	sessions     *sessionRegistry
	displayNames map[string]string
}

// NewServer 创建 API 服务。displayNames 为工具显示名表 (可为 nil)。
func NewServer(cfg *config.Config, invoker Invoker, pager history.Pager, meta MetadataStore, displayNames map[string]string) *Server {
	r := gin.Default()
	s := &Server{
		cfg:          cfg,
		router:       r,
		invoker:      invoker,
		pager:        pager,
		meta:         meta,
		bus:          NewEventBus(),
		sessions:     newSessionRegistry(),
		displayNames: displayNames,
	}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎 (测试用)。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.POST("/sessions/:id/messages", s.postMessage)
	api.GET("/sessions/:id/history", s.getHistory)
	api.POST("/sessions/:id/interrupt", s.resolveInterrupt)
	api.DELETE("/sessions/:id/turn", s.cancelTurn)
	api.POST("/sessions/:id/messages/:mid/feedback", s.postFeedback)
	api.GET("/health", s.health)

	s.router.GET("/ws", s.wsHandler)
}

// Run 启动 HTTP 服务并支持优雅退出。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.router}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("api server listening", logger.FieldListen, s.cfg.Listen)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.sessions.cancelAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	success(c, gin.H{"status": "ok", "activeSessions": s.sessions.count()})
}
