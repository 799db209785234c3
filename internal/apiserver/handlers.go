// handlers.go — 会话 API handlers: 流式下发、历史、 中断裁决、取消、反馈。
package apiserver

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentchat/stream-core/internal/history"
	"github.com/agentchat/stream-core/internal/runtime"
	"github.com/agentchat/stream-core/internal/stream"
	"github.com/agentchat/stream-core/internal/timeline"
	apperrors "github.com/agentchat/stream-core/pkg/errors"
	"github.com/agentchat/stream-core/pkg/logger"
	"github.com/agentchat/stream-core/pkg/util"
)

// postMessage 发送用户消息并以帧文本流式下发事件。
//
// 同会话同时只允许一条活动流; 上游事件折叠进时间线的同时原样
// 转发给下游 (本响应) 并广播到事件总线 (ws 订阅者)。
func (s *Server) postMessage(c *gin.Context) {
	sessionID := c.Param("id")

	var req struct {
		ActorID string   `json:"actorId"`
		Prompt  string   `json:"prompt"`
		Images  []string `json:"images,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	if req.Prompt == "" {
		badRequest(c, "missing_prompt", "prompt is required")
		return
	}

	diags := stream.NewDiagnostics()
	builder := timeline.NewBuilder(sessionID, s.displayNames, diags)
	coord := timeline.NewCoordinator(s.invoker, diags)
	builder.AttachCoordinator(coord)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	ls := &liveSession{builder: builder, coord: coord, diags: diags, cancel: cancel}
	if !s.sessions.add(sessionID, ls) {
		conflict(c, "stream_active", "session already has an active stream")
		return
	}
	defer s.sessions.remove(sessionID)

	builder.AddUserMessage(req.Prompt, req.Images, nil, time.Now())

	started := time.Now()
	body, err := s.invoker.InvokeStream(ctx, runtime.InvokeRequest{
		SessionID: sessionID,
		ActorID:   req.ActorID,
		Prompt:    req.Prompt,
		Images:    req.Images,
	})
	if err != nil {
		serverError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// 消费在独立 goroutine, 本 handler 负责下游写出
	events := make(chan *stream.Event, 64)
	consumer := runtime.NewConsumer(builder, diags, func(ev *stream.Event) {
		s.bus.Publish(BusEvent{SessionID: sessionID, Type: eventLabel(ev), Data: ev})
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	util.SafeGo(func() {
		defer close(events)
		_ = consumer.Run(ctx, body)
	})

	var firstByte time.Duration
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if firstByte == 0 {
				firstByte = time.Since(started)
			}
			frameType, payload, err := ev.Marshal()
			if err != nil {
				logger.Warn("frame re-emit failed",
					logger.FieldSessionID, sessionID,
					logger.FieldEventType, string(ev.Type),
					logger.FieldError, err)
				return true
			}
			if err := stream.WriteFrame(w, frameType, payload); err != nil {
				cancel()
				return false
			}
			return true
		case <-ctx.Done():
			return false
		}
	})

	s.recordTurnMetrics(sessionID, builder, started, firstByte)
	logger.Info("stream finished",
		logger.FieldSessionID, sessionID,
		logger.FieldState, string(builder.State()),
		logger.FieldCount, diags.Len())
}

// recordTurnMetrics 流结束后把延迟与 token 用量落到 overlay 存储。
func (s *Server) recordTurnMetrics(sessionID string, builder *timeline.Builder, started time.Time, firstByte time.Duration) {
	if s.meta == nil || builder.State() != timeline.StateComplete {
		return
	}
	msgs := builder.Messages()
	var last *timeline.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == timeline.SenderAssistant {
			last = &msgs[i]
			break
		}
	}
	if last == nil {
		return
	}
	metrics := &timeline.LatencyMetrics{
		TotalMS:     time.Since(started).Milliseconds(),
		FirstByteMS: firstByte.Milliseconds(),
	}
	ctx, cancelWrite := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWrite()
	if err := s.meta.UpsertMetrics(ctx, sessionID, last.ID, metrics, last.TokenUsage); err != nil {
		logger.Warn("metrics upsert failed",
			logger.FieldSessionID, sessionID,
			logger.FieldMessageID, last.ID,
			logger.FieldError, err)
	}
}

// getHistory 历史重建: 分页拉取 + overlay 合并。
func (s *Server) getHistory(c *gin.Context) {
	sessionID := c.Param("id")
	memoryID := c.Query("memoryId")
	actorID := c.Query("actorId")
	if memoryID == "" || actorID == "" {
		badRequest(c, "missing_params", "memoryId and actorId are required")
		return
	}

	diags := stream.NewDiagnostics()
	rec := history.NewReconstructor(s.pager, s.cfg.MemoryPageSize, diags)
	res, err := rec.Rebuild(c.Request.Context(), memoryID, sessionID, actorID)
	if err != nil {
		serverError(c, err)
		return
	}

	if s.meta != nil {
		overlays, err := s.meta.GetOverlays(c.Request.Context(), sessionID)
		if err != nil {
			// overlay 是增强数据, 取不到不挡历史
			logger.Warn("overlay fetch failed",
				logger.FieldSessionID, sessionID, logger.FieldError, err)
		} else {
			history.MergeOverlay(res.Messages, overlays)
		}
	}

	success(c, gin.H{
		"messages":   res.Messages,
		"agentState": res.AgentState,
		"truncated":  res.Truncated,
	})
}

// resolveInterrupt 对活动流的待决中断投递人工裁决。
func (s *Server) resolveInterrupt(c *gin.Context) {
	sessionID := c.Param("id")

	var req struct {
		InterruptID string         `json:"interruptId"`
		Approve     bool           `json:"approve"`
		Feedback    map[string]any `json:"feedback,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	if req.InterruptID == "" {
		badRequest(c, "missing_interrupt_id", "interruptId is required")
		return
	}

	ls := s.sessions.get(sessionID)
	if ls == nil {
		notFound(c, "no active stream for session")
		return
	}

	err := ls.coord.Resolve(c.Request.Context(), req.InterruptID,
		timeline.Decision{Approve: req.Approve, Feedback: req.Feedback})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidInterruptState) {
			conflict(c, "invalid_interrupt_state", err.Error())
			return
		}
		serverError(c, err)
		return
	}
	success(c, gin.H{"state": ls.builder.State()})
}

// cancelTurn 协作取消当前活动流。
func (s *Server) cancelTurn(c *gin.Context) {
	sessionID := c.Param("id")
	ls := s.sessions.get(sessionID)
	if ls == nil {
		notFound(c, "no active stream for session")
		return
	}
	ls.cancel()
	logger.Info("turn cancelled", logger.FieldSessionID, sessionID)
	success(c, gin.H{"state": timeline.StateCancelled})
}

// postFeedback 写入消息反馈。
func (s *Server) postFeedback(c *gin.Context) {
	sessionID := c.Param("id")
	messageID := c.Param("mid")

	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_body", err.Error())
		return
	}
	if req.Feedback == "" {
		badRequest(c, "missing_feedback", "feedback is required")
		return
	}
	if s.meta == nil {
		serverError(c, apperrors.New("Server.postFeedback", "metadata store not configured"))
		return
	}
	if err := s.meta.UpsertFeedback(c.Request.Context(), sessionID, messageID, req.Feedback); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"messageId": messageID})
}

// eventLabel 推送事件的类型标签: 透传事件用原始类型。
func eventLabel(ev *stream.Event) string {
	if ev.Type == stream.EventPassthrough {
		return ev.RawType
	}
	return string(ev.Type)
}
