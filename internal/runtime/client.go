// Package runtime 代理运行时的上游传输层。
//
// 调用运行时获得流式响应体 (帧文本), 并承载中断裁决的回传。
// 连接建立阶段带指数退避重试; 一旦开始读流则不再自动重连 —
// 流只能通过重新发起调用重启。
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentchat/stream-core/internal/config"
	"github.com/agentchat/stream-core/internal/timeline"
	"github.com/agentchat/stream-core/pkg/errors"
	"github.com/agentchat/stream-core/pkg/logger"
)

// reconnectBaseDelay 连接重试初始间隔, 每次失败翻倍。
const reconnectBaseDelay = 500 * time.Millisecond

// InvokeRequest 一次会话调用。
type InvokeRequest struct {
	SessionID string   `json:"sessionId"`
	ActorID   string   `json:"actorId"`
	Prompt    string   `json:"prompt"`
	Images    []string `json:"images,omitempty"`
}

// resumePayload 中断裁决回传体。
type resumePayload struct {
	InterruptID string            `json:"interruptId"`
	Decision    timeline.Decision `json:"decision"`
}

// Client 运行时 HTTP 客户端。实现 timeline.ResumeSender。
type Client struct {
	endpoint   string
	qualifier  string
	maxRetries int
	httpc      *http.Client
}

// NewClient 创建运行时客户端。
func NewClient(cfg *config.Config) *Client {
	return &Client{
		endpoint:   cfg.RuntimeEndpoint,
		qualifier:  cfg.RuntimeQualifier,
		maxRetries: cfg.StreamMaxRetries,
		httpc: &http.Client{
			// 流式响应体: 只限制连接建立, 不限制整体读取时长
			Timeout: 0,
			Transport: &http.Transport{
				ResponseHeaderTimeout: time.Duration(cfg.RuntimeTimeoutSec) * time.Second,
			},
		},
	}
}

// InvokeStream 发起会话调用, 返回流式响应体。
//
// 连接失败 (请求发不出 / 5xx) 按指数退避重试至多 maxRetries 次;
// 4xx 视为调用方错误, 不重试。调用方负责 Close 返回的 body。
func (c *Client) InvokeStream(ctx context.Context, req InvokeRequest) (io.ReadCloser, error) {
	const op = "Client.InvokeStream"

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, op, "marshal invoke request")
	}
	url := fmt.Sprintf("%s/sessions/%s/invocations?qualifier=%s", c.endpoint, req.SessionID, c.qualifier)

	var lastErr error
	delay := reconnectBaseDelay
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("runtime connect retry",
				logger.FieldSessionID, req.SessionID,
				logger.FieldAttempt, attempt,
				logger.FieldError, lastErr)
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), op, "cancelled while retrying")
			case <-time.After(delay):
			}
			delay *= 2
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, errors.Wrap(err, op, "build request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpc.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return resp.Body, nil
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("runtime returned %d", resp.StatusCode)
			continue
		default:
			resp.Body.Close()
			return nil, errors.Newf(op, "runtime rejected invocation: status %d", resp.StatusCode)
		}
	}
	return nil, errors.Wrapf(lastErr, op, "connect after %d attempts", c.maxRetries+1)
}

// SendResume 回传中断裁决。
func (c *Client) SendResume(ctx context.Context, interruptID string, decision timeline.Decision) error {
	const op = "Client.SendResume"

	payload, err := json.Marshal(resumePayload{InterruptID: interruptID, Decision: decision})
	if err != nil {
		return errors.Wrap(err, op, "marshal decision")
	}
	url := fmt.Sprintf("%s/interrupts/%s/resume?qualifier=%s", c.endpoint, interruptID, c.qualifier)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, op, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, op, "post resume for %s", interruptID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return errors.Newf(op, "resume rejected: status %d", resp.StatusCode)
	}
	logger.Info("interrupt decision relayed",
		logger.FieldInterrupt, interruptID,
		logger.FieldDecision, decision.Approve)
	return nil
}
