// pager.go — 记忆服务分页客户端 (history.Pager 实现)。
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/agentchat/stream-core/internal/config"
	"github.com/agentchat/stream-core/internal/history"
	"github.com/agentchat/stream-core/pkg/errors"
)

// MemoryPager 记忆服务的事件日志分页读取。
//
// 服务端按新→旧返回, nextToken 为不透明游标; 游标依赖前页响应,
// 由调用方 (Reconstructor) 串行翻页。
type MemoryPager struct {
	endpoint string
	httpc    *http.Client
}

// NewMemoryPager 创建分页客户端。
func NewMemoryPager(cfg *config.Config) *MemoryPager {
	return &MemoryPager{
		endpoint: cfg.MemoryEndpoint,
		httpc:    &http.Client{Timeout: time.Duration(cfg.MemoryTimeoutSec) * time.Second},
	}
}

// listEventsResponse 服务端响应体。
type listEventsResponse struct {
	Events    []history.MemoryEvent `json:"events"`
	NextToken string                `json:"nextToken,omitempty"`
}

// ListEvents 拉取一页持久化事件。实现 history.Pager。
func (p *MemoryPager) ListEvents(ctx context.Context, memoryID, sessionID, actorID, cursor string, pageSize int) (*history.EventPage, error) {
	const op = "MemoryPager.ListEvents"

	q := url.Values{}
	q.Set("maxResults", fmt.Sprintf("%d", pageSize))
	if cursor != "" {
		q.Set("nextToken", cursor)
	}
	reqURL := fmt.Sprintf("%s/memories/%s/sessions/%s/actors/%s/events?%s",
		p.endpoint, url.PathEscape(memoryID), url.PathEscape(sessionID), url.PathEscape(actorID), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, op, "build request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpc.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, op, "fetch events for session %s", sessionID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(op, "memory service returned status %d", resp.StatusCode)
	}

	var body listEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, op, "decode events page")
	}
	return &history.EventPage{Events: body.Events, NextCursor: body.NextToken}, nil
}
