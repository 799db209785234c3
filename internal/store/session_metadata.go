// session_metadata.go — session_message_metadata 表 (消息级 overlay)。
//
// 延迟指标、token 用量、反馈、文档引用与事件日志分离存储,
// 历史重建后按消息 id 合入 (history.MergeOverlay)。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentchat/stream-core/internal/history"
	"github.com/agentchat/stream-core/internal/stream"
	"github.com/agentchat/stream-core/internal/timeline"
)

// sessionMessageMetadata 行映射。可空列用指针, 缺省字段不参与合并。
type sessionMessageMetadata struct {
	SessionID   string          `db:"session_id"`
	MessageID   string          `db:"message_id"`
	LatencyMS   *int64          `db:"latency_ms"`
	FirstByteMS *int64          `db:"first_byte_ms"`
	InputTokens *int            `db:"input_tokens"`
	OutputToken *int            `db:"output_tokens"`
	TotalTokens *int            `db:"total_tokens"`
	Feedback    *string         `db:"feedback"`
	Documents   json.RawMessage `db:"documents"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// SessionMetadataStore session_message_metadata 存储。
type SessionMetadataStore struct{ BaseStore }

// NewSessionMetadataStore 创建。
func NewSessionMetadataStore(pool *pgxpool.Pool) *SessionMetadataStore {
	return &SessionMetadataStore{NewBaseStore(pool)}
}

const smCols = "session_id, message_id, latency_ms, first_byte_ms, input_tokens, output_tokens, total_tokens, feedback, documents, updated_at"

// GetOverlays 读取一个会话的全部消息 overlay, 键为消息 id。
func (s *SessionMetadataStore) GetOverlays(ctx context.Context, sessionID string) (map[string]history.Overlay, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+smCols+" FROM session_message_metadata WHERE session_id=$1", sessionID)
	if err != nil {
		return nil, err
	}
	records, err := collectRows[sessionMessageMetadata](rows)
	if err != nil {
		return nil, err
	}

	overlays := make(map[string]history.Overlay, len(records))
	for _, rec := range records {
		overlays[rec.MessageID] = rec.toOverlay()
	}
	return overlays, nil
}

// UpsertFeedback 写入消息反馈 (点赞/点踩等)。
func (s *SessionMetadataStore) UpsertFeedback(ctx context.Context, sessionID, messageID, feedback string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_message_metadata (session_id, message_id, feedback, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, message_id)
		DO UPDATE SET feedback = EXCLUDED.feedback, updated_at = NOW()`,
		sessionID, messageID, feedback)
	return err
}

// UpsertMetrics 写入消息延迟与 token 用量 (流结束后由 API 层调用)。
func (s *SessionMetadataStore) UpsertMetrics(ctx context.Context, sessionID, messageID string,
	latency *timeline.LatencyMetrics, usage *stream.TokenUsage) error {

	var latencyMS, firstByteMS *int64
	if latency != nil {
		latencyMS = &latency.TotalMS
		if latency.FirstByteMS > 0 {
			firstByteMS = &latency.FirstByteMS
		}
	}
	var in, out, total *int
	if usage != nil {
		in, out, total = &usage.InputTokens, &usage.OutputTokens, &usage.TotalTokens
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_message_metadata
			(session_id, message_id, latency_ms, first_byte_ms, input_tokens, output_tokens, total_tokens, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (session_id, message_id)
		DO UPDATE SET
			latency_ms    = COALESCE(EXCLUDED.latency_ms, session_message_metadata.latency_ms),
			first_byte_ms = COALESCE(EXCLUDED.first_byte_ms, session_message_metadata.first_byte_ms),
			input_tokens  = COALESCE(EXCLUDED.input_tokens, session_message_metadata.input_tokens),
			output_tokens = COALESCE(EXCLUDED.output_tokens, session_message_metadata.output_tokens),
			total_tokens  = COALESCE(EXCLUDED.total_tokens, session_message_metadata.total_tokens),
			updated_at    = NOW()`,
		sessionID, messageID, latencyMS, firstByteMS, in, out, total)
	return err
}

// UpsertDocuments 写入消息关联的文档引用列表。
func (s *SessionMetadataStore) UpsertDocuments(ctx context.Context, sessionID, messageID string, docs []stream.Document) error {
	payload, err := json.Marshal(docs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_message_metadata (session_id, message_id, documents, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, message_id)
		DO UPDATE SET documents = EXCLUDED.documents, updated_at = NOW()`,
		sessionID, messageID, payload)
	return err
}

// toOverlay 行 → overlay, 只携带非空字段。
func (r sessionMessageMetadata) toOverlay() history.Overlay {
	var ov history.Overlay
	if r.LatencyMS != nil {
		lm := &timeline.LatencyMetrics{TotalMS: *r.LatencyMS}
		if r.FirstByteMS != nil {
			lm.FirstByteMS = *r.FirstByteMS
		}
		ov.LatencyMetrics = lm
	}
	if r.TotalTokens != nil || r.InputTokens != nil || r.OutputToken != nil {
		tu := &stream.TokenUsage{}
		if r.InputTokens != nil {
			tu.InputTokens = *r.InputTokens
		}
		if r.OutputToken != nil {
			tu.OutputTokens = *r.OutputToken
		}
		if r.TotalTokens != nil {
			tu.TotalTokens = *r.TotalTokens
		}
		ov.TokenUsage = tu
	}
	if r.Feedback != nil {
		ov.Feedback = *r.Feedback
	}
	if len(r.Documents) > 0 {
		var docs []stream.Document
		if json.Unmarshal(r.Documents, &docs) == nil {
			ov.Documents = docs
		}
	}
	return ov
}
