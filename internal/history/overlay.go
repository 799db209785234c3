// overlay.go — 会话元数据 overlay 的幂等合并。
package history

import (
	"github.com/agentchat/stream-core/internal/stream"
	"github.com/agentchat/stream-core/internal/timeline"
)

// Overlay 消息级外部元数据 (持久化于元数据存储, 与事件日志分离)。
type Overlay struct {
	LatencyMetrics *timeline.LatencyMetrics `json:"latencyMetrics,omitempty"`
	TokenUsage     *stream.TokenUsage       `json:"tokenUsage,omitempty"`
	Feedback       string                   `json:"feedback,omitempty"`
	Documents      []stream.Document        `json:"documents,omitempty"`
}

// MergeOverlay 按消息 id 将 overlay 字段合入消息, 原地修改。
//
// 逐字段取值规则: overlay 有值则整体覆盖该字段, 无值则保持原状
// (绝不清空)。覆盖而非追加使合并幂等: 同一 overlay 合两次与合一次
// 结果相同。
func MergeOverlay(messages []timeline.Message, overlays map[string]Overlay) {
	if len(overlays) == 0 {
		return
	}
	for i := range messages {
		ov, ok := overlays[messages[i].ID]
		if !ok {
			continue
		}
		if ov.LatencyMetrics != nil {
			lm := *ov.LatencyMetrics
			messages[i].LatencyMetrics = &lm
		}
		if ov.TokenUsage != nil {
			tu := *ov.TokenUsage
			messages[i].TokenUsage = &tu
		}
		if ov.Feedback != "" {
			messages[i].Feedback = ov.Feedback
		}
		if len(ov.Documents) > 0 {
			docs := make([]stream.Document, len(ov.Documents))
			copy(docs, ov.Documents)
			messages[i].Documents = docs
		}
	}
}
