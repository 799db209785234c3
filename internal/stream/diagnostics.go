// diagnostics.go — 非致命问题收集器: 记录而不中断流。
package stream

import (
	"fmt"
	"sync"

	"github.com/agentchat/stream-core/pkg/logger"
)

// DiagStage 诊断来源阶段。
type DiagStage string

const (
	StageFrame    DiagStage = "frame"    // 帧格式错误
	StageValidate DiagStage = "validate" // 事件校验失败
	StageOrder    DiagStage = "order"    // 协议顺序违规
	StageHistory  DiagStage = "history"  // 历史重建跳过的记录
)

// Diagnostic 单条诊断记录。
type Diagnostic struct {
	Stage   DiagStage
	Message string
	Detail  string
}

// Diagnostics 诊断收集器。
//
// 作用域为单个会话的单次消费; 折叠循环之外, 中断裁决路径也会写入
// (来自 HTTP handler goroutine), 故带锁。历史重建各自持有独立实例。
type Diagnostics struct {
	mu    sync.Mutex
	items []Diagnostic
}

// NewDiagnostics 创建空收集器。
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Add 追加一条诊断并记录日志。nil 接收者安全 (静默丢弃)。
func (d *Diagnostics) Add(stage DiagStage, message, detail string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.items = append(d.items, Diagnostic{Stage: stage, Message: message, Detail: detail})
	d.mu.Unlock()
	logger.Warn("stream diagnostic",
		"stage", string(stage),
		"message", message,
		"detail", detail,
	)
}

// Addf 追加带格式化 detail 的诊断。
func (d *Diagnostics) Addf(stage DiagStage, message, format string, args ...any) {
	d.Add(stage, message, fmt.Sprintf(format, args...))
}

// Items 返回已收集诊断的副本。
func (d *Diagnostics) Items() []Diagnostic {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Diagnostic, len(d.items))
	copy(out, d.items)
	return out
}

// Len 返回诊断数量。
func (d *Diagnostics) Len() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
