// validator.go — 事件校验: 帧负载 → 类型化事件, 失败返回 nil 而非抛错。
package stream

import (
	"encoding/json"
	"strings"
	"time"
)

// Validator 按类型契约校验帧负载。
//
// 纯函数式校验 + 诊断收集; 校验失败只产生诊断, 流继续。
type Validator struct {
	diags *Diagnostics
}

// NewValidator 创建校验器。diags 可为 nil (丢弃诊断)。
func NewValidator(diags *Diagnostics) *Validator {
	return &Validator{diags: diags}
}

// Validate 校验一帧, 返回类型化事件; 无效帧返回 nil。
//
// 类型判别优先取负载的 type 字段, 缺失时回退 event: 行声明的类型。
// 未识别类型仅在交接族白名单内放行 (passthrough), 否则视为无效。
func (v *Validator) Validate(frame Frame) *Event {
	var w wireEvent
	if err := json.Unmarshal([]byte(frame.Data), &w); err != nil {
		v.diags.Addf(StageValidate, "unparseable frame payload", "type=%q err=%v", frame.Type, err)
		return nil
	}

	typ := strings.TrimSpace(w.Type)
	if typ == "" {
		typ = strings.TrimSpace(frame.Type)
	}
	if typ == "" {
		v.diags.Add(StageValidate, "frame missing type discriminant", frame.Data)
		return nil
	}

	ev := &Event{Type: EventType(typ), Timestamp: parseTimestamp(w.Timestamp)}

	switch EventType(typ) {
	case EventReasoning, EventResponse, EventText, EventThinking:
		ev.Text = firstOf(w.Text, w.Content)

	case EventStart, EventEnd, EventInit:
		// 纯生命周期标记, 无必填负载

	case EventToolUse:
		if w.ToolUseID == "" || w.ToolName == "" {
			v.diags.Addf(StageValidate, "tool_use missing required fields", "toolUseId=%q toolName=%q", w.ToolUseID, w.ToolName)
			return nil
		}
		ev.ToolUse = &ToolUseData{ID: w.ToolUseID, Name: w.ToolName, Input: w.Input}

	case EventToolResult:
		if w.ToolUseID == "" {
			v.diags.Add(StageValidate, "tool_result missing toolUseId", frame.Data)
			return nil
		}
		ev.ToolResult = &ToolResultData{
			ID:        w.ToolUseID,
			Result:    decodeResultText(w.Result),
			Cancelled: w.Cancelled,
		}

	case EventToolProgress:
		ev.ToolProgress = &ToolProgressData{ID: w.ToolUseID, Message: firstOf(w.Message, w.Content)}

	case EventInterrupt:
		if len(w.Interrupts) == 0 {
			v.diags.Add(StageValidate, "interrupt without descriptors", frame.Data)
			return nil
		}
		for _, d := range w.Interrupts {
			if d.ID == "" {
				v.diags.Add(StageValidate, "interrupt descriptor missing id", frame.Data)
				return nil
			}
		}
		ev.Interrupts = w.Interrupts

	case EventBrowserProgress, EventResearchProgress:
		if w.Step == nil || w.Content == "" {
			v.diags.Addf(StageValidate, "progress event missing step/content", "type=%s", typ)
			return nil
		}
		ev.Progress = &ProgressData{Step: *w.Step, Content: w.Content}

	case EventProgress:
		p := &ProgressData{Content: firstOf(w.Content, w.Message)}
		if w.Step != nil {
			p.Step = *w.Step
		}
		ev.Progress = p

	case EventComplete:
		ev.Completion = &CompletionData{Images: w.Images, Documents: w.Documents, Usage: w.Usage}

	case EventError:
		ev.Error = &ErrorData{Message: firstOf(w.Message, w.Content), Code: w.Code}

	case EventWarning:
		ev.Warning = &WarningData{Message: firstOf(w.Message, w.Content)}

	case EventMetadata:
		ev.Metadata = w.Metadata

	default:
		if !isHandoffType(typ) {
			v.diags.Addf(StageValidate, "unrecognized frame type", "type=%s", typ)
			return nil
		}
		ev.Type = EventPassthrough
		ev.RawType = typ
		ev.Raw = json.RawMessage(frame.Data)
	}

	return ev
}

// parseTimestamp 解析 RFC3339(Nano) 时间戳, 失败返回零值。
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// decodeResultText 将 result 负载转为展示文本:
// JSON 字符串取其值, 其他 JSON 保留原文。
func decodeResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
