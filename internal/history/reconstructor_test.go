// reconstructor_test.go — 分页完整性、双编码等价、快照提取、截断策略。
package history

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/agentchat/stream-core/internal/stream"
	"github.com/agentchat/stream-core/internal/timeline"
)

// fakePager 预置页序列; failAt >= 0 时第 failAt 次调用返回错误。
type fakePager struct {
	pages  []EventPage
	failAt int
	calls  int
}

func newFakePager(pages ...EventPage) *fakePager {
	return &fakePager{pages: pages, failAt: -1}
}

func (p *fakePager) ListEvents(_ context.Context, _, _, _, cursor string, _ int) (*EventPage, error) {
	call := p.calls
	p.calls++
	if call == p.failAt {
		return nil, stderrors.New("throttled")
	}
	if call >= len(p.pages) {
		return &EventPage{}, nil
	}
	return &p.pages[call], nil
}

func inlineEvent(id, text, role string, ts time.Time) MemoryEvent {
	return MemoryEvent{
		EventID:   id,
		EventTime: ts.Format(time.RFC3339Nano),
		Payload: []PayloadItem{{
			Conversational: &Conversational{Content: Content{Text: text}, Role: role},
		}},
	}
}

func inlineMessage(id, message, role string, ts time.Time) MemoryEvent {
	return inlineEvent(id, fmt.Sprintf(`{"message":%q}`, message), role, ts)
}

var histTS = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

// TestRebuildPaginationCompleteness 两页 [e5,e4,e3]+[e2,e1] → [e1..e5] (§场景)。
func TestRebuildPaginationCompleteness(t *testing.T) {
	pager := newFakePager(
		EventPage{
			Events: []MemoryEvent{
				inlineMessage("e5", "five", "ASSISTANT", histTS.Add(5*time.Minute)),
				inlineMessage("e4", "four", "USER", histTS.Add(4*time.Minute)),
				inlineMessage("e3", "three", "ASSISTANT", histTS.Add(3*time.Minute)),
			},
			NextCursor: "c1",
		},
		EventPage{
			Events: []MemoryEvent{
				inlineMessage("e2", "two", "USER", histTS.Add(2*time.Minute)),
				inlineMessage("e1", "one", "USER", histTS.Add(1*time.Minute)),
			},
		},
	)
	r := NewReconstructor(pager, 100, stream.NewDiagnostics())
	res, err := r.Rebuild(context.Background(), "mem-1", "sess-1", "actor-1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Truncated {
		t.Error("Truncated = true, want false")
	}
	if len(res.Messages) != 5 {
		t.Fatalf("messages = %d, want 5", len(res.Messages))
	}
	for i, want := range []string{"e1", "e2", "e3", "e4", "e5"} {
		if res.Messages[i].ID != want {
			t.Errorf("messages[%d].ID = %s, want %s", i, res.Messages[i].ID, want)
		}
	}
	if res.Messages[0].Sender != timeline.SenderUser || res.Messages[4].Sender != timeline.SenderAssistant {
		t.Errorf("senders = %v / %v", res.Messages[0].Sender, res.Messages[4].Sender)
	}
}

// TestRebuildDualEncodingEquivalence 同一消息两种编码得到字节相等的正文 (§性质)。
func TestRebuildDualEncodingEquivalence(t *testing.T) {
	const body = "a rather long answer with \"quotes\" and\nnewlines"
	inner := fmt.Sprintf(`{"message":%q}`, body)

	inline := inlineEvent("e1", inner, "ASSISTANT", histTS)
	blob := MemoryEvent{
		EventID:   "e1",
		EventTime: histTS.Format(time.RFC3339Nano),
		Payload: []PayloadItem{{
			Blob: fmt.Sprintf(`[%q,"ASSISTANT"]`, inner),
		}},
	}

	for name, ev := range map[string]MemoryEvent{"inline": inline, "blob": blob} {
		r := NewReconstructor(newFakePager(EventPage{Events: []MemoryEvent{ev}}), 100, nil)
		res, err := r.Rebuild(context.Background(), "mem-1", "sess-1", "actor-1")
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(res.Messages) != 1 {
			t.Fatalf("%s: messages = %d", name, len(res.Messages))
		}
		if res.Messages[0].Text != body {
			t.Errorf("%s: text = %q, want %q", name, res.Messages[0].Text, body)
		}
		if res.Messages[0].Sender != timeline.SenderAssistant {
			t.Errorf("%s: sender = %s", name, res.Messages[0].Sender)
		}
	}
}

// TestRebuildNewestSnapshotWins 新→旧扫描首个快照生效, 旧快照不覆盖。
func TestRebuildNewestSnapshotWins(t *testing.T) {
	pager := newFakePager(EventPage{Events: []MemoryEvent{
		inlineEvent("s2", `{"agentState":{"v":2},"agent":"primary"}`, "", histTS.Add(2*time.Minute)),
		inlineMessage("e1", "hello", "USER", histTS.Add(time.Minute)),
		inlineEvent("s1", `{"agentState":{"v":1}}`, "", histTS),
	}})
	r := NewReconstructor(pager, 100, stream.NewDiagnostics())
	res, err := r.Rebuild(context.Background(), "mem-1", "sess-1", "actor-1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if string(res.AgentState) != `{"v":2}` {
		t.Errorf("AgentState = %s, want {\"v\":2}", res.AgentState)
	}
	// 快照事件不进消息时间线
	if len(res.Messages) != 1 || res.Messages[0].ID != "e1" {
		t.Errorf("messages = %+v", res.Messages)
	}
}

// TestRebuildNonPrimarySnapshotIgnored 非主代理的快照跳过。
func TestRebuildNonPrimarySnapshotIgnored(t *testing.T) {
	pager := newFakePager(EventPage{Events: []MemoryEvent{
		inlineEvent("s2", `{"agentState":{"v":9},"agent":"researcher"}`, "", histTS.Add(time.Minute)),
		inlineEvent("s1", `{"agentState":{"v":1},"agent":"primary"}`, "", histTS),
	}})
	r := NewReconstructor(pager, 100, stream.NewDiagnostics())
	res, err := r.Rebuild(context.Background(), "mem-1", "sess-1", "actor-1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if string(res.AgentState) != `{"v":1}` {
		t.Errorf("AgentState = %s", res.AgentState)
	}
}

// TestRebuildFirstPageFailureFatal 首页失败直接报错, 无部分结果。
func TestRebuildFirstPageFailureFatal(t *testing.T) {
	pager := newFakePager(EventPage{})
	pager.failAt = 0
	r := NewReconstructor(pager, 100, stream.NewDiagnostics())
	res, err := r.Rebuild(context.Background(), "mem-1", "sess-1", "actor-1")
	if err == nil {
		t.Fatalf("Rebuild = %+v, want error", res)
	}
}

// TestRebuildLaterPageFailureTruncates 后续页失败返回部分结果 + Truncated。
func TestRebuildLaterPageFailureTruncates(t *testing.T) {
	pager := newFakePager(EventPage{
		Events:     []MemoryEvent{inlineMessage("e2", "two", "USER", histTS.Add(time.Minute))},
		NextCursor: "c1",
	})
	pager.failAt = 1
	diags := stream.NewDiagnostics()
	r := NewReconstructor(pager, 100, diags)
	res, err := r.Rebuild(context.Background(), "mem-1", "sess-1", "actor-1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if !res.Truncated {
		t.Error("Truncated = false, want true")
	}
	if len(res.Messages) != 1 || res.Messages[0].ID != "e2" {
		t.Errorf("messages = %+v", res.Messages)
	}
	if diags.Len() == 0 || diags.Items()[0].Stage != stream.StageHistory {
		t.Errorf("diags = %+v", diags.Items())
	}
}

// TestRebuildSkipsCorruptRecords 单条损坏记录跳过, 其余照常重建。
func TestRebuildSkipsCorruptRecords(t *testing.T) {
	pager := newFakePager(EventPage{Events: []MemoryEvent{
		inlineMessage("e3", "good", "USER", histTS.Add(2*time.Minute)),
		{EventID: "e2", Payload: []PayloadItem{{Blob: `not json at all`}}},
		inlineEvent("e1", `{"note":"no message field"}`, "USER", histTS),
	}})
	diags := stream.NewDiagnostics()
	r := NewReconstructor(pager, 100, diags)
	res, err := r.Rebuild(context.Background(), "mem-1", "sess-1", "actor-1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].ID != "e3" {
		t.Errorf("messages = %+v", res.Messages)
	}
	if diags.Len() != 2 {
		t.Errorf("diags = %d, want 2: %+v", diags.Len(), diags.Items())
	}
}

// TestRebuildIDAndTimeFallbacks 缺 eventId 用会话+下标, 缺时间用当前时刻。
func TestRebuildIDAndTimeFallbacks(t *testing.T) {
	ev := MemoryEvent{Payload: []PayloadItem{{
		Conversational: &Conversational{Content: Content{Text: `{"message":"hi"}`}, Role: "USER"},
	}}}
	r := NewReconstructor(newFakePager(EventPage{Events: []MemoryEvent{ev}}), 100, stream.NewDiagnostics())
	fixed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	res, err := r.Rebuild(context.Background(), "mem-1", "sess-9", "actor-1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Messages[0].ID != "sess-9-0" {
		t.Errorf("ID = %s, want sess-9-0", res.Messages[0].ID)
	}
	if !res.Messages[0].Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", res.Messages[0].Timestamp, fixed)
	}
}

// TestRebuildBlobToolExecutions 消息文档可携带工具调用记录。
func TestRebuildBlobToolExecutions(t *testing.T) {
	inner := `{"message":"searched","toolExecutions":[{"id":"t1","toolName":"search","toolResult":"3 hits","isComplete":true}]}`
	ev := MemoryEvent{
		EventID:   "e1",
		EventTime: histTS.Format(time.RFC3339),
		Payload:   []PayloadItem{{Blob: fmt.Sprintf(`[%q,"ASSISTANT"]`, inner)}},
	}
	r := NewReconstructor(newFakePager(EventPage{Events: []MemoryEvent{ev}}), 100, nil)
	res, err := r.Rebuild(context.Background(), "mem-1", "sess-1", "actor-1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	execs := res.Messages[0].ToolExecutions
	if len(execs) != 1 || execs[0].ID != "t1" || !execs[0].IsComplete || execs[0].ToolResult != "3 hits" {
		t.Errorf("toolExecutions = %+v", execs)
	}
}
