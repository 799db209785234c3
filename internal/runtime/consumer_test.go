// consumer_test.go — 读循环: 整流折叠、协作取消、读错误终态。
package runtime

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
	"testing"

	"github.com/agentchat/stream-core/internal/stream"
	"github.com/agentchat/stream-core/internal/timeline"
)

const scriptedStream = "event: start\ndata: {\"type\":\"start\"}\n\n" +
	"data: {\"type\":\"reasoning\",\"text\":\"let me check\"}\n\n" +
	"data: {\"type\":\"tool_use\",\"toolUseId\":\"t1\",\"toolName\":\"search\",\"input\":{\"q\":\"x\"}}\n\n" +
	"data: {\"type\":\"tool_result\",\"toolUseId\":\"t1\",\"result\":\"3 hits\"}\n\n" +
	"data: {\"type\":\"text\",\"text\":\"Found it.\"}\n\n" +
	"data: {\"type\":\"complete\",\"usage\":{\"inputTokens\":5,\"outputTokens\":9,\"totalTokens\":14}}\n\n"

func TestConsumerRunFullStream(t *testing.T) {
	diags := stream.NewDiagnostics()
	b := timeline.NewBuilder("sess-1", nil, diags)

	var seen []stream.EventType
	c := NewConsumer(b, diags, func(ev *stream.Event) { seen = append(seen, ev.Type) })

	err := c.Run(context.Background(), io.NopCloser(strings.NewReader(scriptedStream)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if b.State() != timeline.StateComplete {
		t.Fatalf("state = %s, want complete", b.State())
	}

	msgs := b.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2: %+v", len(msgs), msgs)
	}
	exec := msgs[0].ToolExecutions[0]
	if exec.ID != "t1" || !exec.IsComplete || exec.ToolResult != "3 hits" {
		t.Errorf("exec = %+v", exec)
	}
	if msgs[1].Text != "Found it." || msgs[1].TokenUsage == nil || msgs[1].TokenUsage.TotalTokens != 14 {
		t.Errorf("final message = %+v", msgs[1])
	}
	if len(seen) != 6 || seen[0] != stream.EventStart || seen[5] != stream.EventComplete {
		t.Errorf("sink order = %v", seen)
	}
	if diags.Len() != 0 {
		t.Errorf("diags = %+v", diags.Items())
	}
}

// TestConsumerRunTrailingFrame 无空行终结的尾帧在 EOF 时折叠。
func TestConsumerRunTrailingFrame(t *testing.T) {
	b := timeline.NewBuilder("sess-1", nil, nil)
	c := NewConsumer(b, nil, nil)

	text := "data: {\"type\":\"text\",\"text\":\"tail\"}"
	if err := c.Run(context.Background(), io.NopCloser(strings.NewReader(text))); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := b.Messages()
	if len(msgs) != 1 || msgs[0].Text != "tail" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestConsumerRunCancelled(t *testing.T) {
	b := timeline.NewBuilder("sess-1", nil, nil)
	c := NewConsumer(b, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Run(ctx, io.NopCloser(strings.NewReader(scriptedStream)))
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if b.State() != timeline.StateCancelled {
		t.Errorf("state = %s, want cancelled", b.State())
	}
}

// failingReader 先吐一段数据, 再返回传输错误。
type failingReader struct {
	data string
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.done {
		r.done = true
		return copy(p, r.data), nil
	}
	return 0, stderrors.New("connection reset by peer")
}

func (r *failingReader) Close() error { return nil }

// TestConsumerRunReadError 读错误保留已构建消息, 进入 error 终态。
func TestConsumerRunReadError(t *testing.T) {
	b := timeline.NewBuilder("sess-1", nil, nil)
	c := NewConsumer(b, nil, nil)

	r := &failingReader{data: "data: {\"type\":\"text\",\"text\":\"partial\"}\n\n"}
	if err := c.Run(context.Background(), r); err == nil {
		t.Fatal("Run = nil, want read error")
	}
	if b.State() != timeline.StateError {
		t.Fatalf("state = %s, want error", b.State())
	}
	msgs := b.Messages()
	if len(msgs) != 1 || msgs[0].Text != "partial" {
		t.Errorf("messages = %+v", msgs)
	}
}

// TestConsumerInvalidFramesSkipped 无效帧只产生诊断, 流继续。
func TestConsumerInvalidFramesSkipped(t *testing.T) {
	diags := stream.NewDiagnostics()
	b := timeline.NewBuilder("sess-1", nil, diags)
	c := NewConsumer(b, diags, nil)

	text := "data: {broken\n\n" +
		"data: {\"type\":\"text\",\"text\":\"still here\"}\n\n"
	if err := c.Run(context.Background(), io.NopCloser(strings.NewReader(text))); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if msgs := b.Messages(); len(msgs) != 1 || msgs[0].Text != "still here" {
		t.Errorf("messages = %+v", b.Messages())
	}
	if diags.Len() != 1 {
		t.Errorf("diags = %+v", diags.Items())
	}
}
