// overlay_test.go — overlay 合并: 幂等性、缺省字段不清空。
package history

import (
	"reflect"
	"testing"
	"time"

	"github.com/agentchat/stream-core/internal/stream"
	"github.com/agentchat/stream-core/internal/timeline"
)

func overlayFixture() ([]timeline.Message, map[string]Overlay) {
	msgs := []timeline.Message{
		{ID: "m1", Sender: timeline.SenderUser, Text: "question", Timestamp: time.Unix(100, 0)},
		{ID: "m2", Sender: timeline.SenderAssistant, Text: "answer", Timestamp: time.Unix(101, 0),
			Feedback: "existing"},
		{ID: "m3", Sender: timeline.SenderAssistant, Text: "other", Timestamp: time.Unix(102, 0)},
	}
	overlays := map[string]Overlay{
		"m2": {
			LatencyMetrics: &timeline.LatencyMetrics{TotalMS: 4200, FirstByteMS: 300},
			TokenUsage:     &stream.TokenUsage{InputTokens: 12, OutputTokens: 34, TotalTokens: 46},
			Feedback:       "thumbs_up",
			Documents:      []stream.Document{{Name: "report.pdf", URL: "s3://bucket/report.pdf"}},
		},
	}
	return msgs, overlays
}

func TestMergeOverlayByID(t *testing.T) {
	msgs, overlays := overlayFixture()
	MergeOverlay(msgs, overlays)

	if msgs[0].LatencyMetrics != nil || msgs[0].TokenUsage != nil {
		t.Errorf("m1 touched: %+v", msgs[0])
	}
	m2 := msgs[1]
	if m2.LatencyMetrics == nil || m2.LatencyMetrics.TotalMS != 4200 {
		t.Errorf("m2 latency = %+v", m2.LatencyMetrics)
	}
	if m2.TokenUsage == nil || m2.TokenUsage.TotalTokens != 46 {
		t.Errorf("m2 usage = %+v", m2.TokenUsage)
	}
	if m2.Feedback != "thumbs_up" {
		t.Errorf("m2 feedback = %q", m2.Feedback)
	}
	if len(m2.Documents) != 1 || m2.Documents[0].Name != "report.pdf" {
		t.Errorf("m2 documents = %+v", m2.Documents)
	}
}

// TestMergeOverlayIdempotent 同一 overlay 合两次与合一次结果相同 (§性质)。
func TestMergeOverlayIdempotent(t *testing.T) {
	once, overlays := overlayFixture()
	MergeOverlay(once, overlays)

	twice, _ := overlayFixture()
	MergeOverlay(twice, overlays)
	MergeOverlay(twice, overlays)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("merge not idempotent\nonce  %+v\ntwice %+v", once, twice)
	}
}

// TestMergeOverlayAbsentFieldsUntouched overlay 缺的字段不清空原值。
func TestMergeOverlayAbsentFieldsUntouched(t *testing.T) {
	msgs := []timeline.Message{{ID: "m1", Feedback: "keep-me",
		TokenUsage: &stream.TokenUsage{TotalTokens: 7}}}
	MergeOverlay(msgs, map[string]Overlay{
		"m1": {LatencyMetrics: &timeline.LatencyMetrics{TotalMS: 10}},
	})
	if msgs[0].Feedback != "keep-me" {
		t.Errorf("feedback cleared: %q", msgs[0].Feedback)
	}
	if msgs[0].TokenUsage == nil || msgs[0].TokenUsage.TotalTokens != 7 {
		t.Errorf("usage cleared: %+v", msgs[0].TokenUsage)
	}
	if msgs[0].LatencyMetrics == nil || msgs[0].LatencyMetrics.TotalMS != 10 {
		t.Errorf("latency not merged: %+v", msgs[0].LatencyMetrics)
	}
}

func TestMergeOverlayEmpty(t *testing.T) {
	msgs, _ := overlayFixture()
	want := make([]timeline.Message, len(msgs))
	copy(want, msgs)
	MergeOverlay(msgs, nil)
	if !reflect.DeepEqual(msgs, want) {
		t.Errorf("nil overlay mutated messages")
	}
}
