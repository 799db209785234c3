// session_metadata_test.go — 行 → overlay 转换 (纯逻辑, 不连库)。
package store

import (
	"encoding/json"
	"testing"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
func strPtr(s string) *string { return &s }

func TestToOverlayFull(t *testing.T) {
	rec := sessionMessageMetadata{
		SessionID:   "s1",
		MessageID:   "m1",
		LatencyMS:   int64Ptr(4200),
		FirstByteMS: int64Ptr(300),
		InputTokens: intPtr(12),
		OutputToken: intPtr(34),
		TotalTokens: intPtr(46),
		Feedback:    strPtr("thumbs_up"),
		Documents:   json.RawMessage(`[{"name":"report.pdf","url":"s3://b/report.pdf"}]`),
	}
	ov := rec.toOverlay()

	if ov.LatencyMetrics == nil || ov.LatencyMetrics.TotalMS != 4200 || ov.LatencyMetrics.FirstByteMS != 300 {
		t.Errorf("latency = %+v", ov.LatencyMetrics)
	}
	if ov.TokenUsage == nil || ov.TokenUsage.TotalTokens != 46 || ov.TokenUsage.InputTokens != 12 {
		t.Errorf("usage = %+v", ov.TokenUsage)
	}
	if ov.Feedback != "thumbs_up" {
		t.Errorf("feedback = %q", ov.Feedback)
	}
	if len(ov.Documents) != 1 || ov.Documents[0].Name != "report.pdf" {
		t.Errorf("documents = %+v", ov.Documents)
	}
}

// TestToOverlayPartial 空列不产生 overlay 字段, 合并时不会清空既有值。
func TestToOverlayPartial(t *testing.T) {
	rec := sessionMessageMetadata{SessionID: "s1", MessageID: "m1", Feedback: strPtr("thumbs_down")}
	ov := rec.toOverlay()
	if ov.LatencyMetrics != nil || ov.TokenUsage != nil || ov.Documents != nil {
		t.Errorf("overlay = %+v, want feedback only", ov)
	}
	if ov.Feedback != "thumbs_down" {
		t.Errorf("feedback = %q", ov.Feedback)
	}
}

func TestToOverlayCorruptDocuments(t *testing.T) {
	rec := sessionMessageMetadata{Documents: json.RawMessage(`{broken`)}
	if ov := rec.toOverlay(); ov.Documents != nil {
		t.Errorf("documents = %+v, want nil for corrupt json", ov.Documents)
	}
}
