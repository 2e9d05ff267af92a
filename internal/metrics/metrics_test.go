package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// gatherFamily は指定名のメトリクスファミリーを取得する。見つからない場合はテストを失敗させる。
func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// counterByLabel はラベル値ごとのカウンタ値を返す。
func counterByLabel(mf *dto.MetricFamily, label string) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == label {
				out[l.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	return out
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordSubmissionTransition_IncrementsCounterWithLabel は遷移種別ごとに集計されることを検証する。
func TestRecordSubmissionTransition_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSubmissionTransition("claim")
	c.RecordSubmissionTransition("claim")
	c.RecordSubmissionTransition("done")

	got := counterByLabel(gatherFamily(t, reg, "blossom_submission_transitions_total"), "transition")
	if got["claim"] != 2 || got["done"] != 1 {
		t.Errorf("transitions = %v, want claim=2 done=1", got)
	}
}

// TestRecordCheckCreated_UsesTriggerKind はトリガー文字列から割合を除いた種別でラベル付けされることを検証する。
func TestRecordCheckCreated_UsesTriggerKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCheckCreated("Watched (100%)")
	c.RecordCheckCreated("Watched (25%)")
	c.RecordCheckCreated("Automatic (70%)")
	c.RecordCheckCreated("Low Activity")

	got := counterByLabel(gatherFamily(t, reg, "blossom_checks_created_total"), "trigger")
	if got["Watched"] != 2 {
		t.Errorf("Watched = %v, want 2", got["Watched"])
	}
	if got["Automatic"] != 1 {
		t.Errorf("Automatic = %v, want 1", got["Automatic"])
	}
	if got["Low Activity"] != 1 {
		t.Errorf("Low Activity = %v, want 1", got["Low Activity"])
	}
}

// TestRecordSlackRequest_TwoLabels はkindとresultの組み合わせで集計されることを検証する。
func TestRecordSlackRequest_TwoLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSlackRequest("block_action", "ok")
	c.RecordSlackRequest("command", "invalid_signature")

	mf := gatherFamily(t, reg, "blossom_slack_requests_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
}

// TestRecordWorker_Counters はワーカーのタスク結果とpanic数が記録されることを検証する。
func TestRecordWorker_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWorkerTask("ok")
	c.RecordWorkerTask("panic")
	c.RecordWorkerPanic()

	got := counterByLabel(gatherFamily(t, reg, "blossom_worker_tasks_total"), "result")
	if got["ok"] != 1 || got["panic"] != 1 {
		t.Errorf("worker tasks = %v", got)
	}
	panics := gatherFamily(t, reg, "blossom_worker_panics_total").GetMetric()[0].GetCounter().GetValue()
	if panics != 1 {
		t.Errorf("worker_panics_total = %v, want 1", panics)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(201)
	c.RecordHTTPStatus(201)
	c.RecordHTTPStatus(423)

	got := counterByLabel(gatherFamily(t, reg, "blossom_http_status_total"), "status_code")
	if got["201"] != 2 || got["423"] != 1 {
		t.Errorf("http_status_total = %v, want 201=2 423=1", got)
	}
}

// TestRecordOCRLatency_ObservesHistogram はOCRレイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordOCRLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOCRLatency(100 * time.Millisecond)
	c.RecordOCRLatency(2 * time.Second)

	h := gatherFamily(t, reg, "blossom_ocr_latency_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestRecordSubmissionsIngested_AddsCount は取り込み数が加算されることを検証する。
func TestRecordSubmissionsIngested_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSubmissionsIngested(3)
	c.RecordSubmissionsIngested(0)

	val := gatherFamily(t, reg, "blossom_submissions_ingested_total").GetMetric()[0].GetCounter().GetValue()
	if val != 3 {
		t.Errorf("submissions_ingested_total = %v, want 3", val)
	}
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
