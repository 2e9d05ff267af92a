// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordSubmissionTransition(transition string)
	RecordCheckCreated(trigger string)
	RecordCheckTransition(action string)
	RecordSlackRequest(kind, result string)
	RecordWorkerTask(result string)
	RecordWorkerPanic()
	RecordHTTPStatus(statusCode int)
	RecordOCRLatency(duration time.Duration)
	RecordSubmissionsIngested(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	submissionTransitions *prometheus.CounterVec
	checksCreated         *prometheus.CounterVec
	checkTransitions      *prometheus.CounterVec
	slackRequests         *prometheus.CounterVec
	workerTasks           *prometheus.CounterVec
	workerPanics          prometheus.Counter
	httpStatus            *prometheus.CounterVec
	ocrLatency            prometheus.Histogram
	submissionsIngested   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		submissionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blossom_submission_transitions_total",
			Help: "投稿の状態遷移（claim/unclaim/done/remove）の合計数",
		}, []string{"transition"}),
		checksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blossom_checks_created_total",
			Help: "作成された書き起こしチェックの合計数（トリガー種別ごと）",
		}, []string{"trigger"}),
		checkTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blossom_check_transitions_total",
			Help: "書き起こしチェックの状態遷移の合計数",
		}, []string{"action"}),
		slackRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blossom_slack_requests_total",
			Help: "Slackからの受信リクエスト数",
		}, []string{"kind", "result"}),
		workerTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blossom_worker_tasks_total",
			Help: "ワーカーキューで実行されたタスク数",
		}, []string{"result"}),
		workerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blossom_worker_panics_total",
			Help: "ワーカーキューで捕捉したpanicの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blossom_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		ocrLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blossom_ocr_latency_seconds",
			Help:    "OCRリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		submissionsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blossom_submissions_ingested_total",
			Help: "フィードから取り込まれた投稿の合計数",
		}),
	}

	reg.MustRegister(
		c.submissionTransitions,
		c.checksCreated,
		c.checkTransitions,
		c.slackRequests,
		c.workerTasks,
		c.workerPanics,
		c.httpStatus,
		c.ocrLatency,
		c.submissionsIngested,
	)

	return c
}

// RecordSubmissionTransition は投稿の状態遷移を記録する。
func (c *Collector) RecordSubmissionTransition(transition string) {
	c.submissionTransitions.WithLabelValues(transition).Inc()
}

// RecordCheckCreated はチェック作成を記録する。
// トリガー文字列は割合を含むため、種別（Watched/Automatic/...）のみをラベルにする。
func (c *Collector) RecordCheckCreated(trigger string) {
	c.checksCreated.WithLabelValues(triggerKind(trigger)).Inc()
}

// RecordCheckTransition はチェックの状態遷移を記録する。
func (c *Collector) RecordCheckTransition(action string) {
	c.checkTransitions.WithLabelValues(action).Inc()
}

// RecordSlackRequest はSlackからの受信リクエストを記録する。
func (c *Collector) RecordSlackRequest(kind, result string) {
	c.slackRequests.WithLabelValues(kind, result).Inc()
}

// RecordWorkerTask はワーカータスクの実行結果を記録する。
func (c *Collector) RecordWorkerTask(result string) {
	c.workerTasks.WithLabelValues(result).Inc()
}

// RecordWorkerPanic はワーカーで捕捉したpanicを記録する。
func (c *Collector) RecordWorkerPanic() {
	c.workerPanics.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordOCRLatency はOCRリクエストのレイテンシを記録する。
func (c *Collector) RecordOCRLatency(duration time.Duration) {
	c.ocrLatency.Observe(duration.Seconds())
}

// RecordSubmissionsIngested は取り込まれた投稿数を記録する。
func (c *Collector) RecordSubmissionsIngested(count int) {
	c.submissionsIngested.Add(float64(count))
}

func triggerKind(trigger string) string {
	kind, _, _ := strings.Cut(trigger, " (")
	return kind
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成とテストで使用する。
type Nop struct{}

func (Nop) RecordSubmissionTransition(string) {}
func (Nop) RecordCheckCreated(string) {}
func (Nop) RecordCheckTransition(string) {}
func (Nop) RecordSlackRequest(string, string) {}
func (Nop) RecordWorkerTask(string) {}
func (Nop) RecordWorkerPanic() {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordOCRLatency(time.Duration) {}
func (Nop) RecordSubmissionsIngested(int) {}

var _ MetricsCollector = Nop{}
