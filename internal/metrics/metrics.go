// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordImportRow(result string)
	RecordImportRun(status string)
	RecordDuplicateScore(score float64)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordNotificationsSent(count int)
	RecordReportSent(frequency string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	importRows     *prometheus.CounterVec
	importRuns     *prometheus.CounterVec
	dupScore       prometheus.Histogram
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	notifications  prometheus.Counter
	reportsSent    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccd_import_rows_total",
			Help: "取り込み行の処理結果別の合計数",
		}, []string{"result"}),
		importRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccd_import_runs_total",
			Help: "取り込み実行のステータス別の合計数",
		}, []string{"status"}),
		dupScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ccd_duplicate_score",
			Help:    "重複フラグの類似度スコアの分布",
			Buckets: prometheus.LinearBuckets(0.5, 0.05, 11),
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccd_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ccd_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccd_notifications_sent_total",
			Help: "送信された制限通知の合計数",
		}),
		reportsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccd_reports_sent_total",
			Help: "配信頻度別のレポート送信数",
		}, []string{"frequency"}),
	}

	reg.MustRegister(
		c.importRows,
		c.importRuns,
		c.dupScore,
		c.httpStatus,
		c.requestLatency,
		c.notifications,
		c.reportsSent,
	)

	return c
}

// RecordImportRow は取り込み行の処理結果を記録する。
// resultはcreated/updated/flagged/rejectedのいずれか。
func (c *Collector) RecordImportRow(result string) {
	c.importRows.WithLabelValues(result).Inc()
}

// RecordImportRun は取り込み実行の完了を記録する。
func (c *Collector) RecordImportRun(status string) {
	c.importRuns.WithLabelValues(status).Inc()
}

// RecordDuplicateScore は重複フラグの類似度スコアを記録する。
func (c *Collector) RecordDuplicateScore(score float64) {
	c.dupScore.Observe(score)
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordNotificationsSent は送信された制限通知数を記録する。
func (c *Collector) RecordNotificationsSent(count int) {
	c.notifications.Add(float64(count))
}

// RecordReportSent はレポート送信を記録する。
func (c *Collector) RecordReportSent(frequency string) {
	c.reportsSent.WithLabelValues(frequency).Inc()
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
