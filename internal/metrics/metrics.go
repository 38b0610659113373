// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 証明書取得結果のラベル値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// レジストリ、スキャンワーカー、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordDomainAdded()
	RecordDomainsRemoved(count int)
	RecordCertificateFetch(result string, duration time.Duration)
	RecordStoreError(operation string)
	SetTrackedDomains(count int)
	SetRemainingDays(domain string, days int, known bool)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	domainsAdded   prometheus.Counter
	domainsRemoved prometheus.Counter
	certFetch      *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	storeErrors    *prometheus.CounterVec
	trackedDomains prometheus.Gauge
	remainingDays  *prometheus.GaugeVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		domainsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certman_domains_added_total",
			Help: "レジストリに追加されたドメインの合計数",
		}),
		domainsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certman_domains_removed_total",
			Help: "レジストリから削除されたレコードの合計数",
		}),
		certFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certman_certificate_fetch_total",
			Help: "結果別の証明書取得回数",
		}, []string{"result"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "certman_certificate_fetch_latency_seconds",
			Help:    "証明書取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certman_store_errors_total",
			Help: "操作別の永続化媒体エラー数",
		}, []string{"operation"}),
		trackedDomains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "certman_tracked_domains",
			Help: "レジストリに登録されているレコード数",
		}),
		remainingDays: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certman_certificate_remaining_days",
			Help: "ドメイン別の証明書失効までの残日数",
		}, []string{"domain"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.domainsAdded,
		c.domainsRemoved,
		c.certFetch,
		c.fetchLatency,
		c.storeErrors,
		c.trackedDomains,
		c.remainingDays,
		c.httpStatus,
	)

	return c
}

// RecordDomainAdded はドメイン追加を記録する。
func (c *Collector) RecordDomainAdded() {
	c.domainsAdded.Inc()
}

// RecordDomainsRemoved は削除されたレコード数を記録する。
func (c *Collector) RecordDomainsRemoved(count int) {
	c.domainsRemoved.Add(float64(count))
}

// RecordCertificateFetch は証明書取得の結果とレイテンシを記録する。
func (c *Collector) RecordCertificateFetch(result string, duration time.Duration) {
	c.certFetch.WithLabelValues(result).Inc()
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordStoreError は永続化媒体のエラーを記録する。
func (c *Collector) RecordStoreError(operation string) {
	c.storeErrors.WithLabelValues(operation).Inc()
}

// SetTrackedDomains は登録レコード数を設定する。
func (c *Collector) SetTrackedDomains(count int) {
	c.trackedDomains.Set(float64(count))
}

// SetRemainingDays はドメインの残日数を設定する。
// 残日数が不明な場合は系列を削除する。
func (c *Collector) SetRemainingDays(domain string, days int, known bool) {
	if !known {
		c.remainingDays.DeleteLabelValues(domain)
		return
	}
	c.remainingDays.WithLabelValues(domain).Set(float64(days))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
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

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordDomainAdded()                           {}
func (Nop) RecordDomainsRemoved(int)                     {}
func (Nop) RecordCertificateFetch(string, time.Duration) {}
func (Nop) RecordStoreError(string)                      {}
func (Nop) SetTrackedDomains(int)                        {}
func (Nop) SetRemainingDays(string, int, bool)           {}
func (Nop) RecordHTTPStatus(int)                         {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
