// Package metrics は索引作成と問い合わせの Prometheus メトリクスを提供する
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics はこのプロセスのメトリクス一式
// グローバルレジストリは使わず、プロセスごとの Registry に登録する
type Metrics struct {
	registry *prometheus.Registry

	IndexRuns         prometheus.Counter
	ChunksIndexed     prometheus.Counter
	EmbeddingFailures prometheus.Counter
	IndexDuration     prometheus.Histogram

	Queries       *prometheus.CounterVec
	QueryDuration prometheus.Histogram
}

// New は Metrics を作成する
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		IndexRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_index_runs_total",
			Help: "Total number of completed index builds",
		}),
		ChunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_chunks_indexed_total",
			Help: "Total number of chunks written to a store",
		}),
		EmbeddingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_embedding_failures_total",
			Help: "Total number of chunks stored with a placeholder vector",
		}),
		IndexDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_index_duration_seconds",
			Help:    "Duration of index builds in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s 〜 約 34 分
		}),
		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_queries_total",
			Help: "Total number of questions by outcome",
		}, []string{"outcome"}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_query_duration_seconds",
			Help:    "End-to-end duration of questions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms 〜 約 25 秒
		}),
	}
}

// Registry は登録先のレジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveIndex は 1 回の索引作成を記録する
func (m *Metrics) ObserveIndex(chunks, failures int, elapsed time.Duration) {
	m.IndexRuns.Inc()
	m.ChunksIndexed.Add(float64(chunks))
	m.EmbeddingFailures.Add(float64(failures))
	m.IndexDuration.Observe(elapsed.Seconds())
}

// ObserveQuery は 1 回の問い合わせを結果種別ごとに記録する
func (m *Metrics) ObserveQuery(outcome string, elapsed time.Duration) {
	m.Queries.WithLabelValues(outcome).Inc()
	m.QueryDuration.Observe(elapsed.Seconds())
}

// WriteTextfile は node_exporter の textfile collector 形式でメトリクスを書き出す
// path が空の場合は何もしない
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
