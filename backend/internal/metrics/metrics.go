// Package metrics 暴露文档编辑相关的 prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "piecetable"

// Metrics 持有独立的 registry，多次创建不会发生 collector 重复注册
type Metrics struct {
	registry *prometheus.Registry

	edits      *prometheus.CounterVec
	editErrors *prometheus.CounterVec
	pieces     prometheus.Histogram
	requests   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_total",
			Help:      "Applied document edits by kind.",
		}, []string{"kind"}),
		editErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edit_errors_total",
			Help:      "Rejected document edits by kind.",
		}, []string{"kind"}),
		pieces: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pieces_per_document",
			Help:      "Piece count of a document observed after each edit.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(m.edits, m.editErrors, m.pieces, m.requests)
	return m
}

func (m *Metrics) ObserveEdit(kind string, pieces int) {
	m.edits.WithLabelValues(kind).Inc()
	m.pieces.Observe(float64(pieces))
}

func (m *Metrics) ObserveEditError(kind string) {
	m.editErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveRequest(route, code string) {
	m.requests.WithLabelValues(route, code).Inc()
}

// Handler 返回 /metrics 抓取端点
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
