package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter publishes Collector snapshots as Prometheus gauges,
// one gauge vector per statistic, labeled by actor type. It implements
// prometheus.Collector itself so it can be registered directly with any
// prometheus.Registerer (the daemon uses a dedicated registry), matching the
// teacher's habit of registering self-contained collectors rather than
// scattering global metric variables.
type PrometheusExporter struct {
	namespace string

	processingAvg *prometheus.GaugeVec
	processingMin *prometheus.GaugeVec
	processingMax *prometheus.GaugeVec
	processingP95 *prometheus.GaugeVec
	processingP99 *prometheus.GaugeVec

	queueDepthAvg *prometheus.GaugeVec
	queueDepthMax *prometheus.GaugeVec
}

// NewPrometheusExporter constructs the gauge vectors under namespace
// (e.g. "nimbus"). Register it with a Collector via AddExporter(exp.Export)
// and with a prometheus.Registerer via MustRegister.
func NewPrometheusExporter(namespace string) *PrometheusExporter {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "actor",
			Name:      name,
			Help:      help,
		}, []string{"actor_type"})
	}

	return &PrometheusExporter{
		namespace:     namespace,
		processingAvg: gauge("processing_time_avg_us", "Average actor message processing time, in microseconds."),
		processingMin: gauge("processing_time_min_us", "Minimum actor message processing time, in microseconds."),
		processingMax: gauge("processing_time_max_us", "Maximum actor message processing time, in microseconds."),
		processingP95: gauge("processing_time_p95_us", "95th percentile actor message processing time, in microseconds."),
		processingP99: gauge("processing_time_p99_us", "99th percentile actor message processing time, in microseconds."),
		queueDepthAvg: gauge("queue_depth_avg", "Average observed mailbox queue depth."),
		queueDepthMax: gauge("queue_depth_max", "Maximum observed mailbox queue depth."),
	}
}

// Export implements ExportFunc: it updates every gauge vector for snap's
// actor type. Wire it in via Collector.AddExporter.
func (e *PrometheusExporter) Export(snap Snapshot) {
	labels := prometheus.Labels{"actor_type": snap.ActorType}

	e.processingAvg.With(labels).Set(snap.Processing.Avg)
	e.processingMin.With(labels).Set(snap.Processing.Min)
	e.processingMax.With(labels).Set(snap.Processing.Max)
	e.processingP95.With(labels).Set(snap.Processing.P95)
	e.processingP99.With(labels).Set(snap.Processing.P99)

	e.queueDepthAvg.With(labels).Set(snap.QueueDepth.Avg)
	e.queueDepthMax.With(labels).Set(snap.QueueDepth.Max)
}

// Describe implements prometheus.Collector.
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	e.processingAvg.Describe(ch)
	e.processingMin.Describe(ch)
	e.processingMax.Describe(ch)
	e.processingP95.Describe(ch)
	e.processingP99.Describe(ch)
	e.queueDepthAvg.Describe(ch)
	e.queueDepthMax.Describe(ch)
}

// Collect implements prometheus.Collector.
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	e.processingAvg.Collect(ch)
	e.processingMin.Collect(ch)
	e.processingMax.Collect(ch)
	e.processingP95.Collect(ch)
	e.processingP99.Collect(ch)
	e.queueDepthAvg.Collect(ch)
	e.queueDepthMax.Collect(ch)
}

var _ prometheus.Collector = (*PrometheusExporter)(nil)
