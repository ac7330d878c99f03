package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory gauges (C1/C2/C4/C5).
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polis_containers_total",
			Help: "Total number of containers by status",
		},
		[]string{"status"},
	)

	ImagesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polis_images_total",
			Help: "Total number of images in the local store",
		},
	)

	VolumesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polis_volumes_total",
			Help: "Total number of volumes",
		},
	)

	DeploymentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polis_deployments_total",
			Help: "Total number of deployments by status",
		},
		[]string{"status"},
	)

	DeploymentReplicasTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polis_deployment_replicas_total",
			Help: "Sum of current_replicas across every deployment",
		},
	)

	// Container operation latency (C1).
	ContainerCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polis_container_create_duration_seconds",
			Help:    "Time taken to create a container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polis_container_start_duration_seconds",
			Help:    "Time taken to start a container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polis_container_stop_duration_seconds",
			Help:    "Time taken to stop a container",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Image pull latency (C2).
	ImagePullDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polis_image_pull_duration_seconds",
			Help:    "Time taken to pull and materialize an image",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Volume operation latency (C4).
	VolumeMountDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polis_volume_mount_duration_seconds",
			Help:    "Time taken to mount a volume",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Orchestrator convergence and auto-scaling (C5).
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polis_reconciliation_duration_seconds",
			Help:    "Time taken for one convergence cycle across all deployments",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polis_reconciliation_cycles_total",
			Help: "Total number of convergence cycles completed",
		},
	)

	ScalingEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polis_scaling_evaluations_total",
			Help: "Total auto-scaling evaluations by action type",
		},
		[]string{"action"},
	)

	ScalingBlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polis_scaling_blocked_total",
			Help: "Total auto-scaling decisions blocked by a cooldown",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ContainersTotal,
		ImagesTotal,
		VolumesTotal,
		DeploymentsTotal,
		DeploymentReplicasTotal,
		ContainerCreateDuration,
		ContainerStartDuration,
		ContainerStopDuration,
		ImagePullDuration,
		VolumeMountDuration,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ScalingEvaluationsTotal,
		ScalingBlockedTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
