package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the metrics of SGEMM runs in its own registry so a run
// can be exported as a textfile for node_exporter.
type Recorder struct {
	Registry *prometheus.Registry

	KernelDuration prometheus.Histogram
	KernelGFLOPS   prometheus.Gauge
	StageDuration  *prometheus.HistogramVec
	MatrixSize     *prometheus.GaugeVec
	Runs           *prometheus.CounterVec

	backend string
}

// NewRecorder registers the run metrics, labelling runs with backend.
func NewRecorder(backend string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		Registry: reg,
		backend:  backend,

		KernelDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "clsgemm_kernel_duration_ms",
			Help:    "Device execution time of the SGEMM kernel in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1ms to ~32s
		}),

		KernelGFLOPS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "clsgemm_kernel_gflops",
			Help: "Throughput of the last SGEMM kernel in GFLOPS",
		}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clsgemm_stage_duration_seconds",
			Help:    "Host wall time of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"stage"}),

		MatrixSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clsgemm_matrix_dimension",
			Help: "Matrix dimensions of the last run",
		}, []string{"dim"}),

		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clsgemm_runs_total",
			Help: "Pipeline runs by backend and outcome",
		}, []string{"backend", "outcome"}),
	}
}

// SetDims records n, k and m.
func (r *Recorder) SetDims(n, k, m int) {
	r.MatrixSize.WithLabelValues("n").Set(float64(n))
	r.MatrixSize.WithLabelValues("k").Set(float64(k))
	r.MatrixSize.WithLabelValues("m").Set(float64(m))
}

func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) ObserveKernel(d time.Duration, flops float64) {
	r.KernelDuration.Observe(float64(d) / float64(time.Millisecond))
	if d > 0 {
		r.KernelGFLOPS.Set(flops / float64(d.Nanoseconds()))
	}
}

// ObserveRun counts a finished run. An empty kind is a success.
func (r *Recorder) ObserveRun(kind string, err error) {
	outcome := kind
	if err == nil || outcome == "" {
		outcome = "success"
	}
	r.Runs.WithLabelValues(r.backend, outcome).Inc()
}

// WriteTextfile writes every metric to path in the Prometheus text format.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.Registry)
}
