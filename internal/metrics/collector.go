// Package metrics exposes recognition pipeline counters on a private
// Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates counters for the recognition pipeline and the
// attendance ledger. Counters are incremented inline by the worker; there is
// no scrape loop beyond the registry handler.
type Collector struct {
	registry *prometheus.Registry

	framesProcessed prometheus.Counter
	facesDetected   prometheus.Counter
	facesRecognized prometheus.Counter
	facesUnknown    prometheus.Counter
	marksWritten    prometheus.Counter
	ledgerErrors    prometheus.Counter
	trainingRuns    *prometheus.CounterVec
	running         prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{registry: reg}

	c.framesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attend_frames_processed_total",
		Help: "Camera frames pulled through the recognition loop",
	})
	reg.MustRegister(c.framesProcessed)

	c.facesDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attend_faces_detected_total",
		Help: "Face rectangles reported by the detector",
	})
	reg.MustRegister(c.facesDetected)

	c.facesRecognized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attend_faces_recognized_total",
		Help: "Faces that passed the confidence gate with a known label",
	})
	reg.MustRegister(c.facesRecognized)

	c.facesUnknown = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attend_faces_unknown_total",
		Help: "Faces rejected by the confidence gate or unmapped labels",
	})
	reg.MustRegister(c.facesUnknown)

	c.marksWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attend_marks_written_total",
		Help: "Attendance rows appended to the ledger",
	})
	reg.MustRegister(c.marksWritten)

	c.ledgerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attend_ledger_errors_total",
		Help: "Failed ledger writes",
	})
	reg.MustRegister(c.ledgerErrors)

	c.trainingRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attend_training_runs_total",
		Help: "Training runs by implementation and outcome",
	}, []string{"implementation", "outcome"})
	reg.MustRegister(c.trainingRuns)

	c.running = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "attend_recognition_running",
		Help: "1 while a recognition session is active",
	})
	reg.MustRegister(c.running)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) FrameProcessed() { c.framesProcessed.Inc() }

func (c *Collector) FacesDetected(n int) { c.facesDetected.Add(float64(n)) }

func (c *Collector) FaceRecognized() { c.facesRecognized.Inc() }

func (c *Collector) FaceUnknown() { c.facesUnknown.Inc() }

func (c *Collector) MarkWritten() { c.marksWritten.Inc() }

func (c *Collector) LedgerError() { c.ledgerErrors.Inc() }
func (c *Collector) SessionRunning(on bool) {
	if on {
		c.running.Set(1)
	} else {
		c.running.Set(0)
	}
}

func (c *Collector) TrainingRun(implementation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.trainingRuns.WithLabelValues(implementation, outcome).Inc()
}
