// Package recognition runs the live attendance session: one long-lived
// worker pulls frames from the camera, classifies faces and writes marks
// through the ledger. A controller guards the single-session lifecycle.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technosupport/ts-attend/internal/labels"
	"github.com/technosupport/ts-attend/internal/metrics"
	"github.com/technosupport/ts-attend/internal/vision"
)

var (
	ErrModelNotFound  = errors.New("no trained model found, run training first")
	ErrAlreadyRunning = errors.New("recognition session already running")
	ErrNotRunning     = errors.New("no recognition session running")
	ErrStartTimeout   = errors.New("recognition session did not start in time")
	ErrStopTimeout    = errors.New("recognition session did not stop in time")
)

const (
	nullFrameBackoff = 100 * time.Millisecond
	headlessPace     = 33 * time.Millisecond
	windowTitle      = "Attendance"
	markedStatus     = "Present"

	dedupKeys = 4096
	dedupTTL  = 12 * time.Hour
)

// Marker is the ledger surface the worker writes through.
type Marker interface {
	MarkAttendance(name, department, status string) (bool, error)
	MarkedToday() (map[string]struct{}, error)
}

// WorkerConfig carries the per-session tunables.
type WorkerConfig struct {
	CascadePath string
	ModelPath   string
	Device      int
	Threshold   float64
}

type worker struct {
	backend   vision.Backend
	labels    *labels.Mapper
	ledger    Marker
	publisher EventPublisher
	metrics   *metrics.Collector
	cfg       WorkerConfig

	seen    *sightingDedup
	running atomic.Bool

	quit     chan struct{}
	done     chan struct{}
	ready    chan error
	stopOnce sync.Once
}

func newWorker(backend vision.Backend, mapper *labels.Mapper, ledger Marker, publisher EventPublisher, collector *metrics.Collector, cfg WorkerConfig) *worker {
	return &worker{
		backend:   backend,
		labels:    mapper,
		ledger:    ledger,
		publisher: publisher,
		metrics:   collector,
		cfg:       cfg,
		seen:      newSightingDedup(dedupKeys, dedupTTL),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		ready:     make(chan error, 1),
	}
}

func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

// resolveModelPath probes the configured path and the same relative path one
// directory up, both against the process directory and its parent. Covers
// launches from the repo root and from a build subdirectory alike.
func resolveModelPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return path, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	candidates := []string{
		path,
		filepath.Join("..", path),
		filepath.Join(cwd, path),
		filepath.Join(cwd, "..", path),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return filepath.Abs(c)
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrModelNotFound, strings.Join(candidates, ", "))
}

func (w *worker) fail(err error) {
	log.Printf("[Worker] Session failed to start: %v", err)
	w.ready <- err
}

// run executes the full session. The caller observes startup through the
// ready channel and shutdown through the done channel.
func (w *worker) run() {
	defer close(w.done)

	modelPath, err := resolveModelPath(w.cfg.ModelPath)
	if err != nil {
		w.fail(err)
		return
	}

	detector, err := w.backend.NewDetector(w.cfg.CascadePath)
	if err != nil {
		w.fail(err)
		return
	}
	defer detector.Close()

	recognizer, err := w.backend.NewRecognizer()
	if err != nil {
		w.fail(err)
		return
	}
	defer recognizer.Close()
	if err := recognizer.Load(modelPath); err != nil {
		w.fail(err)
		return
	}

	source, err := w.backend.OpenFrameSource(w.cfg.Device)
	if err != nil {
		w.fail(err)
		return
	}
	defer source.Close()

	if err := w.labels.Refresh(context.Background()); err != nil {
		w.fail(fmt.Errorf("refresh label map: %w", err))
		return
	}

	marked, err := w.ledger.MarkedToday()
	if err != nil {
		w.fail(fmt.Errorf("load today's marks: %w", err))
		return
	}
	now := time.Now()
	for name := range marked {
		w.seen.Record(sightingKey(name, now))
	}

	display, err := w.backend.NewDisplay(windowTitle)
	if err != nil {
		log.Printf("[Worker] Display unavailable (%v), running headless", err)
		display = nil
	}
	if display != nil {
		defer display.Close()
	}

	w.running.Store(true)
	defer w.running.Store(false)
	w.metrics.SessionRunning(true)
	defer w.metrics.SessionRunning(false)
	w.ready <- nil
	log.Printf("[Worker] Session running: model=%s device=%d threshold=%.1f known=%d",
		modelPath, w.cfg.Device, w.cfg.Threshold, w.labels.Len())

	for {
		select {
		case <-w.quit:
			log.Printf("[Worker] Stop requested, ending session")
			return
		default:
		}

		frame, err := source.Grab()
		if err != nil {
			if errors.Is(err, vision.ErrEmptyFrame) {
				time.Sleep(nullFrameBackoff)
				continue
			}
			log.Printf("[Worker] Fatal grabber error: %v", err)
			return
		}

		display = w.processFrame(frame, detector, recognizer, display)
	}
}

// processFrame classifies every face in one frame and paints the result.
// Returns the display to use for the next frame; a display the user closed
// comes back nil and the loop continues headless.
func (w *worker) processFrame(frame vision.Image, detector vision.Detector, recognizer vision.Recognizer, display vision.Display) vision.Display {
	defer frame.Close()
	w.metrics.FrameProcessed()

	grey, err := frame.Greyscale()
	if err != nil {
		log.Printf("[Worker] Greyscale conversion failed: %v", err)
		return display
	}
	defer grey.Close()

	rects, err := detector.Detect(grey)
	if err != nil {
		log.Printf("[Worker] Detection failed: %v", err)
		return display
	}
	w.metrics.FacesDetected(len(rects))

	marks := make([]vision.FaceMark, 0, len(rects))
	for _, rect := range rects {
		marks = append(marks, w.classify(grey, rect, recognizer))
	}

	if display == nil {
		time.Sleep(headlessPace)
		return nil
	}
	closed, err := display.Present(frame, marks)
	if err != nil {
		log.Printf("[Worker] Display error: %v", err)
	}
	if closed {
		log.Printf("[Worker] Display closed, continuing headless")
		display.Close()
		return nil
	}
	return display
}

// classify crops one face, predicts its identity and applies the confidence
// gate: the distance must beat the threshold and the label must map to a
// registered subject.
func (w *worker) classify(grey vision.Image, rect image.Rectangle, recognizer vision.Recognizer) vision.FaceMark {
	unknown := vision.FaceMark{Rect: rect, Text: "Unknown", Known: false}

	face, err := grey.Region(rect)
	if err != nil {
		w.metrics.FaceUnknown()
		return unknown
	}
	defer face.Close()

	sample, err := face.Resized(vision.FaceSize, vision.FaceSize)
	if err != nil {
		w.metrics.FaceUnknown()
		return unknown
	}
	defer sample.Close()

	pred, err := recognizer.Predict(sample)
	if err != nil {
		log.Printf("[Worker] Predict failed: %v", err)
		w.metrics.FaceUnknown()
		return unknown
	}

	entry, known := w.labels.Get(pred.Label)
	if pred.Distance >= w.cfg.Threshold || !known {
		w.metrics.FaceUnknown()
		return unknown
	}

	w.metrics.FaceRecognized()
	w.mark(entry)
	return vision.FaceMark{Rect: rect, Text: entry.Name, Known: true}
}

// mark writes attendance for a recognized subject at most once per day per
// session. Failed writes are recorded in the advisory set too so a bad
// ledger does not get hammered every frame.
func (w *worker) mark(entry labels.Entry) {
	if w.seen.Seen(sightingKey(entry.Name, time.Now())) {
		return
	}

	wrote, err := w.ledger.MarkAttendance(entry.Name, entry.Department, markedStatus)
	if err != nil {
		w.metrics.LedgerError()
		log.Printf("[Worker] Attendance write for %s failed: %v", entry.Name, err)
		return
	}
	if !wrote {
		return
	}

	w.metrics.MarkWritten()
	log.Printf("[Worker] Marked %s (%s) present", entry.Name, entry.Department)

	if w.publisher != nil {
		occurred := time.Now()
		event := &AttendanceEvent{
			Name:       entry.Name,
			Department: entry.Department,
			Status:     markedStatus,
			Date:       occurred.Format("2006-01-02"),
			OccurredAt: occurred,
		}
		if err := w.publisher.Publish(event); err != nil {
			log.Printf("[Worker] Event publish failed: %v", err)
		}
	}
}
