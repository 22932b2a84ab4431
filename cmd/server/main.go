package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-attend/internal/api"
	"github.com/technosupport/ts-attend/internal/attendance"
	"github.com/technosupport/ts-attend/internal/config"
	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/extrec"
	"github.com/technosupport/ts-attend/internal/imagestore"
	"github.com/technosupport/ts-attend/internal/labels"
	"github.com/technosupport/ts-attend/internal/metrics"
	"github.com/technosupport/ts-attend/internal/recognition"
	"github.com/technosupport/ts-attend/internal/students"
	"github.com/technosupport/ts-attend/internal/training"
	"github.com/technosupport/ts-attend/internal/vision"
)

func main() {
	// 1. Config
	cfg, err := config.Load("config/default.yaml")
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// 2. DB Init
	db, err := sql.Open("postgres", cfg.DB.ConnString())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Core components
	repo := &data.StudentModel{DB: db}
	store := imagestore.New(cfg.ImageDir)
	studentService := students.NewService(repo, store)
	mapper := labels.NewMapper(repo)
	ledger := attendance.NewLedger(cfg.LedgerPath)
	collector := metrics.NewCollector()
	backend := vision.NewOpenCV()

	adapter := extrec.NewAdapter(cfg.ExternalScript, cfg.ExternalTimeout())
	trainer := training.NewTrainer(repo, backend, adapter,
		cfg.CascadePath, cfg.ModelPath, cfg.NamesPath)

	// 4. Optional attendance event publisher
	var publisher recognition.EventPublisher
	if cfg.Events.NatsURL != "" {
		nc, err := nats.Connect(cfg.Events.NatsURL)
		if err != nil {
			log.Printf("Warning: NATS connect failed (%v), attendance events disabled", err)
		} else {
			defer nc.Close()
			publisher = recognition.NewNATSPublisher(nc, cfg.Events.NatsSubject, cfg.Events.RetryMax)
			log.Printf("Attendance events on %q via %s", cfg.Events.NatsSubject, cfg.Events.NatsURL)
		}
	}

	// 5. Recognition lifecycle
	watcher := recognition.NewModelWatcher(cfg.ModelPath)
	watcher.Start(ctx)

	controller := recognition.NewController(backend, mapper, ledger, publisher, collector, watcher,
		recognition.WorkerConfig{
			CascadePath: cfg.CascadePath,
			ModelPath:   cfg.ModelPath,
			Device:      cfg.CameraDevice,
			Threshold:   cfg.ConfidenceThreshold,
		})
	images := recognition.NewImageService(backend, mapper, adapter,
		cfg.CascadePath, cfg.ModelPath, cfg.ConfidenceThreshold)

	// 6. HTTP transport
	router := api.NewRouter(api.Deps{
		Students:    api.NewStudentHandler(studentService),
		Training:    api.NewTrainingHandler(trainer, collector),
		Recognition: api.NewRecognitionHandler(controller, images),
		Attendance:  api.NewAttendanceHandler(ledger),
		Metrics:     collector.Handler(),
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Attendance service listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 7. Shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down...")

	if _, err := controller.Stop(); err != nil {
		log.Printf("Recognition stop: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
}
