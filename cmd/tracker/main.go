package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kirillkom/taskchannel/internal/bootstrap"
	"github.com/kirillkom/taskchannel/internal/config"
	"github.com/kirillkom/taskchannel/internal/core/domain"
)

// Usage: tracker task_abc:doc_1:report.pdf task_def:doc_2:scan.pdf
//
// Each argument names a background job to follow on the shared progress
// channel. The process exits once every job reaches a terminal state.
func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: app.Metrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if len(os.Args) < 2 {
		log.Fatalf("usage: %s taskID[:documentID[:fileName]] ...", os.Args[0])
	}

	var wg sync.WaitGroup
	for i, arg := range os.Args[1:] {
		rec, err := parseTaskArg(arg, i+1)
		if err != nil {
			log.Fatalf("bad task argument %q: %v", arg, err)
		}
		out, err := app.Tracker.TrackTask(ctx, rec)
		if err != nil {
			log.Fatalf("track %s: %v", rec.TaskID, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case outcome := <-out:
				if outcome.Success {
					log.Printf("task %s (%s) completed", outcome.TaskID, outcome.FileName)
				} else {
					log.Printf("task %s (%s) failed: %v", outcome.TaskID, outcome.FileName, outcome.Err)
				}
			case <-ctx.Done():
			}
		}()
	}
	wg.Wait()
}

// parseTaskArg builds a record from taskID[:documentID[:fileName]].
// sequence is the 1-based position of the task within the batch.
func parseTaskArg(arg string, sequence int) (domain.TaskRecord, error) {
	parts := strings.SplitN(arg, ":", 3)
	rec := domain.TaskRecord{
		TaskID:        parts[0],
		SequenceIndex: sequence,
		CreatedAt:     time.Now().UTC(),
	}
	if rec.TaskID == "" {
		return domain.TaskRecord{}, domain.WrapError(domain.ErrInvalidInput, "parse task argument", os.ErrInvalid)
	}
	if len(parts) > 1 {
		rec.DocumentID = parts[1]
	}
	if len(parts) > 2 {
		rec.FileName = parts[2]
	}
	return rec, nil
}
