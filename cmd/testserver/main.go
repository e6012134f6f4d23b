// testserver starts a geoservice API server with a stub geometry engine for
// local and E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/seantiz/geoservice/internal/api"
	"github.com/seantiz/geoservice/internal/config"
	"github.com/seantiz/geoservice/internal/output"
	"github.com/seantiz/geoservice/internal/scheduler"
	"github.com/seantiz/geoservice/internal/session"
	"github.com/seantiz/geoservice/internal/store"
	"github.com/seantiz/geoservice/internal/ticket"
	"github.com/seantiz/geoservice/internal/transform"
)

// stubEngine writes a one-line CSV per transform. A filter with WKT "EMPTY"
// yields an empty result and "FAIL" yields a failure.
type stubEngine struct {
	delay time.Duration
}

func (e *stubEngine) write(workDir, name string) (string, error) {
	time.Sleep(e.delay)
	path := filepath.Join(workDir, name+".csv")
	content := fmt.Sprintf("id,geometry\n1,POINT (0 0)\n# produced by %s\n", name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (e *stubEngine) Constructive(_ context.Context, workDir string, op transform.Constructive) (string, error) {
	return e.write(workDir, string(op.Kind))
}

func (e *stubEngine) Filter(_ context.Context, workDir string, op transform.Filter) (string, error) {
	switch op.WKT {
	case "EMPTY":
		time.Sleep(e.delay)
		return "", transform.ErrEmptyResult
	case "FAIL":
		time.Sleep(e.delay)
		return "", errors.New("Geometry not recognized.")
	}
	return e.write(workDir, string(op.Kind))
}

func (e *stubEngine) Join(_ context.Context, workDir string, op transform.Join) (string, error) {
	return e.write(workDir, string(op.Kind))
}

func main() {
	cfg := config.Defaults()
	if v := os.Getenv("GEOSERVICE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	root, err := os.MkdirTemp("", "geoservice-testserver-")
	if err != nil {
		log.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(root)

	inputDir := filepath.Join(root, "input")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		log.Fatalf("failed to create input dir: %v", err)
	}
	sample := "id,lat,lon\n1,37.98,23.72\n2,40.64,22.94\n"
	if err := os.WriteFile(filepath.Join(inputDir, "points.csv"), []byte(sample), 0o644); err != nil {
		log.Fatalf("failed to write sample input: %v", err)
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	sessions := session.NewManager(filepath.Join(root, "work"), logger)
	materializer := output.NewMaterializer(filepath.Join(root, "output"), "http://localhost"+cfg.ListenAddr+"/output")

	sched := scheduler.New(scheduler.Config{QueueCapacity: cfg.QueueCapacity}, scheduler.Deps{
		Store:    db,
		Invoker:  transform.NewInvoker(&stubEngine{delay: 500 * time.Millisecond}, logger),
		Sessions: sessions,
		Output:   materializer,
		Logger:   logger,
	})

	srv := api.NewServer(api.Options{Addr: cfg.ListenAddr, InputDir: inputDir}, api.Deps{
		Store:     db,
		Resolver:  ticket.NewResolver(db),
		Sessions:  sessions,
		Scheduler: sched,
		Output:    materializer,
		Logger:    logger,
	})

	logger.Info("testserver: starting with stub engine", "addr", cfg.ListenAddr, "input_dir", inputDir)
	runErr := srv.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sched.Shutdown(ctx); err != nil {
		logger.Error("job queue not drained", "error", err)
	}
	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}
