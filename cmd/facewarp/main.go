// Command facewarp applies one operation to local image files and writes the
// results below an output directory.
//
//	facewarp -op crop -x 0 -y 0 -width 64 -height 64 -out ./out a.png b.jpg
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dunamismax/facewarp/internal/codec"
	"github.com/dunamismax/facewarp/internal/config"
	"github.com/dunamismax/facewarp/internal/detect"
	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/dunamismax/facewarp/internal/id"
	"github.com/dunamismax/facewarp/internal/logging"
	"github.com/dunamismax/facewarp/internal/pipeline"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

func main() {
	fields := map[string]*string{}
	op := flag.String("op", "", "operation: invert, distort, trim, rotate, crop, detect or detect_bbox")
	outDir := flag.String("out", "facewarp-out", "output directory")
	for _, name := range []string{"angle", "x", "y", "width", "height", "max_offset", "threshold", "format"} {
		fields[name] = flag.String(name, "", name+" parameter")
	}
	flag.Parse()

	if err := run(*op, *outDir, fields, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "facewarp:", err)
		os.Exit(1)
	}
}

func run(kind, outDir string, fields map[string]*string, files []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, NoColors: cfg.Log.NoColors, Component: "cli"})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return pipeline.ErrNoItems
	}

	operation, err := domain.ParseOperation(domain.OperationKind(kind), func(name string) string {
		if v, ok := fields[name]; ok {
			return *v
		}
		return ""
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := codec.Startup(); err != nil {
		return err
	}
	defer codec.Shutdown()

	var detector pipeline.Detector
	if operation.Kind == domain.OpDetect || operation.Kind == domain.OpDetectBBox {
		d, err := detect.Start(ctx, detect.RuntimeConfig{
			Backend: cfg.Detector.Backend,
			URL:     cfg.Detector.URL,
			Timeout: cfg.Detector.Timeout,
		}, detect.Options{MinConfidence: float32(cfg.Detector.MinConfidence), Logger: logger})
		if err != nil {
			return err
		}
		defer d.Close()
		detector = d
	}

	processor, err := pipeline.FromConfig(cfg.Pipeline, cfg.Detector, detector, logger)
	if err != nil {
		return err
	}

	job := domain.Job{ID: id.New(), Operation: operation}
	for _, file := range files {
		job.Items = append(job.Items, domain.JobItem{Name: filepath.Base(file), ObjectKey: file})
	}

	result, err := processor.RunJob(ctx, job, pipeline.LocalFileFetcher{}, pipeline.LocalFileEmitter{OutputDir: outDir})
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"items":  len(result.Outputs),
		"failed": result.Failed,
	}).Info("done")

	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result.Outputs)
}
