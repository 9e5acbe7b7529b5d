package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/theimaginaryfoundation/redline-o-bot/redline"
	"github.com/theimaginaryfoundation/redline-o-bot/redline/fileutils"
	"github.com/theimaginaryfoundation/redline-o-bot/redline/service"
	"github.com/theimaginaryfoundation/redline-o-bot/redline/settings"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout, os.Stderr); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "edit-worker: %s (kind=%s)\n", err.Error(), redline.Classify(err))
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Path to a .toml, .json or .yaml config file (optional)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite job database (overrides storage.db_path)")
	fs.StringVar(&cfg.DocumentsDir, "docs", cfg.DocumentsDir, "Document store directory (overrides storage.documents_dir)")
	fs.StringVar(&cfg.Oracle, "oracle", cfg.Oracle, "Edit oracle: rules|openai (overrides oracle.kind)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "OpenAI model for the openai oracle (e.g. gpt-5-mini)")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")

	fs.StringVar(&cfg.JobID, "job", cfg.JobID, "Run a single job by id and exit")
	fs.BoolVar(&cfg.Poll, "poll", cfg.Poll, "Keep polling for pending jobs until interrupted")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Concurrent jobs (0 = worker.concurrency)")
	fs.IntVar(&cfg.BatchLimit, "batch", cfg.BatchLimit, "Pending jobs claimed per pass (0 = worker.batch_limit)")
	fs.DurationVar(&cfg.JobTimeout, "job-timeout", cfg.JobTimeout, "Per-job deadline (0 = worker.job_timeout_seconds)")

	fs.BoolVar(&cfg.Stuck, "stuck", cfg.Stuck, "List jobs stuck in processing longer than worker.stuck_after_minutes")
	fs.BoolVar(&cfg.ForceFailStuck, "force-fail-stuck", cfg.ForceFailStuck, "With -stuck: mark the stuck jobs failed")
	fs.BoolVar(&cfg.Status, "status", cfg.Status, "Print job counts per status and exit")
	fs.BoolVar(&cfg.Cleanup, "cleanup", cfg.Cleanup, "Delete finished jobs older than worker.cleanup_after_days")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExample:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/edit-worker -poll -concurrency 4")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg Config, stdout, stderr io.Writer) error {
	sc, err := cfg.loadSettings()
	if err != nil {
		return err
	}
	logger, err := settings.NewLogger(sc.Logging, stderr, "edit-worker")
	if err != nil {
		return err
	}
	svc, err := service.Open(sc, logger, service.Options{})
	if err != nil {
		return err
	}
	defer svc.Close()

	switch {
	case cfg.JobID != "":
		jctx := ctx
		if d := sc.JobTimeout(); d > 0 {
			var cancel context.CancelFunc
			jctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		job, err := svc.Pipeline.Run(jctx, cfg.JobID)
		if err != nil {
			return err
		}
		printJob(stdout, job)
		return nil

	case cfg.Stuck:
		if cfg.ForceFailStuck {
			jobs, err := svc.ReapStuck(ctx, sc.StuckAfter())
			if err != nil {
				return err
			}
			for _, j := range jobs {
				printJob(stdout, j)
			}
			fmt.Fprintf(stdout, "stuck_failed=%d\n", len(jobs))
			return nil
		}
		jobs, err := svc.Pipeline.FindStuck(ctx, sc.StuckAfter())
		if err != nil {
			return err
		}
		for _, j := range jobs {
			printJob(stdout, j)
		}
		fmt.Fprintf(stdout, "stuck=%d\n", len(jobs))
		return nil

	case cfg.Status:
		counts, err := svc.Jobs.CountByStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "pending=%d processing=%d completed=%d failed=%d\n",
			counts[redline.StatusPending], counts[redline.StatusProcessing], counts[redline.StatusCompleted], counts[redline.StatusFailed])
		return nil

	case cfg.Cleanup:
		n, err := svc.Cleanup(ctx, sc.CleanupAfter())
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "jobs_deleted=%d\n", n)
		return nil
	}

	poll := sc.PollInterval()
	if poll <= 0 {
		poll = time.Second
	}
	for {
		res, err := svc.RunPending(ctx, sc.Worker.BatchLimit, sc.Worker.Concurrency, sc.JobTimeout())
		if err != nil {
			return err
		}
		if len(res.Jobs) > 0 || len(res.Errors) > 0 || !cfg.Poll {
			fmt.Fprintf(stdout, "jobs_run=%d completed=%d failed=%d errors=%d\n", len(res.Jobs), res.Completed, res.Failed, len(res.Errors))
		}
		if !cfg.Poll {
			if len(res.Errors) > 0 {
				return errors.Join(res.Errors...)
			}
			return nil
		}
		if len(res.Jobs) >= sc.Worker.BatchLimit {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func printJob(w io.Writer, j redline.Job) {
	fmt.Fprintf(w, "job_id=%s status=%s document_ref=%s", j.ID, j.Status, j.DocumentRef)
	if j.Message != "" {
		fmt.Fprintf(w, " message=%s", fileutils.OneLine(j.Message))
	}
	if j.Error != "" {
		fmt.Fprintf(w, " error=%s", fileutils.OneLine(j.Error))
	}
	fmt.Fprintln(w)
}
