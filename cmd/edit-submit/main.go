package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

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

	if err := run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "edit-submit: %s (kind=%s)\n", err.Error(), redline.Classify(err))
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Path to a .toml, .json or .yaml config file (optional)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite job database (overrides storage.db_path)")
	fs.StringVar(&cfg.DocumentsDir, "docs", cfg.DocumentsDir, "Document store directory (overrides storage.documents_dir)")
	fs.StringVar(&cfg.DocumentRef, "doc", cfg.DocumentRef, "Document reference to edit")
	fs.StringVar(&cfg.Instruction, "instruction", cfg.Instruction, "Natural-language edit instruction")
	fs.StringVar(&cfg.ImportPath, "import", cfg.ImportPath, "Plain-text file to import as a new document under -doc before submitting (one paragraph per line)")
	fs.BoolVar(&cfg.Run, "run", cfg.Run, "Process the job in this process instead of leaving it for edit-worker")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExample:")
		fmt.Fprintln(fs.Output(), `  go run ./cmd/edit-submit -doc employment -import agreement.txt -instruction "Raise the salary to $150,000" -run`)
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.ImportPath != "" {
		cfg.ImportPath = filepath.Clean(cfg.ImportPath)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg Config, stdout, stderr io.Writer) error {
	sc, err := cfg.loadSettings()
	if err != nil {
		return err
	}
	logger, err := settings.NewLogger(sc.Logging, stderr, "edit-submit")
	if err != nil {
		return err
	}
	svc, err := service.Open(sc, logger, service.Options{})
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.ImportPath != "" {
		f, err := os.Open(cfg.ImportPath)
		if err != nil {
			return fmt.Errorf("open import file: %w", err)
		}
		snap, err := svc.Documents.ImportText(ctx, cfg.DocumentRef, f)
		f.Close()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "imported document_ref=%s version=%d paragraphs=%d\n", snap.DocumentRef, snap.Version, snap.Len())
	}

	job, err := svc.Pipeline.Submit(ctx, cfg.DocumentRef, cfg.Instruction)
	if err != nil {
		return err
	}
	if cfg.Run {
		job, err = svc.Pipeline.Run(ctx, job.ID)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(stdout, "job_id=%s status=%s document_ref=%s\n", job.ID, job.Status, job.DocumentRef)
	if job.PatchSet != nil {
		fmt.Fprintf(stdout, "patches=%d snapshot_version=%d\n", len(job.PatchSet.Patches), job.PatchSet.SnapshotVersion)
	}
	if job.Message != "" {
		fmt.Fprintf(stdout, "message=%s\n", fileutils.OneLine(job.Message))
	}
	if job.Error != "" {
		fmt.Fprintf(stdout, "error=%s\n", fileutils.OneLine(job.Error))
	}
	return nil
}
