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
		fmt.Fprintf(os.Stderr, "patch-apply: %s (kind=%s)\n", err.Error(), redline.Classify(err))
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Path to a .toml, .json or .yaml config file (optional)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite job database (overrides storage.db_path)")
	fs.StringVar(&cfg.DocumentsDir, "docs", cfg.DocumentsDir, "Document store directory (overrides storage.documents_dir)")
	fs.StringVar(&cfg.JobID, "job", cfg.JobID, "Completed job whose patch set to apply")
	fs.StringVar(&cfg.Author, "author", cfg.Author, "Author recorded on tracked changes (overrides apply.author)")
	fs.StringVar(&cfg.ExportPath, "export", cfg.ExportPath, "Copy the new document version to this path")
	fs.BoolVar(&cfg.Overwrite, "overwrite", cfg.Overwrite, "Overwrite an existing -export file")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExample:")
		fmt.Fprintln(fs.Output(), `  go run ./cmd/patch-apply -job <id> -author "Legal Team" -export out/employment.json`)
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.ExportPath != "" {
		cfg.ExportPath = filepath.Clean(cfg.ExportPath)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg Config, stdout, stderr io.Writer) error {
	sc, err := cfg.loadSettings()
	if err != nil {
		return err
	}
	logger, err := settings.NewLogger(sc.Logging, stderr, "patch-apply")
	if err != nil {
		return err
	}
	svc, err := service.Open(sc, logger, service.Options{})
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Pipeline.Apply(ctx, cfg.JobID, sc.Apply.Author)
	var appErr *redline.ApplicationError
	if errors.As(err, &appErr) {
		printFailures(stderr, appErr.Failures)
	}
	if err != nil {
		return err
	}
	printFailures(stderr, res.Failures)

	fmt.Fprintf(stdout, "document_ref=%s version=%d applied=%d failed=%d\n", res.DocumentRef, res.Version, res.Applied, len(res.FailedParagraphIDs))
	if cfg.ExportPath != "" {
		copied, err := svc.Documents.Export(res.DocumentRef, res.Version, cfg.ExportPath, cfg.Overwrite)
		if err != nil {
			return err
		}
		if copied {
			fmt.Fprintln(stdout, "exported:", cfg.ExportPath)
		} else {
			fmt.Fprintln(stdout, "skip export: file exists:", cfg.ExportPath)
		}
	}
	return nil
}

func printFailures(w io.Writer, failures []redline.ApplyFailure) {
	for _, f := range failures {
		fmt.Fprintf(w, "failed paragraph=%d reason=%s\n", f.ParagraphID, fileutils.OneLine(f.Reason))
	}
}
