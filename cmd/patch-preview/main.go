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
	"time"

	"github.com/fatih/color"

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
		fmt.Fprintf(os.Stderr, "patch-preview: %s (kind=%s)\n", err.Error(), redline.Classify(err))
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	cfg.Color = !color.NoColor
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Path to a .toml, .json or .yaml config file (optional)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite job database (overrides storage.db_path)")
	fs.StringVar(&cfg.DocumentsDir, "docs", cfg.DocumentsDir, "Document store directory (overrides storage.documents_dir)")
	fs.StringVar(&cfg.JobID, "job", cfg.JobID, "Completed job whose patch set to preview")
	fs.StringVar(&cfg.DocumentRef, "doc", cfg.DocumentRef, "List the versions and recent jobs of a document")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "Max jobs listed with -doc (0 = store default)")
	fs.StringVar(&cfg.From, "from", cfg.From, "Original text for an ad-hoc diff")
	fs.StringVar(&cfg.To, "to", cfg.To, "Replacement text for an ad-hoc diff")
	fs.StringVar(&cfg.Format, "format", cfg.Format, "Output format: text|inline|json")
	fs.BoolVar(&cfg.Color, "color", cfg.Color, "Colorize text output (defaults to on for terminals)")
	fs.BoolVar(&cfg.Stats, "stats", cfg.Stats, "Print the statistics report after text/inline output")
	fs.BoolVar(&cfg.Pretty, "pretty", cfg.Pretty, "Pretty-print JSON output")
	fs.StringVar(&cfg.Out, "out", cfg.Out, "Also write the patch set JSON to this file")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExamples:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/patch-preview -job <id>")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/patch-preview -doc employment")
		fmt.Fprintln(fs.Output(), `  go run ./cmd/patch-preview -from "Senior Engineer" -to "Principal Architect" -format inline`)
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Out != "" {
		cfg.Out = filepath.Clean(cfg.Out)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg Config, stdout, stderr io.Writer) error {
	sc, err := cfg.loadSettings()
	if err != nil {
		return err
	}

	if cfg.DocumentRef != "" {
		return listDocument(ctx, cfg, sc, stdout, stderr)
	}

	var ps redline.PatchSet
	if cfg.JobID == "" {
		b := redline.NewPatchBuilder(sc.DiffEngine())
		ps = redline.PatchSet{
			Patches:   []redline.ParagraphPatch{b.Build(redline.ParagraphEdit{OriginalText: cfg.From, ReplacementText: cfg.To})},
			CreatedAt: time.Now().UTC(),
		}
	} else {
		logger, err := settings.NewLogger(sc.Logging, stderr, "patch-preview")
		if err != nil {
			return err
		}
		svc, err := service.Open(sc, logger, service.Options{})
		if err != nil {
			return err
		}
		defer svc.Close()
		ps, err = svc.Pipeline.Preview(ctx, cfg.JobID)
		if err != nil {
			return err
		}
	}

	if cfg.Out != "" {
		if err := fileutils.WriteJSONFileAtomic(cfg.Out, ps, cfg.Pretty); err != nil {
			return err
		}
	}
	return render(stdout, cfg, ps)
}

func render(w io.Writer, cfg Config, ps redline.PatchSet) error {
	if cfg.Format == "json" {
		b, err := fileutils.MarshalJSON(ps, cfg.Pretty)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}

	v := redline.NewVisualizer(cfg.Color)
	if len(ps.Patches) == 0 {
		fmt.Fprintln(w, redline.NoChangesMessage)
	}
	for _, p := range ps.Patches {
		if cfg.Format == "inline" {
			fmt.Fprintf(w, "[%d] %s\n", p.ParagraphID, v.Inline(p))
			continue
		}
		fmt.Fprint(w, v.Visualize(p))
	}
	if cfg.Stats {
		fmt.Fprint(w, redline.ComputeStatistics(ps.Patches).Report())
	}
	return nil
}

// documentListing is the -doc -format json payload.
type documentListing struct {
	DocumentRef string        `json:"document_ref"`
	Versions    []int         `json:"versions"`
	Jobs        []redline.Job `json:"jobs"`
}

func listDocument(ctx context.Context, cfg Config, sc *settings.Config, stdout, stderr io.Writer) error {
	logger, err := settings.NewLogger(sc.Logging, stderr, "patch-preview")
	if err != nil {
		return err
	}
	svc, err := service.Open(sc, logger, service.Options{})
	if err != nil {
		return err
	}
	defer svc.Close()

	versions, err := svc.Documents.Versions(cfg.DocumentRef)
	if err != nil {
		return err
	}
	jobs, err := svc.Jobs.ListByDocument(ctx, cfg.DocumentRef, cfg.Limit)
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []redline.Job{}
	}

	if cfg.Format == "json" {
		b, err := fileutils.MarshalJSON(documentListing{DocumentRef: cfg.DocumentRef, Versions: versions, Jobs: jobs}, cfg.Pretty)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(b))
		return err
	}

	fmt.Fprintf(stdout, "document_ref=%s versions=%d latest=%d jobs=%d\n", cfg.DocumentRef, len(versions), versions[len(versions)-1], len(jobs))
	for _, j := range jobs {
		fmt.Fprintf(stdout, "job_id=%s status=%s created_at=%s instruction=%s\n",
			j.ID, j.Status, j.CreatedAt.Format(time.RFC3339), fileutils.OneLine(fileutils.Truncate(j.Instruction, 60)))
	}
	return nil
}
