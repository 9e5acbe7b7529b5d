// Package service assembles the storage, oracle and pipeline described by a
// settings.Config.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/theimaginaryfoundation/redline-o-bot/redline"
	"github.com/theimaginaryfoundation/redline-o-bot/redline/docstore"
	"github.com/theimaginaryfoundation/redline-o-bot/redline/jobstore"
	"github.com/theimaginaryfoundation/redline-o-bot/redline/provider"
	"github.com/theimaginaryfoundation/redline-o-bot/redline/settings"
)

type Service struct {
	Config    *settings.Config
	Logger    *slog.Logger
	Documents *docstore.Store
	Jobs      *jobstore.Store
	Oracle    redline.EditOracle
	Pipeline  *redline.Pipeline
}

// Options overrides pieces of the assembled service. Zero fields keep the
// configured behavior.
type Options struct {
	Oracle redline.EditOracle
	Now    func() time.Time
}

// Open validates cfg and opens everything it names. The caller must Close
// the returned service.
func Open(cfg *settings.Config, logger *slog.Logger, opts Options) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("service.Open: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	docs, err := docstore.Open(cfg.Storage.DocumentsDir)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	oracle := opts.Oracle
	if oracle == nil {
		po := cfg.ProviderOptions()
		po.Logger = logger.With("component", "oracle")
		oracle, err = provider.New(po)
		if err != nil {
			return nil, err
		}
	}

	jobs, err := jobstore.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	applicator := redline.NewApplicator()
	if opts.Now != nil {
		applicator.Now = opts.Now
	}

	return &Service{
		Config:    cfg,
		Logger:    logger,
		Documents: docs,
		Jobs:      jobs,
		Oracle:    oracle,
		Pipeline: &redline.Pipeline{
			Jobs:          jobs,
			Documents:     docs,
			Oracle:        oracle,
			Builder:       redline.NewPatchBuilder(cfg.DiffEngine()),
			Applicator:    applicator,
			Logger:        logger.With("component", "pipeline"),
			OracleTimeout: cfg.OracleTimeout(),
			Now:           opts.Now,
		},
	}, nil
}

func (s *Service) Close() error {
	if s == nil || s.Jobs == nil {
		return nil
	}
	return s.Jobs.Close()
}

// RunResult summarizes one RunPending pass.
type RunResult struct {
	Jobs      []redline.Job
	Completed int
	Failed    int
	Errors    []error
}

// RunPending runs up to limit pending jobs, at most concurrency at a time.
// Each job gets its own jobTimeout. Jobs claimed by another worker in the
// meantime are skipped silently.
func (s *Service) RunPending(ctx context.Context, limit, concurrency int, jobTimeout time.Duration) (RunResult, error) {
	pending, err := s.Jobs.ListPending(ctx, limit)
	if err != nil {
		return RunResult{}, err
	}
	return runJobs(ctx, s.Pipeline, s.Logger, pending, concurrency, jobTimeout), nil
}

// ReapStuck force-fails Processing jobs older than olderThan.
func (s *Service) ReapStuck(ctx context.Context, olderThan time.Duration) ([]redline.Job, error) {
	stuck, err := s.Pipeline.FindStuck(ctx, olderThan)
	if err != nil {
		return nil, err
	}
	var out []redline.Job
	for _, j := range stuck {
		failed, err := s.Pipeline.ForceFail(ctx, j.ID, "")
		if errors.Is(err, redline.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, failed)
	}
	return out, nil
}

// Cleanup removes terminal jobs that finished more than olderThan ago.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now()
	if s.Pipeline.Now != nil {
		now = s.Pipeline.Now()
	}
	return s.Jobs.DeleteTerminalBefore(ctx, now.Add(-olderThan))
}
