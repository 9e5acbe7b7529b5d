package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/theimaginaryfoundation/redline-o-bot/redline"
)

type runner interface {
	Run(ctx context.Context, jobID string) (redline.Job, error)
}

func runJobs(ctx context.Context, r runner, logger *slog.Logger, jobs []redline.Job, concurrency int, jobTimeout time.Duration) RunResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	var (
		mu  sync.Mutex
		res RunResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			jctx := gctx
			if jobTimeout > 0 {
				var cancel context.CancelFunc
				jctx, cancel = context.WithTimeout(gctx, jobTimeout)
				defer cancel()
			}
			out, err := r.Run(jctx, j.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, redline.ErrInvalidTransition):
				logger.Debug("job claimed elsewhere", "job_id", j.ID)
				return nil
			case err != nil:
				logger.Error("run job", "job_id", j.ID, "error", err)
				res.Errors = append(res.Errors, err)
				return nil
			}
			res.Jobs = append(res.Jobs, out)
			switch out.Status {
			case redline.StatusCompleted:
				res.Completed++
			case redline.StatusFailed:
				res.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}
