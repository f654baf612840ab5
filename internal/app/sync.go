package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/baseline/internal/adapters/remote"
	"github.com/okian/baseline/internal/adapters/repository"
	"github.com/okian/baseline/internal/domain/model"
	"github.com/okian/baseline/internal/domain/population"
	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/internal/domain/scoring"
	"github.com/okian/baseline/pkg/logger"
)

const sweepBatch = 500

// syncer runs upload and poll jobs for a Context.
type syncer struct {
	c *Context
}

// Handle implements worker.Handler.
func (s *syncer) Handle(ctx context.Context, j model.Job) error {
	switch j.Kind {
	case model.JobUpload:
		return s.c.upload(ctx, j.ResultID)
	case model.JobPoll:
		return s.c.poll(ctx)
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
}

// RequestSync schedules a poll for distribution and score updates.
func (c *Context) RequestSync(ctx context.Context) bool {
	return c.queue.Enqueue(ctx, model.Job{Kind: model.JobPoll, TS: c.opts.now()})
}

func (c *Context) enqueueUpload(ctx context.Context, id result.ID) bool {
	ok := c.queue.Enqueue(ctx, model.Job{Kind: model.JobUpload, ResultID: id, TS: c.opts.now()})
	if !ok {
		c.logger.Warn(ctx, "upload not queued; the sweeper will retry", logger.Stringer("result_id", id))
	}
	return ok
}

// background re-queues unsynced results and schedules polls until ctx ends.
func (c *Context) background(ctx context.Context) {
	c.resumeRecompute(ctx)
	c.sweep(ctx)
	c.RequestSync(ctx)

	var sweepC, pollC <-chan time.Time
	if c.opts.sweepInterval > 0 {
		t := time.NewTicker(c.opts.sweepInterval)
		defer t.Stop()
		sweepC = t.C
	}
	if c.opts.syncInterval > 0 {
		t := time.NewTicker(c.opts.syncInterval)
		defer t.Stop()
		pollC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepC:
			c.sweep(ctx)
		case <-pollC:
			c.RequestSync(ctx)
		}
	}
}

// sweep queues uploads for results the server has not acknowledged.
func (c *Context) sweep(ctx context.Context) {
	ids, err := c.repo.Unsynced(ctx, sweepBatch)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error(ctx, "listing unsynced results failed", logger.Error(err))
		}
		return
	}
	queued := 0
	for _, id := range ids {
		if !c.enqueueUpload(ctx, id) {
			break
		}
		queued++
	}
	if queued > 0 {
		c.logger.Debug(ctx, "unsynced results queued", logger.Int("count", queued))
	}
}

// ensureInstall authorizes this installation once.
func (c *Context) ensureInstall(ctx context.Context) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	if _, ok, err := c.repo.InstallID(ctx); err != nil || ok {
		return err
	}
	id, err := c.client.Authorize(ctx, c.opts.studyID)
	if err != nil {
		return fmt.Errorf("authorize install: %w", err)
	}
	if err := c.repo.SetInstallID(ctx, id); err != nil {
		return err
	}
	c.logger.Info(ctx, "installation authorized", logger.String("install_id", id))
	return nil
}

// upload sends one result. Recomputed scores in the acknowledgement are
// stored with the outcomes derived from them in one transaction.
func (c *Context) upload(ctx context.Context, id result.ID) error {
	r, err := c.repo.Lookup(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if r.Synced {
		return nil
	}
	if err := c.ensureInstall(ctx); err != nil {
		return err
	}

	ack, err := c.client.Upload(ctx, c.opts.studyID, r)
	if err != nil {
		return fmt.Errorf("upload %s: %w", id, err)
	}
	if len(ack.Scores) == 0 {
		return c.repo.MarkSynced(ctx, id)
	}
	return c.applyServerScores(ctx, r, ack.Scores)
}

// applyServerScores stores server scores with the outcomes derived from
// them. Outcomes are computed under cacheMu from the newest snapshot.
func (c *Context) applyServerScores(ctx context.Context, r result.Result, scores []float64) error {
	if err := scoring.ValidateScores(scores); err != nil {
		c.logger.Warn(ctx, "ignoring malformed server scores", logger.Stringer("result_id", r.ID), logger.Error(err))
		return c.repo.MarkSynced(ctx, r.ID)
	}

	c.cacheMu.Lock()
	r.ServerScores = scores
	outcomes, err := c.recompute(ctx, r, c.refs.Snapshot())
	var changed bool
	if err == nil {
		changed, err = c.repo.ApplyServerScores(ctx, r.ID, scores, outcomes)
	}
	c.cacheMu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		c.dispatcher.Notify()
	}
	return nil
}

// rescore refreshes the cached outcomes of one result from the newest
// snapshot and its stored scores.
func (c *Context) rescore(ctx context.Context, id result.ID, publish bool, cause string) (bool, error) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	r, err := c.repo.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	outcomes, err := c.recompute(ctx, r, c.refs.Snapshot())
	if err != nil {
		return false, err
	}
	return c.repo.ReplaceCachedScores(ctx, id, outcomes, publish, cause)
}

// poll fetches every pending page of server updates. New samples are
// recorded with the cursor, added to the reference store and every result of
// an affected metric is recomputed; each result whose cached outcome changes
// is published once.
func (c *Context) poll(ctx context.Context) error {
	if err := c.ensureInstall(ctx); err != nil {
		return err
	}
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	if err := c.recomputePending(ctx); err != nil {
		return err
	}
	cursor, _, err := c.repo.Meta(ctx, repository.MetaRemoteCursor)
	if err != nil {
		return err
	}

	for {
		u, err := c.client.FetchUpdates(ctx, c.opts.studyID, cursor)
		if err != nil {
			return fmt.Errorf("fetch updates: %w", err)
		}
		next := u.Cursor
		if next == cursor {
			next = ""
		}
		if err := c.applyPage(ctx, cursor, next, u); err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		cursor = next
		if len(u.Samples) == 0 && len(u.Scores) == 0 {
			return nil
		}
	}
}

// applyPage applies one page fetched at cursor page and moves the stored
// cursor to next. A page whose samples were recorded before is not added to
// the reference store again.
func (c *Context) applyPage(ctx context.Context, page, next string, u remote.Updates) error {
	for id, s := range u.Scores {
		r, err := c.repo.Lookup(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := c.applyServerScores(ctx, r, s); err != nil {
			return err
		}
	}

	if len(u.Samples) == 0 {
		if next == "" {
			return nil
		}
		return c.repo.SetMeta(ctx, repository.MetaRemoteCursor, next)
	}
	if err := population.ValidateSamples(u.Samples); err != nil {
		return fmt.Errorf("apply samples: %w", err)
	}
	applied, err := c.repo.RecordSamples(ctx, page, u.Samples, next)
	if err != nil {
		return err
	}
	if applied {
		if _, err := c.refs.AddSamples(ctx, u.Samples); err != nil {
			return fmt.Errorf("apply samples: %w", err)
		}
	}
	return c.recomputePending(ctx)
}

// recomputePending rescores every result of the metrics marked by recorded
// samples and clears each mark once its results are stored.
func (c *Context) recomputePending(ctx context.Context) error {
	pending, err := c.repo.PendingRecompute(ctx)
	if err != nil || len(pending) == 0 {
		return err
	}

	published := 0
	for _, metric := range pending {
		ids, err := c.repo.ResultIDsForMetric(ctx, metric)
		if err != nil {
			return err
		}
		for _, id := range ids {
			changed, err := c.rescore(ctx, id, true, repository.CauseDistribution)
			if err != nil {
				return err
			}
			if changed {
				published++
			}
		}
		if err := c.repo.ClearRecompute(ctx, metric); err != nil {
			return err
		}
	}
	if published > 0 {
		c.dispatcher.Notify()
	}
	c.logger.Info(ctx, "reference distributions updated",
		logger.Int("metrics", len(pending)),
		logger.Int("results_changed", published),
		logger.Int64("version", int64(c.refs.Snapshot().Version())),
	)
	return nil
}

// resumeRecompute finishes recomputation left pending by an earlier run.
func (c *Context) resumeRecompute(ctx context.Context) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	if err := c.recomputePending(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error(ctx, "resuming score recomputation failed", logger.Error(err))
	}
}
