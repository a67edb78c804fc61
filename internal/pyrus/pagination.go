package pyrus

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBatchSize  = 200
	defaultPageDelay  = 100 * time.Millisecond
	defaultRetryDelay = 5 * time.Second
	defaultPageTries  = 3
	pageTimeout       = 60 * time.Second
	progressEvery     = 500
)

// IterOptions tunes one register iteration.
type IterOptions struct {
	IncludeArchived bool
	MaxTasks        int // 0 means unlimited
	BatchSize       int
	LogProgress     bool
}

// FormStats is the result of a full-scan count over a register.
type FormStats struct {
	TotalTasks    int `json:"total_tasks"`
	ArchivedTasks int `json:"archived_tasks"`
	ActiveTasks   int `json:"active_tasks"`
}

// PaginationConfig tunes the iteration loop; zero values fall back to the
// production defaults. Tests shrink the delays.
type PaginationConfig struct {
	PageDelay      time.Duration // pause between pages
	RetryDelay     time.Duration // pause after a failed page
	MaxPageRetries int           // consecutive page failures before giving up
}

// PaginationHandler drives exhaustive retrieval of a form register using
// keyset pagination: pages are requested sorted by descending ID with a
// task_id<{last} continuation filter, and iteration stops once a page
// comes back shorter than requested.
type PaginationHandler struct {
	client *Client
	cfg    PaginationConfig
	logger zerolog.Logger
}

func NewPaginationHandler(client *Client, cfg PaginationConfig, logger zerolog.Logger) *PaginationHandler {
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = defaultPageDelay
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxPageRetries <= 0 {
		cfg.MaxPageRetries = defaultPageTries
	}
	return &PaginationHandler{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "pagination").Logger(),
	}
}

// Tasks returns a lazy sequence over every task in the register. Pages are
// fetched only as the caller consumes, so a register never has to fit in
// memory. A page-level failure is retried after a delay; once
// MaxPageRetries consecutive pages fail, the sequence ends with a non-nil
// error so the caller can record the shortfall. Duplicate task IDs across
// pages are yielded once.
func (h *PaginationHandler) Tasks(ctx context.Context, formID int, opts IterOptions) iter.Seq2[Task, error] {
	return func(yield func(Task, error) bool) {
		batchSize := opts.BatchSize
		if batchSize <= 0 {
			batchSize = defaultBatchSize
		}

		var (
			processed   int
			pageNumber  int
			lastTaskID  int
			consecutive int
			seen        = make(map[int]struct{})
		)

		log := h.logger.With().Int("form_id", formID).Logger()
		if opts.LogProgress {
			log.Info().Msg("starting register pagination")
		}

		for opts.MaxTasks == 0 || processed < opts.MaxTasks {
			pageNumber++

			itemCount := batchSize
			if opts.MaxTasks > 0 && opts.MaxTasks-processed < itemCount {
				itemCount = opts.MaxTasks - processed
			}

			archived := "n"
			if opts.IncludeArchived {
				archived = "y"
			}
			endpoint := fmt.Sprintf("forms/%d/register?item_count=%d&include_archived=%s&sort=id",
				formID, itemCount, archived)
			if lastTaskID > 0 {
				// The comparison operator must stay URL-encoded.
				endpoint += fmt.Sprintf("&task_id%%3C%d", lastTaskID)
			}

			var page registerResponse
			if err := h.client.get(ctx, endpoint, requestOptions{timeout: pageTimeout}, &page); err != nil {
				if ctx.Err() != nil {
					yield(Task{}, ctx.Err())
					return
				}
				consecutive++
				log.Error().Err(err).Int("page", pageNumber).Int("failures", consecutive).
					Msg("page fetch failed")
				if consecutive >= h.cfg.MaxPageRetries {
					yield(Task{}, fmt.Errorf("form %d: pagination aborted after %d consecutive page failures: %w",
						formID, consecutive, err))
					return
				}
				if !sleepCtx(ctx, h.cfg.RetryDelay) {
					yield(Task{}, ctx.Err())
					return
				}
				continue
			}
			consecutive = 0

			received := len(page.Tasks)
			if received == 0 {
				if opts.LogProgress {
					log.Info().Int("pages", pageNumber).Msg("empty page, register exhausted")
				}
				return
			}

			// Advance the keyset boundary before yielding so a consumer
			// break cannot leave it stale.
			lastTaskID = page.Tasks[received-1].ID

			for _, task := range page.Tasks {
				if opts.MaxTasks > 0 && processed >= opts.MaxTasks {
					break
				}
				if _, dup := seen[task.ID]; dup {
					log.Warn().Int("task_id", task.ID).Msg("skipping duplicate task")
					continue
				}
				seen[task.ID] = struct{}{}
				if !yield(task, nil) {
					return
				}
				processed++

				if opts.LogProgress && processed%progressEvery == 0 {
					log.Info().Int("processed", processed).Msg("pagination progress")
				}
			}

			// A short page signals the end of data even when the remote
			// could technically produce a continuation.
			if received < itemCount {
				if opts.LogProgress {
					log.Info().Int("pages", pageNumber).Int("processed", processed).
						Msg("short page, register exhausted")
				}
				return
			}
			if opts.MaxTasks > 0 && processed >= opts.MaxTasks {
				if opts.LogProgress {
					log.Info().Int("processed", processed).Msg("task budget reached")
				}
				return
			}

			if !sleepCtx(ctx, h.cfg.PageDelay) {
				yield(Task{}, ctx.Err())
				return
			}
		}
	}
}

// Stats walks the whole register, archived tasks included, and counts
// totals. This is an O(n) diagnostic, not something to call per request.
func (h *PaginationHandler) Stats(ctx context.Context, formID int) (FormStats, error) {
	var stats FormStats
	for task, err := range h.Tasks(ctx, formID, IterOptions{IncludeArchived: true}) {
		if err != nil {
			return FormStats{}, err
		}
		stats.TotalTasks++
		if strings.Contains(strings.ToLower(task.Status), "archive") {
			stats.ArchivedTasks++
		}
	}
	stats.ActiveTasks = stats.TotalTasks - stats.ArchivedTasks
	return stats, nil
}

// FormExists probes the form metadata endpoint.
func (h *PaginationHandler) FormExists(ctx context.Context, formID int) bool {
	err := h.client.get(ctx, fmt.Sprintf("forms/%d", formID), requestOptions{}, nil)
	if err != nil {
		h.logger.Warn().Err(err).Int("form_id", formID).Msg("form probe failed")
		return false
	}
	return true
}

// sleepCtx pauses for d unless the context ends first; returns false when
// the context was cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
