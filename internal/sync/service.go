// Package sync implements the aggregation engine: it streams every task of
// the two configured forms, classifies each one, accumulates per-teacher
// and per-branch statistics, and persists the result with a ranking
// recomputation.
package sync

import (
	"context"
	"fmt"
	"iter"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/eduboard/leaderboard-api/internal/classify"
	"github.com/eduboard/leaderboard-api/internal/models"
	"github.com/eduboard/leaderboard-api/internal/pyrus"
)

// ErrSyncRunning is returned when a run is requested while another run
// holds the single-flight lock.
var ErrSyncRunning = errors.New("a sync run is already in progress")

// TaskSource streams tasks from a remote form register.
type TaskSource interface {
	RegisterTasks(ctx context.Context, formID int, opts pyrus.IterOptions) iter.Seq2[pyrus.Task, error]
}

// MetricsStore is the persistence boundary: name resolution, batch upsert
// and the downstream ranking recomputation.
type MetricsStore interface {
	ResolveTeacherIDs(ctx context.Context, names []string) (map[string]string, error)
	UpsertTeacherMetrics(ctx context.Context, rows []models.TeacherMetrics) error
	UpsertBranchMetrics(ctx context.Context, rows []models.BranchMetrics) error
	RecomputeScores(ctx context.Context) error
}

// RunLog records run start/completion for observability.
type RunLog interface {
	MarkStarted(ctx context.Context, runID, initiatedBy string) (int64, error)
	MarkCompleted(ctx context.Context, logID int64, entry models.SyncLogEntry) error
}

// FormConfig binds one remote form to its field mapping.
type FormConfig struct {
	ID      int
	Kind    classify.FormKind
	Mapping classify.FieldMapping
}

// Config carries the two form bindings and run tuning.
type Config struct {
	Retention FormConfig
	Trial     FormConfig
	BatchSize int
	UpdatedBy string
}

// Result is the outcome of one sync run. UnmatchedTeachers lists names
// that aggregated data but resolved to no staff profile; they are skipped
// at persistence time, reported here rather than buried in logs.
type Result struct {
	RunID             string        `json:"run_id"`
	Success           bool          `json:"success"`
	TeachersProcessed int           `json:"teachers_processed"`
	BranchesProcessed int           `json:"branches_processed"`
	RecordsUpdated    int           `json:"records_updated"`
	UnmatchedTeachers []string      `json:"unmatched_teachers"`
	Errors            []string      `json:"errors"`
	Warnings          []string      `json:"warnings"`
	StartedAt         time.Time     `json:"started_at"`
	CompletedAt       time.Time     `json:"completed_at"`
	Duration          time.Duration `json:"duration"`
}

// Service executes complete synchronization passes. At most one run
// executes at a time; concurrent callers get ErrSyncRunning instead of
// interleaving upserts.
type Service struct {
	source     TaskSource
	classifier *classify.Classifier
	store      MetricsStore
	runLog     RunLog
	cfg        Config
	logger     zerolog.Logger

	runMu stdsync.Mutex
}

func NewService(source TaskSource, classifier *classify.Classifier, store MetricsStore, runLog RunLog, cfg Config, logger zerolog.Logger) *Service {
	if cfg.UpdatedBy == "" {
		cfg.UpdatedBy = "sync-service"
	}
	return &Service{
		source:     source,
		classifier: classifier,
		store:      store,
		runLog:     runLog,
		cfg:        cfg,
		logger:     logger.With().Str("component", "sync").Logger(),
	}
}

// Run executes one full synchronization pass: both forms sequentially,
// merge, persist, recompute. Per-form shortfalls land in Result.Errors
// without failing the run; persistence and recomputation failures are
// fatal and flip Success.
func (s *Service) Run(ctx context.Context, initiatedBy string) (Result, error) {
	if !s.runMu.TryLock() {
		return Result{}, ErrSyncRunning
	}
	defer s.runMu.Unlock()
	return s.runLocked(ctx, initiatedBy)
}

// TryRun claims the single-flight lock synchronously and executes the pass
// in the background. The ErrSyncRunning answer is decided before any
// goroutine is spawned, so two callers can never both be told a run
// started.
func (s *Service) TryRun(ctx context.Context, initiatedBy string) error {
	if !s.runMu.TryLock() {
		return ErrSyncRunning
	}
	go func() {
		defer s.runMu.Unlock()
		_, _ = s.runLocked(ctx, initiatedBy) // failures are logged inside
	}()
	return nil
}

// runLocked is the body of one pass; the caller holds runMu.
func (s *Service) runLocked(ctx context.Context, initiatedBy string) (Result, error) {
	result := Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := s.logger.With().Str("run_id", result.RunID).Logger()
	log.Info().Str("initiated_by", initiatedBy).Msg("sync run started")

	logID, err := s.runLog.MarkStarted(ctx, result.RunID, initiatedBy)
	if err != nil {
		// The run log is observability, not a precondition.
		log.Warn().Err(err).Msg("failed to record run start")
		result.Warnings = append(result.Warnings, fmt.Sprintf("run log unavailable: %v", err))
		logID = 0
	}

	err = s.execute(ctx, &result, log)

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Success = err == nil

	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		log.Error().Err(err).Dur("duration", result.Duration).Msg("sync run failed")
	} else {
		log.Info().
			Int("teachers", result.TeachersProcessed).
			Int("branches", result.BranchesProcessed).
			Int("updated", result.RecordsUpdated).
			Int("unmatched", len(result.UnmatchedTeachers)).
			Dur("duration", result.Duration).
			Msg("sync run completed")
	}

	if logID != 0 {
		if logErr := s.runLog.MarkCompleted(ctx, logID, logEntry(result, initiatedBy)); logErr != nil {
			log.Warn().Err(logErr).Msg("failed to record run completion")
		}
	}

	return result, err
}

func (s *Service) execute(ctx context.Context, result *Result, log zerolog.Logger) error {
	retention := s.analyzeForm(ctx, s.cfg.Retention, result, log)
	trial := s.analyzeForm(ctx, s.cfg.Trial, result, log)

	teachers, branches := mergeTallies(retention, trial)
	result.TeachersProcessed = len(teachers)
	result.BranchesProcessed = len(branches)

	return s.persist(ctx, teachers, branches, result, log)
}

// analyzeForm streams one register and accumulates an independent tally.
// Stream errors (exhausted page retries) are recorded as run errors; the
// partial tally still counts. Whether that policy should escalate to a
// hard failure is deliberate but debatable, since it can understate the
// population.
func (s *Service) analyzeForm(ctx context.Context, form FormConfig, result *Result, log zerolog.Logger) *formTally {
	tally := newFormTally()
	log = log.With().Int("form_id", form.ID).Str("form", string(form.Kind)).Logger()
	log.Info().Msg("analyzing form")

	opts := pyrus.IterOptions{BatchSize: s.cfg.BatchSize, LogProgress: true}
	for task, err := range s.source.RegisterTasks(ctx, form.ID, opts) {
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("form %d: stream ended early: %v", form.ID, err))
			log.Error().Err(err).Int("tasks_seen", tally.tasksSeen).Msg("register stream ended early")
			break
		}
		tally.tasksSeen++

		facts, outcome := s.classifier.ExtractTaskFacts(task.Fields, task.ID, form.Mapping)
		if outcome == classify.OutcomeDroppedBranch {
			tally.droppedTasks++
			continue
		}

		// Validity is a field-level fact; the task's workflow status is not
		// a reliable proxy and is ignored.
		if !facts.ValidStatus {
			continue
		}

		tally.add(facts,
			s.classifier.IsBranchExcludedFromCompetition(facts.Branch),
			s.classifier.IsTeacherExcluded(facts.Teacher, form.Kind))
	}

	log.Info().
		Int("tasks", tally.tasksSeen).
		Int("valid", tally.validTasks).
		Int("dropped_branch", tally.droppedTasks).
		Int("excluded_teachers", tally.excludedTeachers).
		Msg("form analysis complete")
	return tally
}

func (s *Service) persist(ctx context.Context, teachers map[string]*TeacherStats, branches map[string]*BranchStats, result *Result, log zerolog.Logger) error {
	names := sortedNames(teachers)

	idsByName, err := s.store.ResolveTeacherIDs(ctx, names)
	if err != nil {
		return errors.Wrap(err, "resolve teacher names")
	}

	teacherRows := make([]models.TeacherMetrics, 0, len(names))
	for _, name := range names {
		stats := teachers[name]
		id, ok := idsByName[name]
		if !ok {
			// The remote spelling is authoritative; a miss is operational
			// noise, visible in the result but not an error.
			result.UnmatchedTeachers = append(result.UnmatchedTeachers, name)
			log.Warn().Str("teacher", name).Msg("no staff profile matched, skipping")
			continue
		}
		teacherRows = append(teacherRows, models.TeacherMetrics{
			TeacherID:       id,
			TeacherName:     stats.Name,
			BranchName:      stats.Branch,
			BranchID:        nil, // always NULL for the teacher-scope rating
			RetentionTotal:  stats.Retention.Total,
			RetentionActive: stats.Retention.Active,
			TrialTotal:      stats.Trial.Total,
			TrialConverted:  stats.Trial.Active,
			UpdatedBy:       s.cfg.UpdatedBy,
		})
	}
	if len(result.UnmatchedTeachers) > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d teacher names had no staff profile", len(result.UnmatchedTeachers)))
	}

	branchRows := make([]models.BranchMetrics, 0, len(branches))
	for _, name := range sortedNames(branches) {
		stats := branches[name]
		branchRows = append(branchRows, models.BranchMetrics{
			BranchName:      stats.Name,
			RetentionTotal:  stats.Retention.Total,
			RetentionActive: stats.Retention.Active,
			TrialTotal:      stats.Trial.Total,
			TrialConverted:  stats.Trial.Active,
			UpdatedBy:       s.cfg.UpdatedBy,
		})
	}

	if len(teacherRows) > 0 {
		if err := s.store.UpsertTeacherMetrics(ctx, teacherRows); err != nil {
			return errors.Wrap(err, "upsert teacher metrics")
		}
	}
	if len(branchRows) > 0 {
		if err := s.store.UpsertBranchMetrics(ctx, branchRows); err != nil {
			return errors.Wrap(err, "upsert branch metrics")
		}
	}
	result.RecordsUpdated = len(teacherRows) + len(branchRows)

	// Stale rankings are worse than a failed run that can be retried, so a
	// recompute failure is fatal.
	if err := s.store.RecomputeScores(ctx); err != nil {
		return errors.Wrap(err, "recompute scores")
	}

	log.Info().Int("teacher_rows", len(teacherRows)).Int("branch_rows", len(branchRows)).
		Msg("metrics persisted and scores recomputed")
	return nil
}

func logEntry(result Result, initiatedBy string) models.SyncLogEntry {
	completed := result.CompletedAt
	durationMs := result.Duration.Milliseconds()
	return models.SyncLogEntry{
		RunID:            result.RunID,
		StartedAt:        result.StartedAt,
		CompletedAt:      &completed,
		Success:          result.Success,
		RecordsProcessed: result.TeachersProcessed + result.BranchesProcessed,
		RecordsUpdated:   result.RecordsUpdated,
		Errors:           result.Errors,
		Warnings:         result.Warnings,
		InitiatedBy:      initiatedBy,
		DurationMs:       &durationMs,
	}
}

// Running reports whether a run currently holds the single-flight lock.
func (s *Service) Running() bool {
	if s.runMu.TryLock() {
		s.runMu.Unlock()
		return false
	}
	return true
}
