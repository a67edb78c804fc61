package sync

import (
	"context"
	"fmt"
	"iter"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduboard/leaderboard-api/internal/classify"
	"github.com/eduboard/leaderboard-api/internal/models"
	"github.com/eduboard/leaderboard-api/internal/pyrus"
)

const (
	retentionFormID = 1001
	trialFormID     = 1002
)

var serviceMapping = classify.FieldMapping{
	TeacherFieldID:  8,
	BranchFieldID:   5,
	StudyingFieldID: 64,
	StatusFieldID:   7,
}

type fakeSource struct {
	byForm  map[int][]pyrus.Task
	tailErr map[int]error
	gate    chan struct{} // when set, streaming blocks until closed
}

func (f *fakeSource) RegisterTasks(ctx context.Context, formID int, opts pyrus.IterOptions) iter.Seq2[pyrus.Task, error] {
	return func(yield func(pyrus.Task, error) bool) {
		if f.gate != nil {
			<-f.gate
		}
		for _, task := range f.byForm[formID] {
			if !yield(task, nil) {
				return
			}
		}
		if err := f.tailErr[formID]; err != nil {
			yield(pyrus.Task{}, err)
		}
	}
}

type fakeStore struct {
	ids          map[string]string
	teacherRows  [][]models.TeacherMetrics
	branchRows   [][]models.BranchMetrics
	recomputes   int
	recomputeErr error
}

func (f *fakeStore) ResolveTeacherIDs(ctx context.Context, names []string) (map[string]string, error) {
	resolved := make(map[string]string)
	for _, name := range names {
		if id, ok := f.ids[name]; ok {
			resolved[name] = id
		}
	}
	return resolved, nil
}

func (f *fakeStore) UpsertTeacherMetrics(ctx context.Context, rows []models.TeacherMetrics) error {
	f.teacherRows = append(f.teacherRows, rows)
	return nil
}

func (f *fakeStore) UpsertBranchMetrics(ctx context.Context, rows []models.BranchMetrics) error {
	f.branchRows = append(f.branchRows, rows)
	return nil
}

func (f *fakeStore) RecomputeScores(ctx context.Context) error {
	f.recomputes++
	return f.recomputeErr
}

type fakeRunLog struct {
	started   int
	completed []models.SyncLogEntry
	startErr  error
}

func (f *fakeRunLog) MarkStarted(ctx context.Context, runID, initiatedBy string) (int64, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.started++
	return int64(f.started), nil
}

func (f *fakeRunLog) MarkCompleted(ctx context.Context, logID int64, entry models.SyncLogEntry) error {
	f.completed = append(f.completed, entry)
	return nil
}

func task(id int, teacher, branch, studying, status string) pyrus.Task {
	return pyrus.Task{
		ID: id,
		Fields: []pyrus.Field{
			{ID: 8, Value: json.RawMessage(fmt.Sprintf("%q", teacher))},
			{ID: 5, Value: json.RawMessage(fmt.Sprintf("%q", branch))},
			{ID: 64, Value: json.RawMessage(fmt.Sprintf("%q", studying))},
			{ID: 7, Value: json.RawMessage(fmt.Sprintf(`{"choice_names": [%q]}`, status))},
		},
	}
}

func serviceRules() classify.Rules {
	return classify.Rules{
		ValidStatuses: []string{"PE Start", "PE Future", "PE 5"},
		TeacherExclusions: map[classify.FormKind][]string{
			classify.Retention: {"Смирнова"},
		},
		CompetitionBranches: []classify.BranchRule{
			{Contains: []string{"online"}},
		},
	}
}

func newTestService(source TaskSource, store MetricsStore, runLog RunLog) *Service {
	return NewService(source, classify.New(serviceRules()), store, runLog, Config{
		Retention: FormConfig{ID: retentionFormID, Kind: classify.Retention, Mapping: serviceMapping},
		Trial:     FormConfig{ID: trialFormID, Kind: classify.Trial, Mapping: serviceMapping},
	}, zerolog.Nop())
}

func TestRun(t *testing.T) {
	t.Run("aggregates both forms and persists", func(t *testing.T) {
		source := &fakeSource{byForm: map[int][]pyrus.Task{
			retentionFormID: {
				task(1, "Иванова Мария", "Труда 1", "да", "PE Start"),
				task(2, "Иванова Мария", "Труда 1", "нет", "PE Start"),
			},
			trialFormID: {
				task(3, "Иванова Мария", "Труда 1", "да", "PE 5"),
			},
		}}
		store := &fakeStore{ids: map[string]string{"Иванова Мария": "id-1"}}
		runLog := &fakeRunLog{}

		result, err := newTestService(source, store, runLog).Run(context.Background(), "tester")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 1, result.TeachersProcessed)
		assert.Equal(t, 1, result.BranchesProcessed)
		assert.Equal(t, 2, result.RecordsUpdated)
		assert.Empty(t, result.UnmatchedTeachers)

		require.Len(t, store.teacherRows, 1)
		require.Len(t, store.teacherRows[0], 1)
		row := store.teacherRows[0][0]
		assert.Equal(t, "id-1", row.TeacherID)
		assert.Equal(t, "Труда 1", row.BranchName)
		assert.Nil(t, row.BranchID)
		assert.Equal(t, 2, row.RetentionTotal)
		assert.Equal(t, 1, row.RetentionActive)
		assert.Equal(t, 1, row.TrialTotal)
		assert.Equal(t, 1, row.TrialConverted)

		require.Len(t, store.branchRows, 1)
		assert.Equal(t, 1, store.recomputes)

		require.Len(t, runLog.completed, 1)
		assert.True(t, runLog.completed[0].Success)
		assert.Equal(t, "tester", runLog.completed[0].InitiatedBy)
	})

	t.Run("running twice with unchanged data is idempotent", func(t *testing.T) {
		source := &fakeSource{byForm: map[int][]pyrus.Task{
			retentionFormID: {task(1, "Иванова Мария", "Труда 1", "да", "PE Start")},
		}}
		store := &fakeStore{ids: map[string]string{"Иванова Мария": "id-1"}}
		svc := newTestService(source, store, &fakeRunLog{})

		_, err := svc.Run(context.Background(), "tester")
		require.NoError(t, err)
		_, err = svc.Run(context.Background(), "tester")
		require.NoError(t, err)

		require.Len(t, store.teacherRows, 2)
		assert.Equal(t, store.teacherRows[0], store.teacherRows[1])
		require.Len(t, store.branchRows, 2)
		assert.Equal(t, store.branchRows[0], store.branchRows[1])
	})

	t.Run("unmatched teacher is reported but does not fail the run", func(t *testing.T) {
		source := &fakeSource{byForm: map[int][]pyrus.Task{
			retentionFormID: {
				task(1, "Иванова Мария", "Труда 1", "да", "PE Start"),
				task(2, "Новенькая Ирина", "Труда 1", "да", "PE Start"),
			},
		}}
		store := &fakeStore{ids: map[string]string{"Иванова Мария": "id-1"}}

		result, err := newTestService(source, store, &fakeRunLog{}).Run(context.Background(), "tester")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, []string{"Новенькая Ирина"}, result.UnmatchedTeachers)
		assert.NotEmpty(t, result.Warnings)

		require.Len(t, store.teacherRows, 1)
		require.Len(t, store.teacherRows[0], 1)
		assert.Equal(t, "id-1", store.teacherRows[0][0].TeacherID)
	})

	t.Run("teacher exclusion leaves branch statistics intact", func(t *testing.T) {
		source := &fakeSource{byForm: map[int][]pyrus.Task{
			retentionFormID: {task(1, "Смирнова Анна", "Труда 1", "да", "PE Start")},
		}}
		store := &fakeStore{}

		result, err := newTestService(source, store, &fakeRunLog{}).Run(context.Background(), "tester")
		require.NoError(t, err)
		assert.Zero(t, result.TeachersProcessed)
		assert.Equal(t, 1, result.BranchesProcessed)

		assert.Empty(t, store.teacherRows)
		require.Len(t, store.branchRows, 1)
		assert.Equal(t, 1, store.branchRows[0][0].RetentionTotal)
	})

	t.Run("invalid status contributes nothing", func(t *testing.T) {
		source := &fakeSource{byForm: map[int][]pyrus.Task{
			retentionFormID: {task(1, "Иванова Мария", "Труда 1", "да", "PE Lost")},
		}}
		store := &fakeStore{ids: map[string]string{"Иванова Мария": "id-1"}}

		result, err := newTestService(source, store, &fakeRunLog{}).Run(context.Background(), "tester")
		require.NoError(t, err)
		assert.Zero(t, result.TeachersProcessed)
		assert.Zero(t, result.BranchesProcessed)
		assert.Empty(t, store.teacherRows)
		assert.Empty(t, store.branchRows)
		// Recompute still runs so an emptied register clears stale scores.
		assert.Equal(t, 1, store.recomputes)
	})

	t.Run("stream shortfall is recorded but the run still succeeds", func(t *testing.T) {
		source := &fakeSource{
			byForm: map[int][]pyrus.Task{
				retentionFormID: {task(1, "Иванова Мария", "Труда 1", "да", "PE Start")},
			},
			tailErr: map[int]error{
				retentionFormID: errors.New("pagination aborted"),
			},
		}
		store := &fakeStore{ids: map[string]string{"Иванова Мария": "id-1"}}

		result, err := newTestService(source, store, &fakeRunLog{}).Run(context.Background(), "tester")
		require.NoError(t, err)
		assert.True(t, result.Success)
		require.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[0], "stream ended early")

		// The partial accumulation is still persisted.
		require.Len(t, store.teacherRows, 1)
	})

	t.Run("recompute failure is fatal", func(t *testing.T) {
		source := &fakeSource{byForm: map[int][]pyrus.Task{
			retentionFormID: {task(1, "Иванова Мария", "Труда 1", "да", "PE Start")},
		}}
		store := &fakeStore{
			ids:          map[string]string{"Иванова Мария": "id-1"},
			recomputeErr: errors.New("stored procedure missing"),
		}
		runLog := &fakeRunLog{}

		result, err := newTestService(source, store, runLog).Run(context.Background(), "tester")
		require.Error(t, err)
		assert.False(t, result.Success)
		require.Len(t, runLog.completed, 1)
		assert.False(t, runLog.completed[0].Success)
	})

	t.Run("run log failure downgrades to a warning", func(t *testing.T) {
		source := &fakeSource{byForm: map[int][]pyrus.Task{}}
		runLog := &fakeRunLog{startErr: errors.New("log table gone")}

		result, err := newTestService(source, &fakeStore{}, runLog).Run(context.Background(), "tester")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.NotEmpty(t, result.Warnings)
		assert.Empty(t, runLog.completed)
	})

	t.Run("background trigger settles the lock before returning", func(t *testing.T) {
		gate := make(chan struct{})
		source := &fakeSource{byForm: map[int][]pyrus.Task{}, gate: gate}
		svc := newTestService(source, &fakeStore{}, &fakeRunLog{})

		require.NoError(t, svc.TryRun(context.Background(), "first"))
		// No wait in between: the lock is already held even though the
		// gated run goroutine has made no progress yet.
		assert.ErrorIs(t, svc.TryRun(context.Background(), "second"), ErrSyncRunning)
		assert.True(t, svc.Running())

		close(gate)
		require.Eventually(t, func() bool { return !svc.Running() }, time.Second, time.Millisecond)
	})

	t.Run("second concurrent run is rejected", func(t *testing.T) {
		gate := make(chan struct{})
		source := &fakeSource{byForm: map[int][]pyrus.Task{}, gate: gate}
		svc := newTestService(source, &fakeStore{}, &fakeRunLog{})

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = svc.Run(context.Background(), "first")
		}()

		require.Eventually(t, svc.Running, time.Second, time.Millisecond)

		_, err := svc.Run(context.Background(), "second")
		assert.ErrorIs(t, err, ErrSyncRunning)

		close(gate)
		<-done
		assert.False(t, svc.Running())
	})
}
