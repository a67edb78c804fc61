package sync

import (
	"sort"

	"github.com/eduboard/leaderboard-api/internal/classify"
)

// Counters is one (total, active) pair for a single form source.
type Counters struct {
	Total  int
	Active int
}

func (c Counters) percentage() float64 {
	if c.Total == 0 {
		return 0.0
	}
	return float64(c.Active) / float64(c.Total) * 100
}

// TeacherStats is the merged per-teacher accumulation across both forms.
// Teachers are keyed by display name; the remote system carries no stable
// identifier, so resolution to one happens only at persistence time.
type TeacherStats struct {
	Name      string
	Branch    string
	Retention Counters
	Trial     Counters
}

func (s *TeacherStats) RetentionPercentage() float64  { return s.Retention.percentage() }
func (s *TeacherStats) ConversionPercentage() float64 { return s.Trial.percentage() }

// CombinedPercentage is the sum of the two percentages, not an average.
func (s *TeacherStats) CombinedPercentage() float64 {
	return s.RetentionPercentage() + s.ConversionPercentage()
}

// BranchStats is the merged per-branch accumulation across both forms.
type BranchStats struct {
	Name      string
	Retention Counters
	Trial     Counters
}

func (s *BranchStats) RetentionPercentage() float64  { return s.Retention.percentage() }
func (s *BranchStats) ConversionPercentage() float64 { return s.Trial.percentage() }

func (s *BranchStats) CombinedPercentage() float64 {
	return s.RetentionPercentage() + s.ConversionPercentage()
}

// formTally is one independent accumulation pass over a single form. The
// two passes never share state; they are merged afterwards by a
// deterministic reducer, which keeps the door open to fetching the forms
// in parallel without changing output.
type formTally struct {
	teachers      map[string]Counters
	teacherBranch map[string]string // first branch recorded per teacher
	branches      map[string]Counters

	tasksSeen        int
	validTasks       int
	droppedTasks     int
	excludedTeachers int
}

func newFormTally() *formTally {
	return &formTally{
		teachers:      make(map[string]Counters),
		teacherBranch: make(map[string]string),
		branches:      make(map[string]Counters),
	}
}

// add accumulates one status-valid task. Branch counters move first and
// are untouched by teacher exclusion; the two exclusion axes are
// independent.
func (t *formTally) add(facts classify.TaskFacts, competitionExcluded, teacherExcluded bool) {
	t.validTasks++

	if !competitionExcluded {
		c := t.branches[facts.Branch]
		c.Total++
		if facts.IsStudying {
			c.Active++
		}
		t.branches[facts.Branch] = c
	}

	if teacherExcluded {
		t.excludedTeachers++
		return
	}

	c := t.teachers[facts.Teacher]
	c.Total++
	if facts.IsStudying {
		c.Active++
	}
	t.teachers[facts.Teacher] = c

	if _, ok := t.teacherBranch[facts.Teacher]; !ok {
		t.teacherBranch[facts.Teacher] = facts.Branch
	}
}

// mergeTallies folds the two form passes into final statistics. Branch
// association for a teacher comes from the retention pass when it recorded
// data for that name, the trial pass otherwise.
func mergeTallies(retention, trial *formTally) (map[string]*TeacherStats, map[string]*BranchStats) {
	teachers := make(map[string]*TeacherStats)

	for name, c := range retention.teachers {
		teachers[name] = &TeacherStats{Name: name, Retention: c}
	}
	for name, c := range trial.teachers {
		stats, ok := teachers[name]
		if !ok {
			stats = &TeacherStats{Name: name}
			teachers[name] = stats
		}
		stats.Trial = c
	}
	for name, stats := range teachers {
		if branch, ok := retention.teacherBranch[name]; ok {
			stats.Branch = branch
		} else if branch, ok := trial.teacherBranch[name]; ok {
			stats.Branch = branch
		}
	}

	branches := make(map[string]*BranchStats)
	for name, c := range retention.branches {
		branches[name] = &BranchStats{Name: name, Retention: c}
	}
	for name, c := range trial.branches {
		stats, ok := branches[name]
		if !ok {
			stats = &BranchStats{Name: name}
			branches[name] = stats
		}
		stats.Trial = c
	}

	return teachers, branches
}

// sortedNames returns map keys in a stable order so batches and logs are
// deterministic run to run.
func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
