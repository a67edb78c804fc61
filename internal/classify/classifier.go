// Package classify layers the business classification rules on top of the
// raw field extractor: status validity, teacher and branch exclusions, and
// branch-name normalization. All rule data is injected, never package
// state, so fixtures can swap it freely.
package classify

import (
	"strings"
	"unicode"

	"github.com/eduboard/leaderboard-api/internal/pyrus"
)

// FormKind names the two business processes being aggregated.
type FormKind string

const (
	Retention FormKind = "retention"
	Trial     FormKind = "trial"
)

// FieldMapping names which field identifiers hold the four facts for one
// form. The two forms use entirely different identifiers for conceptually
// the same data, so the mapping is per-form configuration.
type FieldMapping struct {
	TeacherFieldID  int `mapstructure:"teacher_field_id"`
	BranchFieldID   int `mapstructure:"branch_field_id"`
	StudyingFieldID int `mapstructure:"studying_field_id"`
	StatusFieldID   int `mapstructure:"status_field_id"`
}

// BranchRule matches a branch when every listed fragment occurs in the
// lowercased branch name.
type BranchRule struct {
	Contains []string `mapstructure:"contains"`
}

// BranchAlias collapses a known duplicate address into a canonical name.
type BranchAlias struct {
	Contains []string `mapstructure:"contains"`
	Name     string   `mapstructure:"name"`
}

// Rules is the complete classification rule set for a sync run.
type Rules struct {
	ValidStatuses       []string              `mapstructure:"valid_statuses"`
	TeacherExclusions   map[FormKind][]string `mapstructure:"teacher_exclusions"`
	CompetitionBranches []BranchRule          `mapstructure:"competition_excluded_branches"`
	DroppedBranches     []BranchRule          `mapstructure:"dropped_branches"`
	BranchAliases       []BranchAlias         `mapstructure:"branch_aliases"`
}

// Outcome classifies the result of extracting one task.
type Outcome int

const (
	// OutcomeOK means the facts are usable (the status may still be invalid;
	// that is a separate gate).
	OutcomeOK Outcome = iota
	// OutcomeDroppedBranch means the task belongs to a branch excluded from
	// the report entirely and must count nowhere.
	OutcomeDroppedBranch
)

// TaskFacts are the four facts extracted from one task.
type TaskFacts struct {
	TaskID      int
	Teacher     string
	Branch      string
	IsStudying  bool
	ValidStatus bool
}

// Classifier applies the rule set. The zero extractor is stateless; a
// Classifier is safe for concurrent use.
type Classifier struct {
	extractor pyrus.FieldExtractor
	rules     Rules
	statuses  map[string]struct{}
}

func New(rules Rules) *Classifier {
	statuses := make(map[string]struct{}, len(rules.ValidStatuses))
	for _, s := range rules.ValidStatuses {
		statuses[s] = struct{}{}
	}
	return &Classifier{rules: rules, statuses: statuses}
}

// ExtractTaskFacts pulls the four facts out of a task's field tree using
// the form's field mapping. Extraction itself never fails; the only
// non-OK outcome is a branch dropped from the report.
func (c *Classifier) ExtractTaskFacts(fields []pyrus.Field, taskID int, mapping FieldMapping) (TaskFacts, Outcome) {
	rawBranch := c.extractor.BranchName(fields, mapping.BranchFieldID)
	branch, dropped := c.NormalizeBranch(rawBranch)
	if dropped {
		return TaskFacts{TaskID: taskID}, OutcomeDroppedBranch
	}

	status, _ := c.extractor.StatusToken(fields, mapping.StatusFieldID)

	return TaskFacts{
		TaskID:      taskID,
		Teacher:     c.extractor.TeacherName(fields, mapping.TeacherFieldID),
		Branch:      branch,
		IsStudying:  c.extractor.IsStudying(fields, mapping.StudyingFieldID),
		ValidStatus: c.IsValidStatus(status),
	}, OutcomeOK
}

// IsValidStatus reports membership in the allowed-status set. A missing
// token is invalid.
func (c *Classifier) IsValidStatus(token string) bool {
	_, ok := c.statuses[token]
	return ok
}

// NormalizeBranch trims and title-cases a branch label and collapses known
// duplicate addresses into their canonical names. The second return is
// true when the branch is excluded from the report entirely.
func (c *Classifier) NormalizeBranch(name string) (string, bool) {
	lowered := strings.ToLower(strings.TrimSpace(name))

	for _, rule := range c.rules.DroppedBranches {
		if matchesAll(lowered, rule.Contains) {
			return "", true
		}
	}
	for _, alias := range c.rules.BranchAliases {
		if matchesAll(lowered, alias.Contains) {
			return alias.Name, false
		}
	}
	return titleCase(strings.TrimSpace(name)), false
}

// IsBranchExcludedFromCompetition reports whether the branch is removed
// from branch-level rankings. Its tasks still count toward teacher-level
// statistics.
func (c *Classifier) IsBranchExcludedFromCompetition(branch string) bool {
	lowered := strings.ToLower(strings.TrimSpace(branch))
	for _, rule := range c.rules.CompetitionBranches {
		if matchesAll(lowered, rule.Contains) {
			return true
		}
	}
	return false
}

// IsTeacherExcluded checks the name against the form's exclusion list with
// case-insensitive substring containment, so an excluded surname anywhere
// in the full name triggers. Deliberately fuzzy to tolerate name-order
// variance from the remote system.
func (c *Classifier) IsTeacherExcluded(name string, kind FormKind) bool {
	lowered := strings.ToLower(name)
	for _, excluded := range c.rules.TeacherExclusions[kind] {
		fragment := strings.ToLower(strings.TrimSpace(excluded))
		if fragment != "" && strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}

func matchesAll(lowered string, fragments []string) bool {
	if len(fragments) == 0 {
		return false
	}
	for _, fragment := range fragments {
		if !strings.Contains(lowered, strings.ToLower(fragment)) {
			return false
		}
	}
	return true
}

func titleCase(s string) string {
	words := strings.Split(s, " ")
	for i, word := range words {
		runes := []rune(word)
		if len(runes) == 0 {
			continue
		}
		runes[0] = unicode.ToUpper(runes[0])
		for j := 1; j < len(runes); j++ {
			runes[j] = unicode.ToLower(runes[j])
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
