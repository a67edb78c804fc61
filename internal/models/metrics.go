package models

import "time"

// Profile is one entry in the staff directory used to resolve teacher
// display names to stable identifiers.
type Profile struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// TeacherMetrics is the persisted counter row for one teacher. BranchID is
// NULL for teacher-scope rating rows; branch-scope output lives in
// BranchMetrics instead.
type TeacherMetrics struct {
	TeacherID       string  `json:"teacher_id"`
	TeacherName     string  `json:"teacher_name"`
	BranchName      string  `json:"branch_name"`
	BranchID        *string `json:"branch_id"`
	RetentionTotal  int     `json:"retention_total"`
	RetentionActive int     `json:"retention_active"`
	TrialTotal      int     `json:"trial_total"`
	TrialConverted  int     `json:"trial_converted"`
	UpdatedBy       string  `json:"updated_by"`
}

// BranchMetrics is the persisted counter row for one branch.
type BranchMetrics struct {
	BranchName      string `json:"branch_name"`
	RetentionTotal  int    `json:"retention_total"`
	RetentionActive int    `json:"retention_active"`
	TrialTotal      int    `json:"trial_total"`
	TrialConverted  int    `json:"trial_converted"`
	UpdatedBy       string `json:"updated_by"`
}

// TeacherScore is one recomputed leaderboard row.
type TeacherScore struct {
	TeacherID            string    `json:"teacher_id"`
	TeacherName          string    `json:"teacher_name"`
	BranchName           string    `json:"branch_name"`
	RetentionTotal       int       `json:"retention_total"`
	RetentionActive      int       `json:"retention_active"`
	TrialTotal           int       `json:"trial_total"`
	TrialConverted       int       `json:"trial_converted"`
	RetentionPercentage  float64   `json:"retention_percentage"`
	ConversionPercentage float64   `json:"conversion_percentage"`
	CombinedPercentage   float64   `json:"combined_percentage"`
	Rank                 int       `json:"rank"`
	ComputedAt           time.Time `json:"computed_at"`
}

// BranchScore is one recomputed branch leaderboard row.
type BranchScore struct {
	BranchName           string    `json:"branch_name"`
	RetentionTotal       int       `json:"retention_total"`
	RetentionActive      int       `json:"retention_active"`
	TrialTotal           int       `json:"trial_total"`
	TrialConverted       int       `json:"trial_converted"`
	RetentionPercentage  float64   `json:"retention_percentage"`
	ConversionPercentage float64   `json:"conversion_percentage"`
	CombinedPercentage   float64   `json:"combined_percentage"`
	Rank                 int       `json:"rank"`
	ComputedAt           time.Time `json:"computed_at"`
}
