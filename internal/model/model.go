package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleAdmin manages everything, including staff accounts.
	UserRoleAdmin UserRole = "admin"
	// UserRoleModerator authors content, manages students and monitors exams.
	UserRoleModerator UserRole = "moderator"
	// UserRoleStudent takes exams.
	UserRoleStudent UserRole = "student"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleAdmin, UserRoleModerator, UserRoleStudent:
		return true
	}
	return false
}

// IsStaff reports whether r is admin or moderator.
func (r UserRole) IsStaff() bool {
	return r == UserRoleAdmin || r == UserRoleModerator
}

// UserStatus is the account state.
type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

// User represents a system user. PasswordHash is persisted but never rendered
// by the API.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	PasswordHash  string     `json:"password_hash,omitempty"`
	Role          UserRole   `json:"role"`
	Status        UserStatus `json:"status"`
	ClassGroup    string     `json:"class_group,omitempty"`
	StudentNumber string     `json:"student_number,omitempty"`
	Course        string     `json:"course,omitempty"`
	Year          string     `json:"year,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Active reports whether the user may sign in.
func (u User) Active() bool { return u.Status == UserActive }

// AuthSession represents an opaque authentication token.
type AuthSession struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// QuestionType selects how an answer is checked.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionTrueFalse      QuestionType = "true-false"
	QuestionMultipleAnswer QuestionType = "multiple-answer"
	QuestionShortAnswer    QuestionType = "short-answer"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionMultipleAnswer, QuestionShortAnswer:
		return true
	}
	return false
}

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Question represents an exam question.
type Question struct {
	ID            string       `json:"id"`
	Text          string       `json:"question"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options"`
	CorrectAnswer Answer       `json:"correct_answer"`
	Points        int          `json:"points"`
	Subject       string       `json:"subject,omitempty"`
	Topic         string       `json:"topic,omitempty"`
	Difficulty    Difficulty   `json:"difficulty,omitempty"`
	Explanation   string       `json:"explanation,omitempty"`
	CreatedBy     string       `json:"created_by,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ExamStatus is the publication state of an exam.
type ExamStatus string

const (
	ExamDraft     ExamStatus = "draft"
	ExamScheduled ExamStatus = "scheduled"
	ExamActive    ExamStatus = "active"
	ExamCompleted ExamStatus = "completed"
)

// ScoringMode selects the per-question award policy of an exam.
type ScoringMode string

const (
	// ScoringPerQuestionPoints awards a question's points when correct, else 0.
	ScoringPerQuestionPoints ScoringMode = "per-question-points"
	// ScoringUniformMarkingScheme awards MarkingScheme.Correct or MarkingScheme.Wrong
	// times the question's points.
	ScoringUniformMarkingScheme ScoringMode = "uniform-marking-scheme"
)

// MarkingScheme holds multipliers for uniform scoring. Wrong may be negative.
type MarkingScheme struct {
	Correct float64 `json:"correct"`
	Wrong   float64 `json:"wrong"`
}

// ExamSettings are the per-exam switches.
type ExamSettings struct {
	RandomizeQuestions bool `json:"randomize_questions"`
	RandomizeOptions   bool `json:"randomize_options"`
	AutoSubmit         bool `json:"auto_submit"`
	ShowResults        bool `json:"show_results"`
	AllowReview        bool `json:"allow_review"`
	BlockCopyPaste     bool `json:"block_copy_paste"`
	DetectTabSwitch    bool `json:"detect_tab_switch"`
	// TabSwitchLimit suspends an attempt once reached; 0 disables it.
	TabSwitchLimit int `json:"tab_switch_limit"`
	// MaxAttempts bounds attempts per student; 0 means unlimited.
	MaxAttempts int `json:"max_attempts"`
}

// Exam defines an exam and its ordered question references.
type Exam struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	Subject         string        `json:"subject,omitempty"`
	ClassGroup      string        `json:"class_group,omitempty"`
	DurationMinutes int           `json:"duration_minutes"`
	StartAt         *time.Time    `json:"start_at,omitempty"`
	EndAt           *time.Time    `json:"end_at,omitempty"`
	QuestionIDs     []string      `json:"question_ids"`
	TotalMarks      float64       `json:"total_marks"`
	PassingMarks    float64       `json:"passing_marks"`
	ScoringMode     ScoringMode   `json:"scoring_mode"`
	MarkingScheme   MarkingScheme `json:"marking_scheme"`
	Settings        ExamSettings  `json:"settings"`
	Status          ExamStatus    `json:"status"`
	CreatedBy       string        `json:"created_by,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ApplyDefaults fills the scoring mode, the uniform scheme and the status
// when they are left empty.
func (e *Exam) ApplyDefaults() {
	if e.ScoringMode == "" {
		e.ScoringMode = ScoringPerQuestionPoints
	}
	if e.ScoringMode == ScoringUniformMarkingScheme && e.MarkingScheme == (MarkingScheme{}) {
		e.MarkingScheme = MarkingScheme{Correct: 1}
	}
	if e.Status == "" {
		e.Status = ExamDraft
	}
}

// Duration returns the time limit, or 0 for untimed exams.
func (e Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// OpenAt reports whether students may start the exam at t.
func (e Exam) OpenAt(t time.Time) bool {
	if e.Status != ExamActive && e.Status != ExamScheduled {
		return false
	}
	if e.StartAt != nil && t.Before(*e.StartAt) {
		return false
	}
	if e.EndAt != nil && t.After(*e.EndAt) {
		return false
	}
	return true
}

// AttemptStatus is the lifecycle state of an attempt.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptSuspended  AttemptStatus = "suspended"
)

// Terminal reports whether no further transitions are allowed.
func (s AttemptStatus) Terminal() bool { return s != AttemptInProgress }

// ViolationKind names an anti-cheating signal.
type ViolationKind string

const (
	ViolationTabSwitch       ViolationKind = "tab_switch"
	ViolationCopyPasteBlock  ViolationKind = "copy_paste_block"
	ViolationCheatingWarning ViolationKind = "cheating_warning"
	ViolationMultipleLogin   ViolationKind = "multiple_login"
)

// Violations counts anti-cheating signals for an attempt.
type Violations struct {
	CheatingWarnings int `json:"cheating_warnings"`
	TabSwitches      int `json:"tab_switches"`
	CopyPasteBlocks  int `json:"copy_paste_blocks"`
	MultipleLogins   int `json:"multiple_logins"`
}

// Add increments the counter for kind and returns its new value.
func (v *Violations) Add(kind ViolationKind) (int, bool) {
	switch kind {
	case ViolationTabSwitch:
		v.TabSwitches++
		return v.TabSwitches, true
	case ViolationCopyPasteBlock:
		v.CopyPasteBlocks++
		return v.CopyPasteBlocks, true
	case ViolationCheatingWarning:
		v.CheatingWarnings++
		return v.CheatingWarnings, true
	case ViolationMultipleLogin:
		v.MultipleLogins++
		return v.MultipleLogins, true
	}
	return 0, false
}

// Total sums all counters.
func (v Violations) Total() int {
	return v.CheatingWarnings + v.TabSwitches + v.CopyPasteBlocks + v.MultipleLogins
}

// AttemptAnswer is a student's recorded answer for one question.
type AttemptAnswer struct {
	QuestionID string `json:"question_id"`
	Answer     Answer `json:"answer"`
	Flagged    bool   `json:"flagged"`
	TimeSpent  int    `json:"time_spent"`
}

// GradedAnswer is the outcome for one submitted answer. IsCorrect is nil
// when the answer was not auto-graded.
type GradedAnswer struct {
	QuestionID        string   `json:"question_id"`
	Answer            Answer   `json:"answer"`
	IsCorrect         *bool    `json:"is_correct,omitempty"`
	Points            float64  `json:"points"`
	MaxPoints         float64  `json:"max_points"`
	NeedsReview       bool     `json:"needs_review,omitempty"`
	Reviewed          bool     `json:"reviewed,omitempty"`
	SuggestedPoints   *float64 `json:"suggested_points,omitempty"`
	SuggestedFeedback string   `json:"suggested_feedback,omitempty"`
}

// GradedSubmission is the immutable result of grading an attempt.
type GradedSubmission struct {
	ScoringMode   ScoringMode    `json:"scoring_mode"`
	Answers       []GradedAnswer `json:"answers"`
	TotalScore    float64        `json:"total_score"`
	MaxScore      float64        `json:"max_score"`
	Percentage    float64        `json:"percentage"`
	Passed        bool           `json:"passed"`
	PendingReview bool           `json:"pending_review"`
	GradedAt      time.Time      `json:"graded_at"`
}

// Attempt is a student's exam attempt, stored as a submission record.
// Result is nil until the attempt is graded; suspended attempts stay nil.
type Attempt struct {
	ID          string            `json:"id"`
	ExamID      string            `json:"exam_id"`
	StudentID   string            `json:"student_id"`
	Status      AttemptStatus     `json:"status"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     *time.Time        `json:"end_time,omitempty"`
	Answers     []AttemptAnswer   `json:"answers"`
	TimeSpent   int               `json:"time_spent"`
	Result      *GradedSubmission `json:"result,omitempty"`
	Violations  Violations        `json:"violations"`
	FinalizedBy string            `json:"finalized_by,omitempty"`
	ReviewedBy  string            `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time        `json:"reviewed_at,omitempty"`

	// Version is the store version the attempt was read at.
	Version int64 `json:"-"`
}

// SessionStatus is the state of a monitoring session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in-progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionInProgress, SessionCompleted, SessionAbandoned:
		return true
	}
	return false
}

// Warning is one monitoring warning raised during a session.
type Warning struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Session tracks exam-taking presence for live monitoring.
type Session struct {
	ID        string        `json:"id"`
	ExamID    string        `json:"exam_id"`
	StudentID string        `json:"student_id"`
	AttemptID string        `json:"attempt_id,omitempty"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Warnings  []Warning     `json:"warnings"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ExamStats aggregates attempts of one exam.
type ExamStats struct {
	ExamID            string  `json:"exam_id"`
	Title             string  `json:"title"`
	Attempts          int     `json:"attempts"`
	InProgress        int     `json:"in_progress"`
	Graded            int     `json:"graded"`
	Suspended         int     `json:"suspended"`
	AveragePercentage float64 `json:"average_percentage"`
	PassRate          float64 `json:"pass_rate"`
	Violations        int     `json:"violations"`
}

// Stats is the admin dashboard summary.
type Stats struct {
	TotalStudents    int         `json:"total_students"`
	TotalExams       int         `json:"total_exams"`
	TotalQuestions   int         `json:"total_questions"`
	TotalSubmissions int         `json:"total_submissions"`
	ActiveAttempts   int         `json:"active_attempts"`
	Exams            []ExamStats `json:"exams"`
}

// PortalConfig holds runtime parameters set via CLI flags.
type PortalConfig struct {
	Lang        string        // fallback UI language for messages
	AllowSignup bool          // allow unauthenticated student self sign-up
	SubmitGrace time.Duration // tolerance past an exam deadline
	CORSOrigins []string
	// SecureCookies marks the session cookie Secure (HTTPS only).
	SecureCookies bool
}
