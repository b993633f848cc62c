package exam

// Question types supported by the attempt engine.
const (
	TypeMultipleChoice = "multiple_choice"
	TypeTrueFalse      = "true_false"
)

type Course struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	IsPublished bool   `json:"is_published"`
}

type Chapter struct {
	ID          string `json:"id"`
	CourseID    string `json:"course_id"`
	Title       string `json:"title"`
	IsPublished bool   `json:"is_published"`
}

type Option struct {
	ID         string `json:"id"`
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
	// Stripped when an exam is served to students; present in teacher
	// views and results.
	IsCorrect bool `json:"is_correct,omitempty"`
}

type Question struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Type       string   `json:"type"` // multiple_choice | true_false
	Difficulty string   `json:"difficulty,omitempty"`
	Options    []Option `json:"options,omitempty"`
}

// ExamQuestion is the join row that gives a question its position and
// point value within one exam. Points are per exam, not per question.
type ExamQuestion struct {
	ExamID     string   `json:"exam_id"`
	QuestionID string   `json:"question_id"`
	Position   int      `json:"position"`
	Points     int      `json:"points"`
	Question   Question `json:"question"`
}

type Exam struct {
	ID          string `json:"id"`
	CourseID    string `json:"course_id"`
	ChapterID   string `json:"chapter_id,omitempty"`
	Title       string `json:"title"`
	IsPublished bool   `json:"is_published"`
	// Minutes; 0 means the exam is untimed.
	TimeLimit    int            `json:"time_limit"`
	MaxAttempts  int            `json:"max_attempts"`
	PassingScore int            `json:"passing_score"` // percent
	IsRandomized bool           `json:"is_randomized"`
	Questions    []ExamQuestion `json:"questions,omitempty"`

	CreatedAt int64 `json:"created_at,omitempty"`
}

// ExamGate is the publish-state snapshot checked before any attempt may
// start: the exam plus its parent course and (optional) chapter flags.
type ExamGate struct {
	Exam             Exam
	CoursePublished  bool
	HasChapter       bool
	ChapterPublished bool
}

// Attempt is one user's run through an exam. CompletedAt == nil means
// the attempt is active; once set it is never cleared.
type Attempt struct {
	ID          string `json:"id"`
	ExamID      string `json:"exam_id"`
	UserID      string `json:"user_id"`
	StartedAt   int64  `json:"started_at"`
	CompletedAt *int64 `json:"completed_at,omitempty"`
	SubmittedAt *int64 `json:"submitted_at,omitempty"`
	Score       int    `json:"score"` // 0..100
	TotalPoints int    `json:"total_points"`
	MaxPoints   int    `json:"max_points"`
	IsPassed    bool   `json:"is_passed"`
	TimeSpent   int    `json:"time_spent"` // minutes
	IsTimedOut  bool   `json:"is_timed_out"`
}

func (a Attempt) Active() bool { return a.CompletedAt == nil }

// QuestionAttempt is one recorded answer within an attempt. There is at
// most one row per (attempt, question); re-answering overwrites it.
type QuestionAttempt struct {
	ID               string `json:"id"`
	AttemptID        string `json:"attempt_id"`
	QuestionID       string `json:"question_id"`
	SelectedOptionID string `json:"selected_option_id"`
	IsCorrect        bool   `json:"is_correct"`
	PointsEarned     int    `json:"points_earned"`
	AnsweredAt       int64  `json:"answered_at"`
}

// AttemptDetail is an attempt together with its exam's question tree
// and the answers recorded so far.
type AttemptDetail struct {
	Attempt
	Exam    Exam              `json:"exam"`
	Answers []QuestionAttempt `json:"answers,omitempty"`
}

// Validation is the advisory result of a pre-submission client check.
type Validation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Progress summarizes an active attempt for a resume banner.
type Progress struct {
	AttemptID         string `json:"attempt_id"`
	TotalQuestions    int    `json:"total_questions"`
	AnsweredQuestions int    `json:"answered_questions"`
	Percent           int    `json:"percent"`
	StartedAt         int64  `json:"started_at"`
	TimeLimit         int    `json:"time_limit"`
}

type ExamSummary struct {
	ID           string `json:"id"`
	CourseID     string `json:"course_id"`
	ChapterID    string `json:"chapter_id,omitempty"`
	Title        string `json:"title"`
	IsPublished  bool   `json:"is_published"`
	TimeLimit    int    `json:"time_limit"`
	MaxAttempts  int    `json:"max_attempts"`
	PassingScore int    `json:"passing_score"`
	Questions    int    `json:"questions"`
	CreatedAt    int64  `json:"created_at,omitempty"`
}

// QuestionStats is one question's difficulty line in the teacher view.
type QuestionStats struct {
	QuestionID  string `json:"question_id"`
	Position    int    `json:"position"`
	Text        string `json:"text"` // truncated for display
	Attempts    int    `json:"attempts"`
	Correct     int    `json:"correct"`
	CorrectRate int    `json:"correct_rate"` // percent
	Points      int    `json:"points"`
}

// StudentResult is one completed attempt in the per-student list.
type StudentResult struct {
	AttemptID   string `json:"attempt_id"`
	UserID      string `json:"user_id"`
	Score       int    `json:"score"`
	IsPassed    bool   `json:"is_passed"`
	TimeSpent   int    `json:"time_spent"`
	IsTimedOut  bool   `json:"is_timed_out"`
	CompletedAt int64  `json:"completed_at"`
}

// Statistics is the teacher-facing aggregate over completed attempts.
type Statistics struct {
	ExamID           string          `json:"exam_id"`
	TotalAttempts    int             `json:"total_attempts"`
	AverageScore     int             `json:"average_score"`
	HighestScore     int             `json:"highest_score"`
	LowestScore      int             `json:"lowest_score"`
	PassRate         int             `json:"pass_rate"` // percent
	AverageTimeSpent int             `json:"average_time_spent"`
	Questions        []QuestionStats `json:"questions"`
	RecentAttempts   []StudentResult `json:"recent_attempts"`
	Results          []StudentResult `json:"results"`
}
