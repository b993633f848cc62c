package exam

import "context"

type ListOpts struct {
	CourseID   string
	Q          string
	Limit      int
	Offset     int
	ViewerRole string // "student" | "teacher" | "admin"
}

type AttemptListOpts struct {
	ExamID string
	UserID string
	Active *bool // nil: any state
	Limit  int
	Offset int
}

// Store is the persistence boundary for the attempt lifecycle. It is
// intentionally CRUD-shaped: all business rules (publish gating, time
// limits, attempt caps, scoring) live in Service.
type Store interface {
	PutCourse(ctx context.Context, c Course) error
	PutChapter(ctx context.Context, ch Chapter) error
	PutExam(ctx context.Context, e Exam) error

	// GetExamGate returns the exam row plus the publish flags of its
	// parent course and chapter. It does not load the question tree.
	GetExamGate(ctx context.Context, examID string) (ExamGate, error)
	// GetExam returns the exam with its questions ordered by position.
	// withAnswers=false strips option correctness for student delivery.
	GetExam(ctx context.Context, examID string, withAnswers bool) (Exam, error)
	ListExams(ctx context.Context, opts ListOpts) ([]ExamSummary, error)
	ExamQuestions(ctx context.Context, examID string) ([]ExamQuestion, error)
	GetOption(ctx context.Context, optionID string) (Option, error)

	// CreateAttempt persists a new active attempt. Implementations must
	// reject a second active attempt for the same (user, exam) with
	// ErrAttemptActive.
	CreateAttempt(ctx context.Context, a Attempt) error
	ActiveAttempt(ctx context.Context, userID, examID string) (Attempt, error)
	GetAttempt(ctx context.Context, attemptID string) (Attempt, error)
	CompletedAttemptCount(ctx context.Context, userID, examID string) (int, error)
	CompletedAttempts(ctx context.Context, examID string) ([]Attempt, error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)
	// FinalizeAttempt writes the terminal fields (completed/submitted
	// timestamps, score, points, pass flag, time spent) in one update.
	FinalizeAttempt(ctx context.Context, a Attempt) error

	UpsertQuestionAttempt(ctx context.Context, qa QuestionAttempt) (QuestionAttempt, error)
	QuestionAttempts(ctx context.Context, attemptID string) ([]QuestionAttempt, error)
	// QuestionAttemptStats counts answers to one question across the
	// exam's completed attempts.
	QuestionAttemptStats(ctx context.Context, examID, questionID string) (total, correct int, err error)
}
