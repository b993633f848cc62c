package exam_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/study-pulse/studypulse-lms/internal/exam"
)

/* ---------------- test fixtures ---------------- */

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeAudit struct {
	mu    sync.Mutex
	types []string
}

func (f *fakeAudit) Append(_ context.Context, typ, _ string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, typ)
	return nil
}

type fixture struct {
	svc   *exam.Service
	store exam.Store
	clk   *clock
	audit *fakeAudit
}

// seedBasic creates a published course/chapter/exam: 30 minute limit,
// passing score 70, 2 attempts allowed, two questions worth 5 points
// each. Option "o1a" and "o2a" are the correct answers.
func seedBasic(t *testing.T, mutate func(*exam.Exam)) fixture {
	t.Helper()
	ctx := context.Background()
	store := exam.NewMemoryStore()
	clk := newClock()
	audit := &fakeAudit{}
	svc := exam.NewService(store, audit, nil, clk.now)

	if err := store.PutCourse(ctx, exam.Course{ID: "c1", Title: "Algebra", IsPublished: true}); err != nil {
		t.Fatalf("seed course: %v", err)
	}
	if err := store.PutChapter(ctx, exam.Chapter{ID: "ch1", CourseID: "c1", Title: "Linear equations", IsPublished: true}); err != nil {
		t.Fatalf("seed chapter: %v", err)
	}
	e := exam.Exam{
		ID:           "exam-1",
		CourseID:     "c1",
		ChapterID:    "ch1",
		Title:        "Midterm",
		IsPublished:  true,
		TimeLimit:    30,
		MaxAttempts:  2,
		PassingScore: 70,
		Questions: []exam.ExamQuestion{
			{
				ExamID: "exam-1", QuestionID: "q1", Position: 1, Points: 5,
				Question: exam.Question{
					ID: "q1", Text: "2x = 4, x = ?", Type: exam.TypeMultipleChoice,
					Options: []exam.Option{
						{ID: "o1a", QuestionID: "q1", Text: "2", IsCorrect: true},
						{ID: "o1b", QuestionID: "q1", Text: "4"},
						{ID: "o1c", QuestionID: "q1", Text: "8"},
					},
				},
			},
			{
				ExamID: "exam-1", QuestionID: "q2", Position: 2, Points: 5,
				Question: exam.Question{
					ID: "q2", Text: "0 is even", Type: exam.TypeTrueFalse,
					Options: []exam.Option{
						{ID: "o2a", QuestionID: "q2", Text: "true", IsCorrect: true},
						{ID: "o2b", QuestionID: "q2", Text: "false"},
					},
				},
			},
		},
	}
	if mutate != nil {
		mutate(&e)
	}
	if err := store.PutExam(ctx, e); err != nil {
		t.Fatalf("seed exam: %v", err)
	}
	return fixture{svc: svc, store: store, clk: clk, audit: audit}
}

/* ---------------- access validation ---------------- */

func TestStart_UnpublishedExamReadsAsNotFound(t *testing.T) {
	f := seedBasic(t, func(e *exam.Exam) { e.IsPublished = false })
	_, err := f.svc.StartAttempt(context.Background(), "u1", "exam-1")
	if !errors.Is(err, exam.ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound, got %v", err)
	}
}

func TestStart_UnpublishedCourse(t *testing.T) {
	f := seedBasic(t, nil)
	if err := f.store.PutCourse(context.Background(), exam.Course{ID: "c1", Title: "Algebra"}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.StartAttempt(context.Background(), "u1", "exam-1")
	if !errors.Is(err, exam.ErrNotPublished) {
		t.Fatalf("expected ErrNotPublished, got %v", err)
	}
}

func TestStart_UnpublishedChapter(t *testing.T) {
	f := seedBasic(t, nil)
	if err := f.store.PutChapter(context.Background(), exam.Chapter{ID: "ch1", CourseID: "c1"}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.StartAttempt(context.Background(), "u1", "exam-1")
	if !errors.Is(err, exam.ErrNotPublished) {
		t.Fatalf("expected ErrNotPublished, got %v", err)
	}
}

func TestStart_UnknownExam(t *testing.T) {
	f := seedBasic(t, nil)
	_, err := f.svc.StartAttempt(context.Background(), "u1", "missing")
	if !errors.Is(err, exam.ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound, got %v", err)
	}
}

/* ---------------- start / resume ---------------- */

func TestStart_IsIdempotentWhileActive(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()
	first, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clk.advance(5 * time.Minute)
	second, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same attempt, got %q then %q", first.ID, second.ID)
	}
	if second.StartedAt != first.StartedAt {
		t.Fatalf("resume must not reset started_at")
	}
}

func TestStart_StripsAnswerKeys(t *testing.T) {
	f := seedBasic(t, nil)
	d, err := f.svc.StartAttempt(context.Background(), "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(d.Exam.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(d.Exam.Questions))
	}
	for _, eq := range d.Exam.Questions {
		for _, o := range eq.Question.Options {
			if o.IsCorrect {
				t.Fatalf("answer key leaked on option %s", o.ID)
			}
		}
	}
}

func TestStart_QuestionsOrderedByPosition(t *testing.T) {
	f := seedBasic(t, func(e *exam.Exam) {
		e.Questions[0].Position = 2
		e.Questions[1].Position = 1
	})
	d, err := f.svc.StartAttempt(context.Background(), "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if d.Exam.Questions[0].QuestionID != "q2" || d.Exam.Questions[1].QuestionID != "q1" {
		t.Fatalf("questions not ordered by position: %v, %v",
			d.Exam.Questions[0].QuestionID, d.Exam.Questions[1].QuestionID)
	}
}

func TestStart_TimedOutAttemptIsClosedAndReplaced(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()
	first, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clk.advance(31 * time.Minute)
	second, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a fresh attempt after timeout")
	}
	old, err := f.svc.GetAttempt(ctx, "u1", first.ID)
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if old.Active() || !old.IsTimedOut {
		t.Fatalf("stale attempt not auto-completed: active=%v timed_out=%v", old.Active(), old.IsTimedOut)
	}
}

func TestResume_ConvergesWithStart(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()
	started, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resumed, err := f.svc.ResumeAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ID != started.ID {
		t.Fatalf("resume returned a different attempt")
	}
}

func TestStart_AttemptLimit(t *testing.T) {
	f := seedBasic(t, func(e *exam.Exam) { e.MaxAttempts = 1 })
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.CompleteAttempt(ctx, "u1", d.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err = f.svc.StartAttempt(ctx, "u1", "exam-1")
	if !errors.Is(err, exam.ErrAttemptLimit) {
		t.Fatalf("expected ErrAttemptLimit, got %v", err)
	}
}

/* ---------------- answers ---------------- */

func TestSubmitAnswer_OverwritesInsteadOfDuplicating(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := f.svc.SubmitAnswer(ctx, "u1", d.ID, "q1", "o1b")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if first.IsCorrect || first.PointsEarned != 0 {
		t.Fatalf("wrong answer scored: %+v", first)
	}
	second, err := f.svc.SubmitAnswer(ctx, "u1", d.ID, "q1", "o1a")
	if err != nil {
		t.Fatalf("re-answer: %v", err)
	}
	if !second.IsCorrect || second.PointsEarned != 5 {
		t.Fatalf("correct answer not scored: %+v", second)
	}
	if second.ID != first.ID {
		t.Fatalf("re-answer created a new row: %q vs %q", second.ID, first.ID)
	}
	qas, err := f.store.QuestionAttempts(ctx, d.ID)
	if err != nil {
		t.Fatalf("question attempts: %v", err)
	}
	if len(qas) != 1 {
		t.Fatalf("expected exactly one row per (attempt, question), got %d", len(qas))
	}
	if qas[0].SelectedOptionID != "o1a" {
		t.Fatalf("last answer did not win: %q", qas[0].SelectedOptionID)
	}
}

func TestSubmitAnswer_OptionMustBelongToQuestion(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.SubmitAnswer(ctx, "u1", d.ID, "q1", "o2a"); !errors.Is(err, exam.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
	if _, err := f.svc.SubmitAnswer(ctx, "u1", d.ID, "q1", "nope"); !errors.Is(err, exam.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption for unknown option, got %v", err)
	}
}

func TestSubmitAnswer_AfterTimeLimit(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clk.advance(30 * time.Minute)
	if _, err := f.svc.SubmitAnswer(ctx, "u1", d.ID, "q1", "o1a"); !errors.Is(err, exam.ErrTimeExpired) {
		t.Fatalf("expected ErrTimeExpired, got %v", err)
	}
	// Rejection only: no answer row, attempt still active in storage.
	qas, err := f.store.QuestionAttempts(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(qas) != 0 {
		t.Fatalf("rejected answer was persisted")
	}
	a, err := f.store.GetAttempt(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Active() {
		t.Fatalf("submit must not transition the attempt")
	}
}

func TestSubmitAnswer_WrongUserOrCompleted(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.SubmitAnswer(ctx, "u2", d.ID, "q1", "o1a"); !errors.Is(err, exam.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound for foreign attempt, got %v", err)
	}
	if _, err := f.svc.CompleteAttempt(ctx, "u1", d.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SubmitAnswer(ctx, "u1", d.ID, "q1", "o1a"); !errors.Is(err, exam.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound after completion, got %v", err)
	}
}

/* ---------------- completion / scoring ---------------- */

func TestComplete_AllCorrect(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, ans := range [][2]string{{"q1", "o1a"}, {"q2", "o2a"}} {
		if _, err := f.svc.SubmitAnswer(ctx, "u1", d.ID, ans[0], ans[1]); err != nil {
			t.Fatalf("answer %s: %v", ans[0], err)
		}
	}
	f.clk.advance(10 * time.Minute)
	res, err := f.svc.CompleteAttempt(ctx, "u1", d.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Score != 100 || !res.IsPassed {
		t.Fatalf("expected score=100 passed, got score=%d passed=%v", res.Score, res.IsPassed)
	}
	if res.TotalPoints != 10 || res.MaxPoints != 10 {
		t.Fatalf("expected 10/10 points, got %d/%d", res.TotalPoints, res.MaxPoints)
	}
	if res.TimeSpent != 10 || res.IsTimedOut {
		t.Fatalf("expected time_spent=10 not timed out, got %d/%v", res.TimeSpent, res.IsTimedOut)
	}
	if res.CompletedAt == nil || res.SubmittedAt == nil {
		t.Fatalf("terminal timestamps not set")
	}
}

func TestComplete_HalfCorrect(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.SubmitAnswer(ctx, "u1", d.ID, "q1", "o1a"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SubmitAnswer(ctx, "u1", d.ID, "q2", "o2b"); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.CompleteAttempt(ctx, "u1", d.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Score != 50 || res.IsPassed {
		t.Fatalf("expected score=50 failed, got score=%d passed=%v", res.Score, res.IsPassed)
	}
	if res.TotalPoints != 5 {
		t.Fatalf("expected 5 points, got %d", res.TotalPoints)
	}
}

func TestComplete_NoQuestionsScoresZero(t *testing.T) {
	f := seedBasic(t, func(e *exam.Exam) { e.Questions = nil })
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := f.svc.CompleteAttempt(ctx, "u1", d.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Score != 0 || res.MaxPoints != 0 {
		t.Fatalf("expected zero score on empty exam, got %d (max %d)", res.Score, res.MaxPoints)
	}
}

func TestComplete_Twice(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.CompleteAttempt(ctx, "u1", d.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.svc.CompleteAttempt(ctx, "u1", d.ID); !errors.Is(err, exam.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound on re-complete, got %v", err)
	}
}

func TestComplete_EmitsEvent(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.CompleteAttempt(ctx, "u1", d.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	want := []string{"AttemptStarted", "AttemptCompleted"}
	if len(f.audit.types) != len(want) {
		t.Fatalf("expected %v events, got %v", want, f.audit.types)
	}
	for i := range want {
		if f.audit.types[i] != want[i] {
			t.Fatalf("expected %v events, got %v", want, f.audit.types)
		}
	}
}

/* ---------------- lazy timeout on read ---------------- */

func TestGetAttempt_AutoCompletesAfterTimeout(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.SubmitAnswer(ctx, "u1", d.ID, "q1", "o1a"); err != nil {
		t.Fatal(err)
	}
	f.clk.advance(31 * time.Minute)
	got, err := f.svc.GetAttempt(ctx, "u1", d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active() {
		t.Fatalf("timed-out attempt not auto-completed")
	}
	if !got.IsTimedOut {
		t.Fatalf("is_timed_out not set")
	}
	if got.Score != 50 || got.TotalPoints != 5 {
		t.Fatalf("pre-expiry answers not reflected: score=%d points=%d", got.Score, got.TotalPoints)
	}
	if got.TimeSpent != 31 {
		t.Fatalf("expected time_spent=31, got %d", got.TimeSpent)
	}
}

func TestGetAttempt_UntimedNeverExpires(t *testing.T) {
	f := seedBasic(t, func(e *exam.Exam) { e.TimeLimit = 0 })
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clk.advance(48 * time.Hour)
	got, err := f.svc.GetAttempt(ctx, "u1", d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Active() {
		t.Fatalf("untimed attempt must stay active")
	}
}

func TestGetExamForUser_UnpublishedVisibility(t *testing.T) {
	f := seedBasic(t, func(e *exam.Exam) { e.IsPublished = false })
	ctx := context.Background()

	if _, _, err := f.svc.GetExamForUser(ctx, "u1", "exam-1", false); !errors.Is(err, exam.ErrExamNotFound) {
		t.Fatalf("student view of unpublished exam: expected ErrExamNotFound, got %v", err)
	}

	ex, _, err := f.svc.GetExamForUser(ctx, "t1", "exam-1", true)
	if err != nil {
		t.Fatalf("author view of unpublished exam: %v", err)
	}
	if ex.IsPublished {
		t.Fatalf("seed drift: exam should be unpublished")
	}
	// Authors get the answer keys.
	keyed := false
	for _, eq := range ex.Questions {
		for _, o := range eq.Question.Options {
			keyed = keyed || o.IsCorrect
		}
	}
	if !keyed {
		t.Fatalf("author view should include answer keys")
	}
}

func TestGetExamForUser_StudentViewStripped(t *testing.T) {
	f := seedBasic(t, nil)
	ex, _, err := f.svc.GetExamForUser(context.Background(), "u1", "exam-1", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, eq := range ex.Questions {
		for _, o := range eq.Question.Options {
			if o.IsCorrect {
				t.Fatalf("answer key leaked on option %s", o.ID)
			}
		}
	}
}

/* ---------------- advisory reads ---------------- */

func TestValidateAttempt_States(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()

	if v := f.svc.ValidateAttempt(ctx, "u1", "missing"); v.Valid || v.Reason != "attempt not found" {
		t.Fatalf("missing: %+v", v)
	}

	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if v := f.svc.ValidateAttempt(ctx, "u1", d.ID); !v.Valid {
		t.Fatalf("active attempt invalid: %+v", v)
	}
	if v := f.svc.ValidateAttempt(ctx, "u2", d.ID); v.Valid || v.Reason != "attempt not found" {
		t.Fatalf("foreign attempt: %+v", v)
	}

	f.clk.advance(30 * time.Minute)
	if v := f.svc.ValidateAttempt(ctx, "u1", d.ID); v.Valid || v.Reason != "time limit exceeded" {
		t.Fatalf("expired attempt: %+v", v)
	}

	if _, err := f.svc.CompleteAttempt(ctx, "u1", d.ID); err != nil {
		t.Fatal(err)
	}
	if v := f.svc.ValidateAttempt(ctx, "u1", d.ID); v.Valid || v.Reason != "attempt already completed" {
		t.Fatalf("completed attempt: %+v", v)
	}
}

func TestGetProgress(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()

	if p := f.svc.GetProgress(ctx, "u1", "exam-1"); p != nil {
		t.Fatalf("expected nil progress before start, got %+v", p)
	}

	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.SubmitAnswer(ctx, "u1", d.ID, "q1", "o1a"); err != nil {
		t.Fatal(err)
	}
	p := f.svc.GetProgress(ctx, "u1", "exam-1")
	if p == nil {
		t.Fatalf("expected progress for active attempt")
	}
	if p.AttemptID != d.ID || p.TotalQuestions != 2 || p.AnsweredQuestions != 1 || p.Percent != 50 {
		t.Fatalf("unexpected progress: %+v", p)
	}
	if p.TimeLimit != 30 {
		t.Fatalf("time limit not propagated: %+v", p)
	}
}
