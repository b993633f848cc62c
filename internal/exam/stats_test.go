package exam_test

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/study-pulse/studypulse-lms/internal/exam"
)

func TestExamStatistics_NoAttempts(t *testing.T) {
	f := seedBasic(t, nil)
	st, err := f.svc.ExamStatistics(context.Background(), "exam-1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if st.ExamID != "exam-1" || st.TotalAttempts != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.AverageScore != 0 || st.HighestScore != 0 || st.LowestScore != 0 || st.PassRate != 0 {
		t.Fatalf("zero-attempt aggregates must be zero: %+v", st)
	}
	// Empty, never nil: these serialize as [] for the dashboard.
	if st.Questions == nil || st.RecentAttempts == nil || st.Results == nil {
		t.Fatalf("expected empty slices, got nils: %+v", st)
	}
}

func TestExamStatistics_UnknownExam(t *testing.T) {
	f := seedBasic(t, nil)
	if _, err := f.svc.ExamStatistics(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown exam")
	}
}

func TestExamStatistics_Aggregates(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()

	// u1 answers everything correctly, u2 gets one of two, u3 none.
	complete := func(user string, answers map[string]string, minutes time.Duration) {
		t.Helper()
		d, err := f.svc.StartAttempt(ctx, user, "exam-1")
		if err != nil {
			t.Fatalf("%s start: %v", user, err)
		}
		for q, o := range answers {
			if _, err := f.svc.SubmitAnswer(ctx, user, d.ID, q, o); err != nil {
				t.Fatalf("%s answer %s: %v", user, q, err)
			}
		}
		f.clk.advance(minutes)
		if _, err := f.svc.CompleteAttempt(ctx, user, d.ID); err != nil {
			t.Fatalf("%s complete: %v", user, err)
		}
	}
	complete("u1", map[string]string{"q1": "o1a", "q2": "o2a"}, 10*time.Minute) // 100
	complete("u2", map[string]string{"q1": "o1a", "q2": "o2b"}, 20*time.Minute) // 50
	complete("u3", map[string]string{"q1": "o1b"}, 5*time.Minute)               // 0

	st, err := f.svc.ExamStatistics(ctx, "exam-1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if st.TotalAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", st.TotalAttempts)
	}
	if st.AverageScore != 50 || st.HighestScore != 100 || st.LowestScore != 0 {
		t.Fatalf("score aggregates off: avg=%d high=%d low=%d", st.AverageScore, st.HighestScore, st.LowestScore)
	}
	if st.PassRate != 33 { // 1 of 3 passed at 70%
		t.Fatalf("expected pass rate 33, got %d", st.PassRate)
	}
	if st.AverageTimeSpent != 12 { // round((10+20+5)/3)
		t.Fatalf("expected average time 12, got %d", st.AverageTimeSpent)
	}

	if len(st.Questions) != 2 {
		t.Fatalf("expected per-question stats for 2 questions, got %d", len(st.Questions))
	}
	q1 := st.Questions[0]
	if q1.QuestionID != "q1" || q1.Attempts != 3 || q1.Correct != 2 || q1.CorrectRate != 67 {
		t.Fatalf("q1 stats off: %+v", q1)
	}
	q2 := st.Questions[1]
	if q2.QuestionID != "q2" || q2.Attempts != 2 || q2.Correct != 1 || q2.CorrectRate != 50 {
		t.Fatalf("q2 stats off: %+v", q2)
	}

	if len(st.Results) != 3 || len(st.RecentAttempts) != 3 {
		t.Fatalf("expected 3 results, got %d/%d", len(st.Results), len(st.RecentAttempts))
	}
	// Newest completion first.
	if st.Results[0].UserID != "u3" {
		t.Fatalf("results not ordered by completion time: %+v", st.Results)
	}
	if !st.Results[2].IsPassed || st.Results[2].UserID != "u1" {
		t.Fatalf("u1's passing result missing: %+v", st.Results)
	}
}

func TestExamStatistics_ExcludesActiveAttempts(t *testing.T) {
	f := seedBasic(t, nil)
	ctx := context.Background()

	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.SubmitAnswer(ctx, "u1", d.ID, "q1", "o1a"); err != nil {
		t.Fatal(err)
	}
	st, err := f.svc.ExamStatistics(ctx, "exam-1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if st.TotalAttempts != 0 {
		t.Fatalf("active attempts must not count, got %d", st.TotalAttempts)
	}
	for _, q := range st.Questions {
		if q.Attempts != 0 {
			t.Fatalf("answers from active attempts must not count: %+v", q)
		}
	}
}

func TestExamStatistics_TruncatesQuestionText(t *testing.T) {
	f := seedBasic(t, func(e *exam.Exam) {
		// Character limit, not bytes: multibyte text must keep its full
		// 100 characters and stay valid UTF-8 after the cut.
		e.Questions[0].Question.Text = strings.Repeat("é", 150)
		e.Questions[1].Question.Text = strings.Repeat("x", 150)
	})
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.CompleteAttempt(ctx, "u1", d.ID); err != nil {
		t.Fatal(err)
	}
	st, err := f.svc.ExamStatistics(ctx, "exam-1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if got := utf8.RuneCountInString(st.Questions[0].Text); got != 100 {
		t.Fatalf("expected 100 characters of multibyte text, got %d", got)
	}
	if !utf8.ValidString(st.Questions[0].Text) {
		t.Fatalf("truncation produced invalid UTF-8")
	}
	if got := len(st.Questions[1].Text); got != 100 {
		t.Fatalf("expected ascii text truncated to 100, got %d", got)
	}
}

func TestExamStatistics_ShortTextKeptWhole(t *testing.T) {
	text := strings.Repeat("é", 99)
	f := seedBasic(t, func(e *exam.Exam) {
		e.Questions[0].Question.Text = text
	})
	ctx := context.Background()
	d, err := f.svc.StartAttempt(ctx, "u1", "exam-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.CompleteAttempt(ctx, "u1", d.ID); err != nil {
		t.Fatal(err)
	}
	st, err := f.svc.ExamStatistics(ctx, "exam-1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if st.Questions[0].Text != text {
		t.Fatalf("99-character text must not be truncated, got %d characters",
			utf8.RuneCountInString(st.Questions[0].Text))
	}
}
