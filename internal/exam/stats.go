package exam

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const questionTextDisplayLimit = 100

// ExamStatistics computes the teacher-facing aggregate over the exam's
// completed attempts. Nothing is cached; every call recomputes from
// storage. Per-question counts fan out concurrently, they carry no
// ordering dependency between each other.
func (s *Service) ExamStatistics(ctx context.Context, examID string) (Statistics, error) {
	st, err := s.examStatistics(ctx, examID)
	if err != nil {
		s.fail("statistics", err, logrus.Fields{"exam_id": examID})
		return Statistics{}, fmt.Errorf("failed to load exam statistics: %w", err)
	}
	return st, nil
}

func (s *Service) examStatistics(ctx context.Context, examID string) (Statistics, error) {
	gate, err := s.store.GetExamGate(ctx, examID)
	if err != nil {
		return Statistics{}, err
	}
	eqs, err := s.store.ExamQuestions(ctx, examID)
	if err != nil {
		return Statistics{}, err
	}

	attempts, err := s.store.CompletedAttempts(ctx, examID)
	if err != nil {
		return Statistics{}, err
	}
	st := Statistics{
		ExamID:         gate.Exam.ID,
		Questions:      []QuestionStats{},
		RecentAttempts: []StudentResult{},
		Results:        []StudentResult{},
	}
	if len(attempts) == 0 {
		return st, nil
	}

	st.TotalAttempts = len(attempts)
	st.HighestScore = attempts[0].Score
	st.LowestScore = attempts[0].Score
	scoreSum, timeSum, timed, passed := 0, 0, 0, 0
	for _, a := range attempts {
		scoreSum += a.Score
		if a.Score > st.HighestScore {
			st.HighestScore = a.Score
		}
		if a.Score < st.LowestScore {
			st.LowestScore = a.Score
		}
		if a.IsPassed {
			passed++
		}
		if a.TimeSpent > 0 {
			timeSum += a.TimeSpent
			timed++
		}
	}
	st.AverageScore = roundDiv(scoreSum, len(attempts))
	st.PassRate = roundPercent(passed, len(attempts))
	if timed > 0 {
		st.AverageTimeSpent = roundDiv(timeSum, timed)
	}

	st.Questions = make([]QuestionStats, len(eqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, eq := range eqs {
		i, eq := i, eq
		g.Go(func() error {
			total, correct, err := s.store.QuestionAttemptStats(gctx, examID, eq.QuestionID)
			if err != nil {
				return err
			}
			st.Questions[i] = QuestionStats{
				QuestionID:  eq.QuestionID,
				Position:    eq.Position,
				Text:        truncate(eq.Question.Text, questionTextDisplayLimit),
				Attempts:    total,
				Correct:     correct,
				CorrectRate: roundPercent(correct, total),
				Points:      eq.Points,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Statistics{}, err
	}

	results := make([]StudentResult, len(attempts))
	for i, a := range attempts {
		r := StudentResult{
			AttemptID:  a.ID,
			UserID:     a.UserID,
			Score:      a.Score,
			IsPassed:   a.IsPassed,
			TimeSpent:  a.TimeSpent,
			IsTimedOut: a.IsTimedOut,
		}
		if a.CompletedAt != nil {
			r.CompletedAt = *a.CompletedAt
		}
		results[i] = r
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CompletedAt > results[j].CompletedAt })
	st.Results = results
	if len(results) > 10 {
		st.RecentAttempts = results[:10]
	} else {
		st.RecentAttempts = results
	}
	return st, nil
}

func roundDiv(num, den int) int {
	if den <= 0 {
		return 0
	}
	return int(math.Round(float64(num) / float64(den)))
}

// truncate cuts to n characters, not bytes, so multibyte text never
// ends up split mid-rune.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
