package exam

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AuditLog receives lifecycle events (AttemptStarted, AttemptCompleted,
// AttemptTimedOut). Append failures are logged, never propagated.
type AuditLog interface {
	Append(ctx context.Context, typ, key string, v interface{}) error
}

// Service implements the attempt lifecycle on top of a Store: publish
// gating, resume/timeout handling, attempt caps, answer recording and
// scoring. One attempt per (user, exam) may be active at a time; an
// attempt whose time limit has elapsed is finalized lazily on the next
// read, there is no background sweeper.
type Service struct {
	store Store
	audit AuditLog
	log   *logrus.Logger
	now   func() time.Time
}

func NewService(store Store, audit AuditLog, log *logrus.Logger, now func() time.Time) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, audit: audit, log: log, now: now}
}

// StartAttempt validates access, then resumes the active attempt if one
// exists (auto-completing it first when its time limit has elapsed) or
// creates a fresh one, enforcing the exam's max-attempt cap.
func (s *Service) StartAttempt(ctx context.Context, userID, examID string) (AttemptDetail, error) {
	d, err := s.startAttempt(ctx, userID, examID)
	if err != nil {
		s.fail("start", err, logrus.Fields{"user_id": userID, "exam_id": examID})
		return AttemptDetail{}, fmt.Errorf("failed to start exam attempt: %w", err)
	}
	return d, nil
}

// ResumeAttempt converges with StartAttempt: no active attempt starts a
// new one, a timed-out attempt is closed and replaced, anything else is
// returned unchanged.
func (s *Service) ResumeAttempt(ctx context.Context, userID, examID string) (AttemptDetail, error) {
	d, err := s.startAttempt(ctx, userID, examID)
	if err != nil {
		s.fail("resume", err, logrus.Fields{"user_id": userID, "exam_id": examID})
		return AttemptDetail{}, fmt.Errorf("failed to resume exam attempt: %w", err)
	}
	return d, nil
}

func (s *Service) startAttempt(ctx context.Context, userID, examID string) (AttemptDetail, error) {
	gate, err := s.gate(ctx, examID)
	if err != nil {
		return AttemptDetail{}, err
	}

	a, err := s.store.ActiveAttempt(ctx, userID, examID)
	switch {
	case err == nil:
		if !s.expired(gate.Exam, a) {
			return s.detail(ctx, a, false)
		}
		// Time limit elapsed: close the stale attempt, then fall
		// through to issue a fresh one.
		if _, err := s.finalize(ctx, gate.Exam, a); err != nil {
			return AttemptDetail{}, err
		}
	case !errors.Is(err, ErrAttemptNotFound):
		return AttemptDetail{}, err
	}

	n, err := s.store.CompletedAttemptCount(ctx, userID, examID)
	if err != nil {
		return AttemptDetail{}, err
	}
	if n >= gate.Exam.MaxAttempts {
		return AttemptDetail{}, ErrAttemptLimit
	}

	a = Attempt{
		ID:        uuid.NewString(),
		ExamID:    examID,
		UserID:    userID,
		StartedAt: s.now().Unix(),
	}
	if err := s.store.CreateAttempt(ctx, a); err != nil {
		if errors.Is(err, ErrAttemptActive) {
			// Lost a concurrent start; the winner's attempt is the one
			// to resume.
			if cur, aerr := s.store.ActiveAttempt(ctx, userID, examID); aerr == nil {
				return s.detail(ctx, cur, false)
			}
		}
		return AttemptDetail{}, err
	}
	s.event(ctx, "AttemptStarted", a.ID, a)
	return s.detail(ctx, a, false)
}

// SubmitAnswer records one answer, overwriting any prior answer to the
// same question. The attempt itself is untouched; scoring happens at
// completion.
func (s *Service) SubmitAnswer(ctx context.Context, userID, attemptID, questionID, optionID string) (QuestionAttempt, error) {
	qa, err := s.submitAnswer(ctx, userID, attemptID, questionID, optionID)
	if err != nil {
		s.fail("answer", err, logrus.Fields{"user_id": userID, "attempt_id": attemptID, "question_id": questionID})
		return QuestionAttempt{}, fmt.Errorf("failed to submit answer: %w", err)
	}
	return qa, nil
}

func (s *Service) submitAnswer(ctx context.Context, userID, attemptID, questionID, optionID string) (QuestionAttempt, error) {
	a, err := s.ownedActive(ctx, userID, attemptID)
	if err != nil {
		return QuestionAttempt{}, err
	}
	gate, err := s.store.GetExamGate(ctx, a.ExamID)
	if err != nil {
		return QuestionAttempt{}, err
	}
	if s.expired(gate.Exam, a) {
		// Rejection only; the attempt transitions on the next
		// start/resume/read.
		return QuestionAttempt{}, ErrTimeExpired
	}

	opt, err := s.store.GetOption(ctx, optionID)
	if err != nil || opt.QuestionID != questionID {
		return QuestionAttempt{}, ErrInvalidOption
	}

	points, ok, err := s.questionPoints(ctx, a.ExamID, questionID)
	if err != nil {
		return QuestionAttempt{}, err
	}
	if !ok {
		// Should not happen for well-formed exams; keep the answer
		// scorable anyway.
		s.log.WithFields(logrus.Fields{"exam_id": a.ExamID, "question_id": questionID}).
			Warn("answer to question without exam_questions row, defaulting to 1 point")
		points = 1
	}

	earned := 0
	if opt.IsCorrect {
		earned = points
	}
	return s.store.UpsertQuestionAttempt(ctx, QuestionAttempt{
		ID:               uuid.NewString(),
		AttemptID:        a.ID,
		QuestionID:       questionID,
		SelectedOptionID: optionID,
		IsCorrect:        opt.IsCorrect,
		PointsEarned:     earned,
		AnsweredAt:       s.now().Unix(),
	})
}

// CompleteAttempt scores the active attempt and writes its terminal
// fields. The result carries the full question tree with answer keys
// for a results view.
func (s *Service) CompleteAttempt(ctx context.Context, userID, attemptID string) (AttemptDetail, error) {
	d, err := s.completeAttempt(ctx, userID, attemptID)
	if err != nil {
		s.fail("complete", err, logrus.Fields{"user_id": userID, "attempt_id": attemptID})
		return AttemptDetail{}, fmt.Errorf("failed to complete exam attempt: %w", err)
	}
	return d, nil
}

func (s *Service) completeAttempt(ctx context.Context, userID, attemptID string) (AttemptDetail, error) {
	a, err := s.ownedActive(ctx, userID, attemptID)
	if err != nil {
		return AttemptDetail{}, err
	}
	gate, err := s.store.GetExamGate(ctx, a.ExamID)
	if err != nil {
		return AttemptDetail{}, err
	}
	fa, err := s.finalize(ctx, gate.Exam, a)
	if err != nil {
		return AttemptDetail{}, err
	}
	return s.detail(ctx, fa, true)
}

// GetAttempt returns one attempt for its owner, auto-completing it
// first when the time limit has elapsed. Completed attempts include
// answer keys.
func (s *Service) GetAttempt(ctx context.Context, userID, attemptID string) (AttemptDetail, error) {
	d, err := s.getAttempt(ctx, userID, attemptID)
	if err != nil {
		s.fail("get", err, logrus.Fields{"user_id": userID, "attempt_id": attemptID})
		return AttemptDetail{}, fmt.Errorf("failed to load exam attempt: %w", err)
	}
	return d, nil
}

func (s *Service) getAttempt(ctx context.Context, userID, attemptID string) (AttemptDetail, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return AttemptDetail{}, err
	}
	if a.UserID != userID {
		return AttemptDetail{}, ErrAttemptNotFound
	}
	gate, err := s.store.GetExamGate(ctx, a.ExamID)
	if err != nil {
		return AttemptDetail{}, err
	}
	if a.Active() && s.expired(gate.Exam, a) {
		if a, err = s.finalize(ctx, gate.Exam, a); err != nil {
			return AttemptDetail{}, err
		}
	}
	return s.detail(ctx, a, !a.Active())
}

// ValidateAttempt is an advisory guard for clients about to submit. It
// never fails: any internal error degrades to invalid.
func (s *Service) ValidateAttempt(ctx context.Context, userID, attemptID string) Validation {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil || a.UserID != userID {
		return Validation{Valid: false, Reason: "attempt not found"}
	}
	gate, err := s.store.GetExamGate(ctx, a.ExamID)
	if err != nil || !gate.Exam.IsPublished {
		return Validation{Valid: false, Reason: "exam not published"}
	}
	if !a.Active() {
		return Validation{Valid: false, Reason: "attempt already completed"}
	}
	if s.expired(gate.Exam, a) {
		return Validation{Valid: false, Reason: "time limit exceeded"}
	}
	return Validation{Valid: true}
}

// GetProgress reports how far the user's active attempt has advanced,
// or nil when there is none. Advisory: errors degrade to nil so a page
// render never breaks on it.
func (s *Service) GetProgress(ctx context.Context, userID, examID string) *Progress {
	a, err := s.store.ActiveAttempt(ctx, userID, examID)
	if err != nil {
		if !errors.Is(err, ErrAttemptNotFound) {
			s.log.WithError(err).WithField("exam_id", examID).Debug("progress lookup failed")
		}
		return nil
	}
	gate, err := s.store.GetExamGate(ctx, examID)
	if err != nil {
		return nil
	}
	eqs, err := s.store.ExamQuestions(ctx, examID)
	if err != nil {
		return nil
	}
	qas, err := s.store.QuestionAttempts(ctx, a.ID)
	if err != nil {
		return nil
	}
	return &Progress{
		AttemptID:         a.ID,
		TotalQuestions:    len(eqs),
		AnsweredQuestions: len(qas),
		Percent:           roundPercent(len(qas), len(eqs)),
		StartedAt:         a.StartedAt,
		TimeLimit:         gate.Exam.TimeLimit,
	}
}

// GetExamForUser returns the exam plus the user's attempts on it, for
// the exam landing page. Students get the published, answer-stripped
// view; authors see unpublished exams with answer keys included.
func (s *Service) GetExamForUser(ctx context.Context, userID, examID string, includeUnpublished bool) (Exam, []Attempt, error) {
	var ex Exam
	var err error
	if includeUnpublished {
		ex, err = s.store.GetExam(ctx, examID, true)
	} else {
		if _, err = s.gate(ctx, examID); err == nil {
			ex, err = s.store.GetExam(ctx, examID, false)
		}
	}
	if err != nil {
		return Exam{}, nil, err
	}
	attempts, err := s.store.ListAttempts(ctx, AttemptListOpts{ExamID: examID, UserID: userID})
	if err != nil {
		return Exam{}, nil, err
	}
	return ex, attempts, nil
}

func (s *Service) ListExams(ctx context.Context, opts ListOpts) ([]ExamSummary, error) {
	return s.store.ListExams(ctx, opts)
}

func (s *Service) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	return s.store.ListAttempts(ctx, opts)
}

/* ---- internals ---- */

// gate loads the exam and enforces the publish chain: unpublished exams
// read as absent, unpublished course or chapter reads as unavailable.
func (s *Service) gate(ctx context.Context, examID string) (ExamGate, error) {
	gate, err := s.store.GetExamGate(ctx, examID)
	if err != nil {
		return ExamGate{}, err
	}
	if !gate.Exam.IsPublished {
		return ExamGate{}, ErrExamNotFound
	}
	if !gate.CoursePublished {
		return ExamGate{}, ErrNotPublished
	}
	if gate.HasChapter && !gate.ChapterPublished {
		return ExamGate{}, ErrNotPublished
	}
	return gate, nil
}

// ownedActive fetches an attempt and checks ownership and liveness;
// both failure modes read as not-found to the caller.
func (s *Service) ownedActive(ctx context.Context, userID, attemptID string) (Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.UserID != userID || !a.Active() {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, nil
}

func (s *Service) expired(e Exam, a Attempt) bool {
	return e.TimeLimit > 0 && s.elapsedMinutes(a.StartedAt) >= e.TimeLimit
}

func (s *Service) elapsedMinutes(startedAt int64) int {
	d := s.now().Unix() - startedAt
	if d < 0 {
		return 0
	}
	return int(d / 60)
}

// finalize is the scorer: it aggregates recorded answers against the
// exam's question composition and writes the terminal fields in one
// update.
func (s *Service) finalize(ctx context.Context, e Exam, a Attempt) (Attempt, error) {
	eqs, err := s.store.ExamQuestions(ctx, e.ID)
	if err != nil {
		return Attempt{}, err
	}
	points := make(map[string]int, len(eqs))
	maxPoints := 0
	for _, eq := range eqs {
		points[eq.QuestionID] = eq.Points
		maxPoints += eq.Points
	}

	qas, err := s.store.QuestionAttempts(ctx, a.ID)
	if err != nil {
		return Attempt{}, err
	}
	total := 0
	for _, qa := range qas {
		if !qa.IsCorrect {
			continue
		}
		p, ok := points[qa.QuestionID]
		if !ok {
			p = 1
		}
		total += p
	}

	now := s.now().Unix()
	a.TimeSpent = s.elapsedMinutes(a.StartedAt)
	a.IsTimedOut = e.TimeLimit > 0 && a.TimeSpent >= e.TimeLimit
	a.TotalPoints = total
	a.MaxPoints = maxPoints
	a.Score = roundPercent(total, maxPoints)
	a.IsPassed = a.Score >= e.PassingScore
	a.CompletedAt = &now
	a.SubmittedAt = &now

	if err := s.store.FinalizeAttempt(ctx, a); err != nil {
		return Attempt{}, err
	}
	typ := "AttemptCompleted"
	if a.IsTimedOut {
		typ = "AttemptTimedOut"
	}
	s.event(ctx, typ, a.ID, a)
	return a, nil
}

func (s *Service) detail(ctx context.Context, a Attempt, withAnswers bool) (AttemptDetail, error) {
	ex, err := s.store.GetExam(ctx, a.ExamID, withAnswers)
	if err != nil {
		return AttemptDetail{}, err
	}
	qas, err := s.store.QuestionAttempts(ctx, a.ID)
	if err != nil {
		return AttemptDetail{}, err
	}
	return AttemptDetail{Attempt: a, Exam: ex, Answers: qas}, nil
}

func (s *Service) questionPoints(ctx context.Context, examID, questionID string) (int, bool, error) {
	eqs, err := s.store.ExamQuestions(ctx, examID)
	if err != nil {
		return 0, false, err
	}
	for _, eq := range eqs {
		if eq.QuestionID == questionID {
			return eq.Points, true, nil
		}
	}
	return 0, false, nil
}

func (s *Service) event(ctx context.Context, typ, key string, v interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, typ, key, v); err != nil {
		s.log.WithError(err).WithField("type", typ).Warn("event append failed")
	}
}

func (s *Service) fail(op string, err error, fields logrus.Fields) {
	s.log.WithError(err).WithField("op", op).WithFields(fields).Error("exam attempt operation failed")
}

func roundPercent(num, den int) int {
	if den <= 0 {
		return 0
	}
	return int(math.Round(float64(num) / float64(den) * 100))
}
