package exam

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memoryStore keeps the whole model in maps. It backs unit tests and
// single-user offline runs; the SQL store is the production path.
type memoryStore struct {
	mu               sync.RWMutex
	courses          map[string]Course
	chapters         map[string]Chapter
	exams            map[string]Exam
	attempts         map[string]Attempt
	questionAttempts map[string]QuestionAttempt // keyed by attemptID|questionID
}

func NewMemoryStore() Store {
	return &memoryStore{
		courses:          map[string]Course{},
		chapters:         map[string]Chapter{},
		exams:            map[string]Exam{},
		attempts:         map[string]Attempt{},
		questionAttempts: map[string]QuestionAttempt{},
	}
}

func qaKey(attemptID, questionID string) string { return attemptID + "|" + questionID }

func (m *memoryStore) PutCourse(_ context.Context, c Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[c.ID] = c
	return nil
}

func (m *memoryStore) PutChapter(_ context.Context, ch Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chapters[ch.ID] = ch
	return nil
}

func (m *memoryStore) PutExam(_ context.Context, e Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = e
	return nil
}

func (m *memoryStore) GetExamGate(_ context.Context, examID string) (ExamGate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[examID]
	if !ok {
		return ExamGate{}, ErrExamNotFound
	}
	gate := ExamGate{Exam: e}
	gate.Exam.Questions = nil
	if c, ok := m.courses[e.CourseID]; ok {
		gate.CoursePublished = c.IsPublished
	}
	if e.ChapterID != "" {
		gate.HasChapter = true
		if ch, ok := m.chapters[e.ChapterID]; ok {
			gate.ChapterPublished = ch.IsPublished
		}
	}
	return gate, nil
}

func (m *memoryStore) GetExam(_ context.Context, examID string, withAnswers bool) (Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[examID]
	if !ok {
		return Exam{}, ErrExamNotFound
	}
	out := e
	out.Questions = make([]ExamQuestion, len(e.Questions))
	copy(out.Questions, e.Questions)
	sort.Slice(out.Questions, func(i, j int) bool { return out.Questions[i].Position < out.Questions[j].Position })
	if !withAnswers {
		for i := range out.Questions {
			q := out.Questions[i].Question
			opts := make([]Option, len(q.Options))
			for j, o := range q.Options {
				o.IsCorrect = false
				opts[j] = o
			}
			q.Options = opts
			out.Questions[i].Question = q
		}
	}
	return out, nil
}

func (m *memoryStore) ListExams(_ context.Context, opts ListOpts) ([]ExamSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ExamSummary{}
	for _, e := range m.exams {
		if opts.CourseID != "" && e.CourseID != opts.CourseID {
			continue
		}
		if opts.ViewerRole == "" || opts.ViewerRole == "student" {
			if !e.IsPublished {
				continue
			}
		}
		if opts.Q != "" && !strings.Contains(strings.ToLower(e.Title), strings.ToLower(opts.Q)) {
			continue
		}
		out = append(out, ExamSummary{
			ID:           e.ID,
			CourseID:     e.CourseID,
			ChapterID:    e.ChapterID,
			Title:        e.Title,
			IsPublished:  e.IsPublished,
			TimeLimit:    e.TimeLimit,
			MaxAttempts:  e.MaxAttempts,
			PassingScore: e.PassingScore,
			Questions:    len(e.Questions),
			CreatedAt:    e.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return paginate(out, opts.Limit, opts.Offset), nil
}

func (m *memoryStore) ExamQuestions(_ context.Context, examID string) ([]ExamQuestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[examID]
	if !ok {
		return nil, ErrExamNotFound
	}
	out := make([]ExamQuestion, len(e.Questions))
	copy(out, e.Questions)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memoryStore) GetOption(_ context.Context, optionID string) (Option, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.exams {
		for _, eq := range e.Questions {
			for _, o := range eq.Question.Options {
				if o.ID == optionID {
					return o, nil
				}
			}
		}
	}
	return Option{}, ErrInvalidOption
}

func (m *memoryStore) CreateAttempt(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.attempts {
		if cur.UserID == a.UserID && cur.ExamID == a.ExamID && cur.Active() {
			return ErrAttemptActive
		}
	}
	m.attempts[a.ID] = a
	return nil
}

func (m *memoryStore) ActiveAttempt(_ context.Context, userID, examID string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.attempts {
		if a.UserID == userID && a.ExamID == examID && a.Active() {
			return a, nil
		}
	}
	return Attempt{}, ErrAttemptNotFound
}

func (m *memoryStore) GetAttempt(_ context.Context, attemptID string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, nil
}

func (m *memoryStore) CompletedAttemptCount(_ context.Context, userID, examID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.attempts {
		if a.UserID == userID && a.ExamID == examID && !a.Active() {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) CompletedAttempts(_ context.Context, examID string) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Attempt{}
	for _, a := range m.attempts {
		if a.ExamID == examID && !a.Active() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].CompletedAt > *out[j].CompletedAt })
	return out, nil
}

func (m *memoryStore) ListAttempts(_ context.Context, opts AttemptListOpts) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Attempt{}
	for _, a := range m.attempts {
		if opts.ExamID != "" && a.ExamID != opts.ExamID {
			continue
		}
		if opts.UserID != "" && a.UserID != opts.UserID {
			continue
		}
		if opts.Active != nil && a.Active() != *opts.Active {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	return paginate(out, opts.Limit, opts.Offset), nil
}

func (m *memoryStore) FinalizeAttempt(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.attempts[a.ID]
	if !ok || !cur.Active() {
		return ErrAttemptNotFound
	}
	m.attempts[a.ID] = a
	return nil
}

func (m *memoryStore) UpsertQuestionAttempt(_ context.Context, qa QuestionAttempt) (QuestionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := qaKey(qa.AttemptID, qa.QuestionID)
	if prev, ok := m.questionAttempts[k]; ok {
		qa.ID = prev.ID // overwrite in place, keep the row identity
	}
	m.questionAttempts[k] = qa
	return qa, nil
}

func (m *memoryStore) QuestionAttempts(_ context.Context, attemptID string) ([]QuestionAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []QuestionAttempt{}
	for _, qa := range m.questionAttempts {
		if qa.AttemptID == attemptID {
			out = append(out, qa)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (m *memoryStore) QuestionAttemptStats(_ context.Context, examID, questionID string) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total, correct := 0, 0
	for _, qa := range m.questionAttempts {
		if qa.QuestionID != questionID {
			continue
		}
		a, ok := m.attempts[qa.AttemptID]
		if !ok || a.ExamID != examID || a.Active() {
			continue
		}
		total++
		if qa.IsCorrect {
			correct++
		}
	}
	return total, correct, nil
}

func paginate[T any](in []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return []T{}
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
