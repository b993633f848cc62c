package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SQLStore persists the model through database/sql. The same statements
// run on sqlite (modernc) and postgres (pgx stdlib); both accept $N
// placeholders.
type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) PutCourse(ctx context.Context, c Course) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO courses (id,title,is_published)
		VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, is_published=EXCLUDED.is_published`,
		c.ID, c.Title, c.IsPublished)
	return err
}

func (s *SQLStore) PutChapter(ctx context.Context, ch Chapter) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO chapters (id,course_id,title,is_published)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET course_id=EXCLUDED.course_id, title=EXCLUDED.title, is_published=EXCLUDED.is_published`,
		ch.ID, ch.CourseID, ch.Title, ch.IsPublished)
	return err
}

// PutExam upserts the exam row and rebuilds its question composition in
// one transaction. Questions and options are shared across exams, so
// they are upserted, never deleted here.
func (s *SQLStore) PutExam(ctx context.Context, e Exam) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO exams
		(id,course_id,chapter_id,title,is_published,time_limit_min,max_attempts,passing_score,is_randomized,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
		  course_id=EXCLUDED.course_id, chapter_id=EXCLUDED.chapter_id, title=EXCLUDED.title,
		  is_published=EXCLUDED.is_published, time_limit_min=EXCLUDED.time_limit_min,
		  max_attempts=EXCLUDED.max_attempts, passing_score=EXCLUDED.passing_score,
		  is_randomized=EXCLUDED.is_randomized`,
		e.ID, e.CourseID, nullStr(e.ChapterID), e.Title, e.IsPublished,
		e.TimeLimit, e.MaxAttempts, e.PassingScore, e.IsRandomized, e.CreatedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM exam_questions WHERE exam_id=$1`, e.ID); err != nil {
		return err
	}
	for _, eq := range e.Questions {
		q := eq.Question
		if _, err := tx.ExecContext(ctx, `INSERT INTO questions (id,text,qtype,difficulty)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, qtype=EXCLUDED.qtype, difficulty=EXCLUDED.difficulty`,
			q.ID, q.Text, q.Type, q.Difficulty); err != nil {
			return err
		}
		for _, o := range q.Options {
			if _, err := tx.ExecContext(ctx, `INSERT INTO options (id,question_id,body,is_correct)
				VALUES ($1,$2,$3,$4)
				ON CONFLICT (id) DO UPDATE SET body=EXCLUDED.body, is_correct=EXCLUDED.is_correct`,
				o.ID, q.ID, o.Text, o.IsCorrect); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO exam_questions (exam_id,question_id,position,points)
			VALUES ($1,$2,$3,$4)`,
			e.ID, q.ID, eq.Position, eq.Points); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) GetExamGate(ctx context.Context, examID string) (ExamGate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.course_id, COALESCE(e.chapter_id,''), e.title, e.is_published,
		       e.time_limit_min, e.max_attempts, e.passing_score, e.is_randomized, e.created_at,
		       c.is_published, (e.chapter_id IS NOT NULL), COALESCE(ch.is_published, FALSE)
		FROM exams e
		JOIN courses c ON c.id = e.course_id
		LEFT JOIN chapters ch ON ch.id = e.chapter_id
		WHERE e.id = $1`, examID)

	var g ExamGate
	e := &g.Exam
	if err := row.Scan(&e.ID, &e.CourseID, &e.ChapterID, &e.Title, &e.IsPublished,
		&e.TimeLimit, &e.MaxAttempts, &e.PassingScore, &e.IsRandomized, &e.CreatedAt,
		&g.CoursePublished, &g.HasChapter, &g.ChapterPublished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExamGate{}, ErrExamNotFound
		}
		return ExamGate{}, err
	}
	return g, nil
}

func (s *SQLStore) GetExam(ctx context.Context, examID string, withAnswers bool) (Exam, error) {
	gate, err := s.GetExamGate(ctx, examID)
	if err != nil {
		return Exam{}, err
	}
	e := gate.Exam

	rows, err := s.db.QueryContext(ctx, `
		SELECT eq.question_id, eq.position, eq.points, q.text, q.qtype, q.difficulty
		FROM exam_questions eq
		JOIN questions q ON q.id = eq.question_id
		WHERE eq.exam_id = $1
		ORDER BY eq.position`, examID)
	if err != nil {
		return Exam{}, err
	}
	defer rows.Close()

	byQuestion := map[string]int{}
	for rows.Next() {
		var eq ExamQuestion
		eq.ExamID = examID
		if err := rows.Scan(&eq.QuestionID, &eq.Position, &eq.Points,
			&eq.Question.Text, &eq.Question.Type, &eq.Question.Difficulty); err != nil {
			return Exam{}, err
		}
		eq.Question.ID = eq.QuestionID
		byQuestion[eq.QuestionID] = len(e.Questions)
		e.Questions = append(e.Questions, eq)
	}
	if err := rows.Err(); err != nil {
		return Exam{}, err
	}

	orows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.question_id, o.body, o.is_correct
		FROM options o
		JOIN exam_questions eq ON eq.question_id = o.question_id
		WHERE eq.exam_id = $1
		ORDER BY o.id`, examID)
	if err != nil {
		return Exam{}, err
	}
	defer orows.Close()
	for orows.Next() {
		var o Option
		if err := orows.Scan(&o.ID, &o.QuestionID, &o.Text, &o.IsCorrect); err != nil {
			return Exam{}, err
		}
		if !withAnswers {
			o.IsCorrect = false
		}
		if i, ok := byQuestion[o.QuestionID]; ok {
			e.Questions[i].Question.Options = append(e.Questions[i].Question.Options, o)
		}
	}
	return e, orows.Err()
}

func (s *SQLStore) ListExams(ctx context.Context, opts ListOpts) ([]ExamSummary, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	n := 0
	arg := func(v interface{}) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}
	if opts.CourseID != "" {
		where = append(where, "e.course_id = "+arg(opts.CourseID))
	}
	if opts.Q != "" {
		where = append(where, "LOWER(e.title) LIKE "+arg("%"+strings.ToLower(opts.Q)+"%"))
	}
	if opts.ViewerRole == "" || opts.ViewerRole == "student" {
		where = append(where, "e.is_published")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT e.id, e.course_id, COALESCE(e.chapter_id,''), e.title, e.is_published,
	       e.time_limit_min, e.max_attempts, e.passing_score, e.created_at,
	       (SELECT COUNT(*) FROM exam_questions eq WHERE eq.exam_id = e.id)
	FROM exams e
	WHERE ` + strings.Join(where, " AND ") + `
	ORDER BY e.created_at DESC
	LIMIT ` + arg(limit) + ` OFFSET ` + arg(opts.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ExamSummary{}
	for rows.Next() {
		var es ExamSummary
		if err := rows.Scan(&es.ID, &es.CourseID, &es.ChapterID, &es.Title, &es.IsPublished,
			&es.TimeLimit, &es.MaxAttempts, &es.PassingScore, &es.CreatedAt, &es.Questions); err != nil {
			return nil, err
		}
		out = append(out, es)
	}
	return out, rows.Err()
}

func (s *SQLStore) ExamQuestions(ctx context.Context, examID string) ([]ExamQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT eq.question_id, eq.position, eq.points, q.text, q.qtype, q.difficulty
		FROM exam_questions eq
		JOIN questions q ON q.id = eq.question_id
		WHERE eq.exam_id = $1
		ORDER BY eq.position`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ExamQuestion{}
	for rows.Next() {
		var eq ExamQuestion
		eq.ExamID = examID
		if err := rows.Scan(&eq.QuestionID, &eq.Position, &eq.Points,
			&eq.Question.Text, &eq.Question.Type, &eq.Question.Difficulty); err != nil {
			return nil, err
		}
		eq.Question.ID = eq.QuestionID
		out = append(out, eq)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetOption(ctx context.Context, optionID string) (Option, error) {
	var o Option
	err := s.db.QueryRowContext(ctx,
		`SELECT id, question_id, body, is_correct FROM options WHERE id = $1`, optionID).
		Scan(&o.ID, &o.QuestionID, &o.Text, &o.IsCorrect)
	if errors.Is(err, sql.ErrNoRows) {
		return Option{}, ErrInvalidOption
	}
	return o, err
}

func (s *SQLStore) CreateAttempt(ctx context.Context, a Attempt) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO exam_attempts (id,exam_id,user_id,started_at)
		VALUES ($1,$2,$3,$4)`,
		a.ID, a.ExamID, a.UserID, a.StartedAt)
	if err != nil && isUniqueViolation(err) {
		// The partial unique index on (user_id, exam_id) where
		// completed_at IS NULL closes the check-then-create window.
		return ErrAttemptActive
	}
	return err
}

const attemptCols = `id, exam_id, user_id, started_at, completed_at, submitted_at,
	score, total_points, max_points, is_passed, time_spent_min, is_timed_out`

func (s *SQLStore) ActiveAttempt(ctx context.Context, userID, examID string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM exam_attempts
		WHERE user_id = $1 AND exam_id = $2 AND completed_at IS NULL`, userID, examID)
	return scanAttempt(row)
}

func (s *SQLStore) GetAttempt(ctx context.Context, attemptID string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM exam_attempts WHERE id = $1`, attemptID)
	return scanAttempt(row)
}

func (s *SQLStore) CompletedAttemptCount(ctx context.Context, userID, examID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_attempts
		WHERE user_id = $1 AND exam_id = $2 AND completed_at IS NOT NULL`, userID, examID).Scan(&n)
	return n, err
}

func (s *SQLStore) CompletedAttempts(ctx context.Context, examID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attemptCols+` FROM exam_attempts
		WHERE exam_id = $1 AND completed_at IS NOT NULL
		ORDER BY completed_at DESC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	n := 0
	arg := func(v interface{}) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}
	if opts.ExamID != "" {
		where = append(where, "exam_id = "+arg(opts.ExamID))
	}
	if opts.UserID != "" {
		where = append(where, "user_id = "+arg(opts.UserID))
	}
	if opts.Active != nil {
		if *opts.Active {
			where = append(where, "completed_at IS NULL")
		} else {
			where = append(where, "completed_at IS NOT NULL")
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + attemptCols + ` FROM exam_attempts
	WHERE ` + strings.Join(where, " AND ") + `
	ORDER BY started_at DESC
	LIMIT ` + arg(limit) + ` OFFSET ` + arg(opts.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *SQLStore) FinalizeAttempt(ctx context.Context, a Attempt) error {
	// completed_at IS NULL makes the finalize first-writer-wins: a
	// second completion racing this one updates zero rows.
	res, err := s.db.ExecContext(ctx, `UPDATE exam_attempts SET
		completed_at=$1, submitted_at=$2, score=$3, total_points=$4, max_points=$5,
		is_passed=$6, time_spent_min=$7, is_timed_out=$8
		WHERE id=$9 AND completed_at IS NULL`,
		a.CompletedAt, a.SubmittedAt, a.Score, a.TotalPoints, a.MaxPoints,
		a.IsPassed, a.TimeSpent, a.IsTimedOut, a.ID)
	if err != nil {
		return err
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (s *SQLStore) UpsertQuestionAttempt(ctx context.Context, qa QuestionAttempt) (QuestionAttempt, error) {
	// Last answer wins: the (attempt_id, question_id) row is updated in
	// place, keeping its original id.
	err := s.db.QueryRowContext(ctx, `INSERT INTO question_attempts
		(id, attempt_id, question_id, selected_option_id, is_correct, points_earned, answered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
		  selected_option_id=EXCLUDED.selected_option_id, is_correct=EXCLUDED.is_correct,
		  points_earned=EXCLUDED.points_earned, answered_at=EXCLUDED.answered_at
		RETURNING id`,
		qa.ID, qa.AttemptID, qa.QuestionID, qa.SelectedOptionID, qa.IsCorrect, qa.PointsEarned, qa.AnsweredAt).
		Scan(&qa.ID)
	return qa, err
}

func (s *SQLStore) QuestionAttempts(ctx context.Context, attemptID string) ([]QuestionAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, attempt_id, question_id, selected_option_id, is_correct, points_earned, answered_at
		FROM question_attempts
		WHERE attempt_id = $1
		ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []QuestionAttempt{}
	for rows.Next() {
		var qa QuestionAttempt
		if err := rows.Scan(&qa.ID, &qa.AttemptID, &qa.QuestionID, &qa.SelectedOptionID,
			&qa.IsCorrect, &qa.PointsEarned, &qa.AnsweredAt); err != nil {
			return nil, err
		}
		out = append(out, qa)
	}
	return out, rows.Err()
}

func (s *SQLStore) QuestionAttemptStats(ctx context.Context, examID, questionID string) (int, int, error) {
	var total, correct int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN qa.is_correct THEN 1 ELSE 0 END), 0)
		FROM question_attempts qa
		JOIN exam_attempts a ON a.id = qa.attempt_id
		WHERE a.exam_id = $1 AND qa.question_id = $2 AND a.completed_at IS NOT NULL`,
		examID, questionID).Scan(&total, &correct)
	return total, correct, err
}

/* ---- helpers ---- */

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanAttempt(row rowScanner) (Attempt, error) {
	var a Attempt
	var completed, submitted sql.NullInt64
	err := row.Scan(&a.ID, &a.ExamID, &a.UserID, &a.StartedAt, &completed, &submitted,
		&a.Score, &a.TotalPoints, &a.MaxPoints, &a.IsPassed, &a.TimeSpent, &a.IsTimedOut)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, ErrAttemptNotFound
		}
		return Attempt{}, err
	}
	if completed.Valid {
		a.CompletedAt = &completed.Int64
	}
	if submitted.Valid {
		a.SubmittedAt = &submitted.Int64
	}
	return a, nil
}

func collectAttempts(rows *sql.Rows) ([]Attempt, error) {
	out := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || // sqlite
		strings.Contains(msg, "duplicate key") // postgres
}
