package http

import (
	"net/http"

	"github.com/study-pulse/studypulse-lms/internal/exam"

	"github.com/go-chi/chi/v5"
)

// UploadExamHandler accepts a whole exam definition, question tree
// included, and upserts it. POST /exams
func UploadExamHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var e exam.Exam
		if err := decodeJSON(r, &e); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if e.ID == "" || e.CourseID == "" || e.Title == "" {
			http.Error(w, "id, course_id and title required", 400)
			return
		}
		if e.MaxAttempts <= 0 {
			e.MaxAttempts = 1
		}
		if err := store.PutExam(r.Context(), e); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		writeJSON(w, e)
	}
}

// POST /courses
func UpsertCourseHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c exam.Course
		if err := decodeJSON(r, &c); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if c.ID == "" || c.Title == "" {
			http.Error(w, "id and title required", 400)
			return
		}
		if err := store.PutCourse(r.Context(), c); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		writeJSON(w, c)
	}
}

// POST /chapters
func UpsertChapterHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ch exam.Chapter
		if err := decodeJSON(r, &ch); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if ch.ID == "" || ch.CourseID == "" {
			http.Error(w, "id and course_id required", 400)
			return
		}
		if err := store.PutChapter(r.Context(), ch); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		writeJSON(w, ch)
	}
}

// GET /exams/{examID}/statistics — teacher-facing aggregate.
func ExamStatisticsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.ExamStatistics(r.Context(), chi.URLParam(r, "examID"))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, st)
	}
}
