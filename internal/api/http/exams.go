package http

import (
	"net/http"
	"strings"

	"github.com/study-pulse/studypulse-lms/internal/exam"
	"github.com/study-pulse/studypulse-lms/internal/rbac"

	"github.com/go-chi/chi/v5"
)

// GET /exams?course_id=...&q=...&limit=50&offset=0
// Students see published exams only; teachers and admins see all.
func ListExamsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListExams(r.Context(), exam.ListOpts{
			CourseID:   strings.TrimSpace(r.URL.Query().Get("course_id")),
			Q:          strings.TrimSpace(r.URL.Query().Get("q")),
			Limit:      parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset:     parseIntDefault(r.URL.Query().Get("offset"), 0),
			ViewerRole: rbac.RoleFromContext(r.Context()),
		})
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, list)
	}
}

// GET /exams/{examID} — the exam plus the caller's own attempt history
// on it. Roles with exam:create also see their unpublished exams.
func GetExamHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := rbac.SubjectFromContext(r.Context())
		role := rbac.RoleFromContext(r.Context())
		examID := chi.URLParam(r, "examID")
		ex, attempts, err := svc.GetExamForUser(r.Context(), userID, examID, policy.Has(role, "exam:create"))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{"exam": ex, "attempts": attempts})
	}
}
