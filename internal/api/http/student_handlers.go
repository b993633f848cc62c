package http

import (
	"net/http"

	"github.com/study-pulse/studypulse-lms/internal/exam"
	"github.com/study-pulse/studypulse-lms/internal/rbac"

	"github.com/go-chi/chi/v5"
)

// POST /exams/{examID}/attempts — start (or resume) an attempt.
func StartAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := rbac.SubjectFromContext(r.Context())
		examID := chi.URLParam(r, "examID")
		d, err := svc.StartAttempt(r.Context(), userID, examID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, d)
	}
}

// POST /exams/{examID}/attempts/resume — converges with start.
func ResumeAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := rbac.SubjectFromContext(r.Context())
		examID := chi.URLParam(r, "examID")
		d, err := svc.ResumeAttempt(r.Context(), userID, examID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, d)
	}
}

// POST /attempts/{attemptID}/answers  { "question_id": "...", "option_id": "..." }
func SubmitAnswerHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := rbac.SubjectFromContext(r.Context())
		attemptID := chi.URLParam(r, "attemptID")
		var req struct {
			QuestionID string `json:"question_id"`
			OptionID   string `json:"option_id"`
		}
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.QuestionID == "" || req.OptionID == "" {
			http.Error(w, "question_id and option_id required", http.StatusBadRequest)
			return
		}
		qa, err := svc.SubmitAnswer(r.Context(), userID, attemptID, req.QuestionID, req.OptionID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, qa)
	}
}

// POST /attempts/{attemptID}/complete — score and finalize.
func CompleteAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := rbac.SubjectFromContext(r.Context())
		attemptID := chi.URLParam(r, "attemptID")
		d, err := svc.CompleteAttempt(r.Context(), userID, attemptID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, d)
	}
}

// GET /attempts/{attemptID} — auto-completes a timed-out attempt.
func GetAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := rbac.SubjectFromContext(r.Context())
		attemptID := chi.URLParam(r, "attemptID")
		d, err := svc.GetAttempt(r.Context(), userID, attemptID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, d)
	}
}

// GET /attempts/{attemptID}/validate — advisory, always 200.
func ValidateAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := rbac.SubjectFromContext(r.Context())
		attemptID := chi.URLParam(r, "attemptID")
		writeJSON(w, svc.ValidateAttempt(r.Context(), userID, attemptID))
	}
}

// GET /exams/{examID}/progress — advisory; null body when no active
// attempt exists.
func ProgressHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := rbac.SubjectFromContext(r.Context())
		examID := chi.URLParam(r, "examID")
		writeJSON(w, svc.GetProgress(r.Context(), userID, examID))
	}
}
