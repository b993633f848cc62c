package http

import (
	"net/http"
	"strings"

	"github.com/study-pulse/studypulse-lms/internal/exam"
	"github.com/study-pulse/studypulse-lms/internal/rbac"
)

// GET /attempts?exam_id=...&user_id=...&state=active|completed&limit=50&offset=0
// RBAC:
// - role with attempt:view-all can list any filters
// - role with attempt:view-own only sees their own (user_id is forced
//   to the subject)
func ListAttemptsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := rbac.RoleFromContext(r.Context())
		sub := rbac.SubjectFromContext(r.Context())
		if role == "" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if !policy.Has(role, "attempt:view-all") {
			userID = sub
		}

		var active *bool
		switch strings.TrimSpace(r.URL.Query().Get("state")) {
		case "active":
			t := true
			active = &t
		case "completed":
			f := false
			active = &f
		}

		list, err := svc.ListAttempts(r.Context(), exam.AttemptListOpts{
			ExamID: strings.TrimSpace(r.URL.Query().Get("exam_id")),
			UserID: userID,
			Active: active,
			Limit:  parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
		})
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, list)
	}
}
