package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/study-pulse/studypulse-lms/internal/exam"
	"github.com/study-pulse/studypulse-lms/internal/rbac"
)

// policy answers permission questions inside handlers, where the
// decision depends on more than the route (viewer scoping, unpublished
// visibility). Route-level gates stay in rbac.Require.
var policy = rbac.NewChecker(nil)

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainErr maps the exam error taxonomy onto HTTP statuses. The
// wrapped sentinel survives the service's normalization, so errors.Is
// still works here.
func writeDomainErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, exam.ErrExamNotFound), errors.Is(err, exam.ErrAttemptNotFound):
		code = http.StatusNotFound
	case errors.Is(err, exam.ErrNotPublished):
		code = http.StatusForbidden
	case errors.Is(err, exam.ErrAttemptLimit), errors.Is(err, exam.ErrTimeExpired), errors.Is(err, exam.ErrAttemptActive):
		code = http.StatusConflict
	case errors.Is(err, exam.ErrInvalidOption):
		code = http.StatusBadRequest
	}
	http.Error(w, err.Error(), code)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
