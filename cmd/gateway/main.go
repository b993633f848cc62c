package main

import (
	"context"
	"log"
	"net/http"
	"time"

	api "github.com/study-pulse/studypulse-lms/internal/api/http"
	auth "github.com/study-pulse/studypulse-lms/internal/auth/middleware"
	"github.com/study-pulse/studypulse-lms/internal/config"
	"github.com/study-pulse/studypulse-lms/internal/db"
	"github.com/study-pulse/studypulse-lms/internal/events"
	"github.com/study-pulse/studypulse-lms/internal/exam"
	"github.com/study-pulse/studypulse-lms/internal/rbac"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load() // optional .env for local runs
	cfg := config.FromEnv()

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := exam.NewSQLStore(dbh, cfg.DBDriver)
	svc := exam.NewService(store, events.NewRepo(dbh), logger, nil)

	// --- Auth (local JWT for offline/dev) ---
	authSvc := auth.NewAuthService(cfg.AuthHMACSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.EnableLocalAuth {
		r.Post("/auth/login", auth.LoginHandler(authSvc, dbh, cfg.AdminUser, cfg.AdminPassHash))
	}

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Use(auth.AttachRoleFromDB(dbh, cfg.Mode == config.ModeOffline))

		// Teacher: authoring
		pr.With(rbac.Require("exam:create")).
			Post("/courses", api.UpsertCourseHandler(store))
		pr.With(rbac.Require("exam:create")).
			Post("/chapters", api.UpsertChapterHandler(store))
		pr.With(rbac.Require("exam:create")).
			Post("/exams", api.UploadExamHandler(store))
		pr.With(rbac.Require("exam:stats")).
			Get("/exams/{examID}/statistics", api.ExamStatisticsHandler(svc))

		// Student/Teacher: exam discovery
		pr.With(rbac.Require("exam:view")).
			Get("/exams", api.ListExamsHandler(svc))
		pr.With(rbac.Require("exam:view")).
			Get("/exams/{examID}", api.GetExamHandler(svc))

		// Student flow
		pr.With(rbac.Require("attempt:start")).
			Post("/exams/{examID}/attempts", api.StartAttemptHandler(svc))
		pr.With(rbac.Require("attempt:start")).
			Post("/exams/{examID}/attempts/resume", api.ResumeAttemptHandler(svc))
		pr.With(rbac.Require("attempt:view-own")).
			Get("/exams/{examID}/progress", api.ProgressHandler(svc))
		pr.With(rbac.Require("attempt:answer")).
			Post("/attempts/{attemptID}/answers", api.SubmitAnswerHandler(svc))
		pr.With(rbac.Require("attempt:complete")).
			Post("/attempts/{attemptID}/complete", api.CompleteAttemptHandler(svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", api.GetAttemptHandler(svc))
		pr.With(rbac.Require("attempt:view-own")).
			Get("/attempts/{attemptID}/validate", api.ValidateAttemptHandler(svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts", api.ListAttemptsHandler(svc))

		// Users (teacher/admin)
		pr.With(rbac.Require("users:bulk_upsert")).
			Post("/users/bulk", api.BulkUpsertUsersHandler(dbh))
		pr.With(rbac.Require("users:list")).
			Get("/users", api.ListUsersHandler(dbh))
		pr.With(rbac.Require("user:change_password")).
			Post("/users/change-password", api.ChangePasswordHandler(dbh))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
