package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"quizlms/internal/app/apiresp"
	"quizlms/internal/app/observability"
	"quizlms/internal/auth"
	"quizlms/internal/catalog"
	"quizlms/internal/exam"
	"quizlms/internal/folder"
	"quizlms/internal/report"
	"quizlms/internal/testbank"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	collector := observability.NewCollector(db)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(collector.Middleware)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authHandler := auth.NewHandler(auth.NewService(db, auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)))

	folderHandler := folder.NewHandler(folder.NewService(db))
	testSvc := testbank.NewService(db)
	testHandler := testbank.NewHandler(testSvc, cfg.MaxImportBytes)
	catalogHandler := catalog.NewHandler(catalog.NewService(db, testSvc))
	examHandler := exam.NewHandler(exam.NewService(db))
	reportHandler := report.NewHandler(report.NewService(db))

	loginLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)
	submitLimiter := NewIPRateLimiter(cfg.SubmitRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database not configured")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.With(RateLimitMiddleware(loginLimiter, "login")).Post("/auth/login", authHandler.Login)

		api.Route("/tests", func(tests chi.Router) {
			tests.Get("/folders/{folder_id}/contents/public", folderHandler.PublicContents)

			tests.Group(func(user chi.Router) {
				user.Use(authHandler.RequireAuth)
				user.Get("/free", catalogHandler.FreeTests)
				user.Get("/free/all", folderHandler.ListRoots)
				user.Get("/test/{test_id}/take", catalogHandler.Take)
				user.Get("/test/{test_id}/questions/details", catalogHandler.Questions)
				user.With(RateLimitMiddleware(submitLimiter, "submit")).Post("/test/{test_id}/submit", examHandler.Submit)
				user.Get("/history", examHandler.History)
				user.Get("/attempts/{attempt_id}", examHandler.GetAttempt)
			})
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)

			secure.Route("/admin/tests", func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))

				admin.Post("/folders", folderHandler.Create)
				admin.Get("/folders", folderHandler.ListRoots)
				admin.Get("/folders/{folder_id}/contents", folderHandler.Contents)
				admin.Delete("/folders/{folder_id}", folderHandler.Delete)

				admin.Post("/", testHandler.Create)
				admin.Get("/search", testHandler.Search)
				admin.Get("/{test_id}", testHandler.Get)
				admin.Put("/{test_id}/settings", testHandler.UpdateSettings)
				admin.Get("/{test_id}/report", reportHandler.Summary)

				admin.Post("/{test_id}/questions", testHandler.AddQuestion)
				admin.Get("/{test_id}/questions", testHandler.ListQuestions)
				admin.Get("/{test_id}/questions/export", testHandler.ExportQuestions)
				admin.Post("/{test_id}/questions/import", testHandler.ImportQuestions)
				admin.Put("/{test_id}/questions/{question_id}", testHandler.UpdateQuestion)
				admin.Delete("/{test_id}/questions/{question_id}", testHandler.DeleteQuestion)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusNotFound, "Route not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusMethodNotAllowed, "Method not allowed.")
	})

	return r
}
