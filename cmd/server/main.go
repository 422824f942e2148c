package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Simplici0/retrofit-costing/internal/bespoke"
	"github.com/Simplici0/retrofit-costing/internal/config"
	"github.com/Simplici0/retrofit-costing/internal/db"
	"github.com/Simplici0/retrofit-costing/internal/migrations"
	"github.com/Simplici0/retrofit-costing/internal/seed"
	"github.com/Simplici0/retrofit-costing/internal/store"
)

type server struct {
	auth     *authService
	store    *store.SQLite
	sessions *sessionManager
	bespoke  *bespoke.Service
	log      *zap.Logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("failed to load config", zap.Error(err))
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		zap.L().Fatal("failed to init logger", zap.Error(err))
	}
	log := zap.L()
	defer log.Sync() //nolint:errcheck

	for _, w := range cfg.Warnings() {
		log.Warn("config", zap.String("warning", w))
	}

	database, err := db.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if cfg.IsDev() {
		if err := migrations.Up(database); err != nil {
			log.Fatal("failed to run database migrations", zap.Error(err))
		}
		stats, err := seed.Run(database, seed.Config{AdminEmail: cfg.Auth.AdminEmail, AdminPassword: cfg.Auth.AdminPassword})
		if err != nil {
			log.Fatal("failed to seed database", zap.Error(err))
		}
		log.Info("seed complete", zap.Int("inserts", stats.Inserts), zap.Int("updates", stats.Updates))
	}

	st := store.New(database)
	auth, err := newAuthService(st, cfg.Auth.SessionKey, cfg.Auth.SessionTTL)
	if err != nil {
		log.Fatal("failed to init auth", zap.Error(err))
	}

	srv := &server{
		auth:     auth,
		store:    st,
		sessions: newSessionManager(st, log, cfg.Workflow.Strict, cfg.Workflow.RefreshInterval, cfg.Auth.SessionTTL),
		bespoke:  bespoke.NewService(st, nil, log),
		log:      log,
	}
	srv.sessions.startSweeper()
	defer srv.sessions.closeAll()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.routes(cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", zap.Error(err))
		}
	}()

	log.Info("listening", zap.String("addr", httpSrv.Addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func (s *server) routes(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "HX-Request", "HX-Target", "HX-Trigger"},
			ExposedHeaders:   []string{"HX-Trigger"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/catalog", s.handleCatalog)
		r.Put("/admin/line-items/{key}", s.handleUpsertLineItem)
		r.Put("/admin/funders/{name}", s.handleUpsertFunder)
		r.Delete("/admin/funders/{name}", s.handleDeactivateFunder)

		r.Put("/surveys/{id}", s.handleUpsertSurvey)
		r.Get("/surveys/{id}/bespoke", s.handleBespokeList)
		r.Post("/surveys/{id}/bespoke", s.handleBespokeCreate)

		r.Post("/sessions", s.handleSessionStart)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleSessionView)
			r.Delete("/", s.handleSessionClose)
			r.Post("/toggle", s.handleSessionToggle)
			r.Post("/quantity", s.handleSessionQuantity)
			r.Post("/cost-savings/refresh", s.handleSessionRefreshSavings)
			r.Post("/records/refresh", s.handleSessionRefreshRecords)
			r.Post("/submit", s.handleSessionSubmit)
			r.Post("/edit", s.handleSessionEdit)
			r.Post("/save", s.handleSessionSave)
			r.Post("/cancel", s.handleSessionCancel)
			r.Post("/finish", s.handleSessionFinish)
		})

		r.Get("/costings", s.handleCostingsList)
		r.Get("/costings/export.xlsx", s.handleCostingsExport)
		r.Get("/costings/{id}", s.handleCostingDetail)
		r.Get("/costings/{id}/text", s.handleCostingText)
	})

	return r
}

func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := s.auth.authenticate(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), email)))
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "database unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid form"})
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")
	valid, err := s.auth.validateCredentials(r.Context(), email, password)
	if err != nil {
		s.log.Error("authentication error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "authentication error"})
		return
	}
	if !valid {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
		return
	}

	if err := s.auth.setSessionCookie(w, email); err != nil {
		s.log.Error("issue session cookie", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "authentication error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if email, ok := s.auth.authenticate(r); ok {
		if n := s.sessions.closeOwner(email); n > 0 {
			s.log.Info("closed costing sessions on logout", zap.Int("count", n))
		}
	}
	s.auth.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
