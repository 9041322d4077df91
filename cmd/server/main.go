package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/harborpoint/underwriting/internal/logger"
	"github.com/harborpoint/underwriting/orgengine"
	"github.com/harborpoint/underwriting/store"
)

type Server struct {
	db      *sql.DB // nil when running on the in-memory store
	rules   store.RuleStore
	dict    store.DictionaryStore
	manager *orgengine.Manager
	router  *chi.Mux
}

func NewServer(db *sql.DB, ruleStore store.RuleStore, dictStore store.DictionaryStore) (*Server, error) {
	manager := orgengine.NewManager(ruleStore, dictStore, logger.Logger)
	if err := manager.LoadAll(); err != nil {
		return nil, err
	}

	s := &Server{
		db:      db,
		rules:   ruleStore,
		dict:    dictStore,
		manager: manager,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/orgs/{orgId}", func(r chi.Router) {
		r.Route("/rules", func(r chi.Router) {
			r.Post("/", s.handleCreateRule)
			r.Get("/", s.handleListRules)
			r.Get("/{ruleId}", s.handleGetRule)
			r.Get("/{ruleId}/versions", s.handleListVersions)
			r.Post("/{ruleId}/versions", s.handleCreateVersion)
		})

		r.Route("/versions/{versionId}", func(r chi.Router) {
			r.Get("/", s.handleGetVersion)
			r.Put("/", s.handleUpdateVersion)
			r.Post("/validate", s.handleValidateVersion)
			r.Post("/publish", s.handlePublishVersion)
			r.Post("/deprecate", s.handleDeprecateVersion)
			r.Post("/clone", s.handleCloneVersion)
		})

		r.Get("/dictionary", s.handleGetDictionary)
		r.Put("/dictionary", s.handlePutDictionary)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func main() {
	var db *sql.DB
	var ruleStore store.RuleStore
	var dictStore store.DictionaryStore

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL != "" {
		var err error
		db, err = sql.Open("postgres", databaseURL)
		if err != nil {
			logger.Fatal("failed to open database", "error", err)
		}
		if err := db.Ping(); err != nil {
			logger.Fatal("failed to ping database", "error", err)
		}
		pg := store.NewPostgresStore(db)
		ruleStore, dictStore = pg, pg
	} else {
		// No database configured: run against the in-memory store.
		// Useful for local what-if sessions; nothing persists.
		logger.Warn("DATABASE_URL not set, using in-memory store")
		mem := store.NewMemoryStore()
		ruleStore, dictStore = mem, mem
	}

	server, err := NewServer(db, ruleStore, dictStore)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	if db != nil {
		defer db.Close()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("logger shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
