package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/mind-engage/mindengage-player/internal/api/http"
	auth "github.com/mind-engage/mindengage-player/internal/auth/middleware"
	"github.com/mind-engage/mindengage-player/internal/config"
	"github.com/mind-engage/mindengage-player/internal/course"
	"github.com/mind-engage/mindengage-player/internal/db"
	"github.com/mind-engage/mindengage-player/internal/player"
	"github.com/mind-engage/mindengage-player/internal/scorm"
	"github.com/mind-engage/mindengage-player/internal/storage"
	syncx "github.com/mind-engage/mindengage-player/internal/sync"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	defer dbh.Close()
	store := course.NewSQLStore(dbh, cfg.DBDriver)
	events := syncx.NewEventRepo(dbh, cfg.SiteID)

	// --- Storage ---
	blobs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}
	objects := storage.NewObjectStore("/objects/")

	// --- Player ---
	extractor := &scorm.Extractor{Workers: cfg.ExtractWorkers, MaxFileSize: int64(cfg.MaxFileMB) << 20}
	lib := player.NewLibrary(store, blobs, extractor, events)
	tracker := player.NewTracker(store, events)
	p := player.New(lib, objects, tracker, player.Options{
		RewriteLinked: cfg.RewriteLinked,
		CommitURL: func(id string) string {
			return cfg.PublicURL + "/tracking/" + id + "/commit"
		},
	})
	defer p.CloseAll()

	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, auth.Credentials{
		AdminUser:     cfg.AdminUser,
		AdminPassHash: cfg.AdminPassHash,
		OpenLearners:  cfg.OpenLearners,
	}))

	a := &api.API{
		Player:    p,
		Objects:   objects,
		Auth:      authSvc,
		Events:    events,
		MaxUpload: int64(cfg.MaxUploadMB) << 20,
	}
	a.Routes(r)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}
