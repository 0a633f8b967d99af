package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/api"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/config"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/pipeline"
	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/storage"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	for _, dir := range []string{cfg.TempDir, cfg.UploadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create %s: %v", dir, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("db ping failed: %v", err)
	}
	log.Info("✅ connected to postgres")

	store, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatalf("object storage: %v", err)
	}
	if store != nil {
		log.WithField("backend", cfg.StorageBackend).Info("☁️ object storage enabled")
	}

	srv := &api.Server{
		Cfg:   cfg,
		DB:    pool,
		Log:   log,
		Pipe:  pipeline.New(cfg, log, store),
		Store: store,
	}

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Infof("🚀 listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, api.WithCORS(cfg.CORSOrigins, srv.Routes())))
}
