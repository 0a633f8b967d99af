// Command prewarm walks the beat catalog and renders every section
// ahead of time, so first playback never waits on fluidsynth. Meant to
// run as a sidecar on the same disk as the API server.
package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	store, err := storage.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("object storage: %v", err)
	}
	pipe := pipeline.New(cfg, log, store)

	interval := 10 * time.Minute
	if v := os.Getenv("PREWARM_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = time.Duration(n) * time.Second
		}
	}

	log.Info("👷 prewarm worker started")
	for {
		if err := sweep(context.Background(), pool, pipe, log); err != nil {
			log.WithError(err).Error("❌ sweep failed")
		}
		time.Sleep(interval)
	}
}

func sweep(ctx context.Context, pool *pgxpool.Pool, pipe *pipeline.Pipeline, log *logrus.Logger) error {
	rows, err := pool.Query(ctx,
		`SELECT id, title, tempo, beats_per_bar, beat_unit, filename, COALESCE(url, '')
		 FROM beats ORDER BY created_at DESC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var beats []pipeline.Beat
	for rows.Next() {
		var b pipeline.Beat
		if err := rows.Scan(&b.ID, &b.Title, &b.Tempo, &b.BeatsPerBar, &b.BeatUnit, &b.Filename, &b.URL); err != nil {
			return err
		}
		beats = append(beats, b)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range beats {
		b := &beats[i]
		outcomes := pipe.PrepareAll(ctx, b)
		var ok, failed int
		for _, o := range outcomes {
			switch o.Status() {
			case "ok":
				ok++
			case "failed":
				failed++
			}
		}
		log.WithFields(logrus.Fields{
			"beat":   b.ID,
			"ok":     ok,
			"failed": failed,
		}).Info("🔥 beat prewarmed")
	}
	return nil
}
