package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wagerlane/pkg/anchor/rfc3161"
	"wagerlane/pkg/db"
	"wagerlane/services/settlement/internal/dispatch"
	"wagerlane/services/settlement/internal/engine"
	"wagerlane/services/settlement/internal/idempotency"
	"wagerlane/services/settlement/internal/store"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); err == nil {
		log.SetLevel(lvl)
	}

	port := strings.TrimSpace(os.Getenv("SERVICE_PORT"))
	if port == "" {
		port = "8085"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		pool := db.MustConnect(dsn)
		defer pool.Close()
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.WithError(err).Fatal("apply schema")
		}
		st = pg
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	dispatchOpts := []dispatch.Option{}
	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("redis ping")
		}
		dispatchOpts = append(dispatchOpts, dispatch.WithRedis(rdb))
	}
	if tsaURL := strings.TrimSpace(os.Getenv("TSA_URL")); tsaURL != "" {
		dispatchOpts = append(dispatchOpts, dispatch.WithAnchorer(
			rfc3161.NewAnchorer(tsaURL, strings.TrimSpace(os.Getenv("TSA_POLICY_OID")), nil)))
	}
	disp := dispatch.New(dispatch.Config{
		WebhookURL:    strings.TrimSpace(os.Getenv("LEDGER_WEBHOOK_URL")),
		WebhookSecret: strings.TrimSpace(os.Getenv("LEDGER_WEBHOOK_SECRET")),
	}, log, dispatchOpts...)
	go disp.Run(ctx)

	eng := engine.New(st, log, engine.WithDispatcher(disp))
	go runSweeper(ctx, log, eng)

	a := &app{engine: eng, idem: idempotency.NewMemoryStore(), log: log}
	srv := &http.Server{Addr: ":" + port, Handler: newRouter(a)}

	go func() {
		log.WithField("port", port).Info("settlement service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	disp.Wait()
}

// runSweeper periodically settles challenges whose deadline has passed,
// so expiry does not depend on a participant happening to read.
func runSweeper(ctx context.Context, log logrus.FieldLogger, eng *engine.Engine) {
	interval := envDurationDefault("SWEEP_INTERVAL", 30*time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := eng.ExpireDue(ctx, 100)
			if err != nil {
				log.WithError(err).Warn("deadline sweep")
				continue
			}
			if n > 0 {
				sweepExpiredTotal.Add(float64(n))
				log.WithField("expired", n).Info("deadline sweep settled challenges")
			}
		}
	}
}

func envDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
