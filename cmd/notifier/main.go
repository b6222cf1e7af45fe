package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/farmacy-notify/internal/application/jobs"
	"github.com/farmacy-notify/internal/application/notification"
	"github.com/farmacy-notify/internal/application/token"
	"github.com/farmacy-notify/internal/application/topic"
	"github.com/farmacy-notify/internal/config"
	"github.com/farmacy-notify/internal/infrastructure/fcm"
	jwtinfra "github.com/farmacy-notify/internal/infrastructure/jwt"
	"github.com/farmacy-notify/internal/infrastructure/redislock"
	"github.com/farmacy-notify/internal/pkg/logger"
	"github.com/farmacy-notify/internal/scheduler"
	transporthttp "github.com/farmacy-notify/internal/transport/http"
	"github.com/farmacy-notify/internal/transport/http/handler"
	"github.com/farmacy-notify/internal/worker"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		log.Debug("no .env file found, reading from environment")
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("notifier exited")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc := cfg.Location()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer st.close()
	checks := map[string]handler.HealthCheck{"store": st.ping}

	mc, err := fcm.NewMessaging(ctx, cfg.FCM.CredentialsFile)
	if err != nil {
		return err
	}
	push := fcm.New(mc, cfg.FCM, log)

	// Distributed lock is optional (only needed with several replicas).
	var lock *redislock.Locker
	if cfg.RedisAddr != "" {
		rdb, err := redislock.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		lock = redislock.New(rdb, "notifier:lock:", log)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	pool := worker.New(cfg.Worker.Count, cfg.Worker.QueueSize, log)
	sched := scheduler.New(loc, log)

	tokenSvc := token.NewService(token.ServiceDeps{Repo: st.tokens, Logger: log})
	notifSvc := notification.NewService(notification.ServiceDeps{
		Repo:        st.notifications,
		Tokens:      tokenSvc,
		Push:        push,
		Users:       st.users,
		Content:     st.content,
		Location:    loc,
		ItemTimeout: cfg.FCM.SendTimeout,
		Scheduler:   cfg.Scheduler,
		Retry:       cfg.Retry,
		Logger:      log,
	})
	topicSvc := topic.NewService(topic.ServiceDeps{
		Repo:   st.topics,
		Users:  st.users,
		Tokens: tokenSvc,
		Push:   push,
		Logger: log,
	})
	jobDeps := jobs.ServiceDeps{
		Scheduler:     sched,
		Notifications: notifSvc,
		Users:         st.users,
		Content:       st.content,
		Tokens:        tokenSvc,
		Queue:         pool,
		Config:        cfg.Scheduler,
		Location:      loc,
		Logger:        log,
	}
	if lock != nil {
		jobDeps.Lock = lock
	}
	jobSvc := jobs.NewService(jobDeps)

	if err := jobSvc.RegisterSystemJobs(); err != nil {
		return fmt.Errorf("register system jobs: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	deps := &transporthttp.Deps{
		Notifications: notifSvc,
		Tokens:        tokenSvc,
		Topics:        topicSvc,
		Jobs:          jobSvc,
		Checks:        checks,
		Location:      loc,
	}
	if cfg.JWTPublicKeyPath != "" {
		v, err := jwtinfra.NewVerifier(cfg.JWTPublicKeyPath)
		if err != nil {
			return err
		}
		deps.Verifier = v
	} else {
		log.Warn("JWT_PUBLIC_KEY_PATH not set, authenticated routes will reject every request")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      transporthttp.NewRouter(ctx, cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":  cfg.AppPort,
			"env":   cfg.AppEnv,
			"store": cfg.StoreDriver,
			"tz":    loc.String(),
		}).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("server error")
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("forced http shutdown")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("scheduler did not stop cleanly")
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("worker pool did not drain")
	}
	log.Info("server stopped")
	return nil
}
