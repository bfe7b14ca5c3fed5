package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/app"
	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/middlewares"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := config.GetLogger()
	settings, err := config.GetSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Fatal(err)
	}
	config.SetLogLevel(settings.LogLevel)
	if settings.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
		if settings.JWTSigningKey == "" || settings.InternalAPIToken == "" {
			logger.WithFields(logrus.Fields{"field": "settings"}).Fatal("JWT_SIGNING_KEY and INTERNAL_API_TOKEN are required in production")
		}
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Serve /healthz and 503 until the database and redis are up, then swap
	// in the full router.
	var ready atomic.Bool
	var handler atomic.Value
	boot := gin.New()
	boot.Use(middlewares.CorrelationID(), middlewares.Readiness(ready.Load))
	handler.Store(http.Handler(boot))

	srv := &http.Server{
		Addr: ":" + settings.Port,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.Load().(http.Handler).ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry(settings)
	config.ConnectRedisWithRetry(settings)

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !settings.SkipMigrations {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	a := app.New(settings, db, config.GetRedisDB(), config.GetLocker(), logger)
	if err := a.EnsureTopics(sigCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Error("ensure topics: " + err.Error())
	}
	handler.Store(http.Handler(a.Router(func() bool {
		return config.GetDB() != nil && config.GetRedisDB() != nil
	})))
	ready.Store(true)
	logger.WithFields(logrus.Fields{"field": "server", "port": settings.Port}).Info("integration api ready")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		a.Events.Wait()
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}
