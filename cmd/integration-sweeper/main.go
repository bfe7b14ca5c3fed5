package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/integration_platform/app"
	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/models"
)

func main() {
	job := flag.String("job", "", "Job to run: webhook-retry, health-sweep or cleanup")
	triggeredBy := flag.String("triggered-by", "integration-sweeper", "Recorded as the job run's triggered_by")
	flag.Parse()

	settings, err := config.GetSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load settings: %v\n", err)
		os.Exit(1)
	}
	config.SetLogLevel(settings.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry(settings)
	config.ConnectRedisWithRetry(settings)
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	a := app.New(settings, db, config.GetRedisDB(), config.GetLocker(), config.GetLogger())

	var result interface{}
	switch *job {
	case "webhook-retry":
		result, err = a.Retry.RunOnce(ctx, models.JobTriggerCLI, *triggeredBy)
	case "health-sweep":
		result, err = a.Health.Sweep(ctx, models.JobTriggerCLI, *triggeredBy)
	case "cleanup":
		result, err = a.Cleaner.Run(ctx, models.JobTriggerCLI, *triggeredBy)
	default:
		fmt.Fprintf(os.Stderr, "unknown -job %q\n", *job)
		flag.Usage()
		os.Exit(2)
	}
	a.Events.Wait()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", *job, err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}
