package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/spf13/cobra"

	"docflow/src/core/jobs"
	"docflow/src/core/monitor"
	"docflow/src/core/webhook"
	"docflow/src/log"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Start the job monitor and webhook notifier",
	Long: `The monitor command runs the background sweeper that requeues jobs
whose worker died and times out jobs that run too long, and the notifier
that delivers lifecycle webhooks to job owners.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	logger := watermill.NewStdLogger(false, false)

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := buildRegistry(ctx, db)
	if err != nil {
		return err
	}

	publisher, err := newAMQPPublisher(logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	subscriber, err := newAMQPSubscriber(logger)
	if err != nil {
		return err
	}
	defer subscriber.Close()

	jobService := jobs.NewService(registry, publisher)

	m := monitor.New(jobService, monitor.Config{
		SweepInterval:  durationSetting("monitor.sweep_interval", 60*time.Second),
		StaleThreshold: durationSetting("monitor.stale_threshold", 180*time.Second),
		MaxJobDuration: durationSetting("worker.max_job_duration", 30*time.Minute),
	})

	notifier := webhook.NewNotifier(jobService, nil)

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return err
	}
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
	)
	router.AddNoPublisherHandler(
		"webhook_notifier",
		jobs.EventsTopic,
		subscriber,
		notifier.HandleEvent,
	)

	go func() {
		if err := router.Run(ctx); err != nil {
			log.Error(err, "Event router stopped")
		}
	}()
	go func() {
		if err := m.Run(ctx); err != nil {
			log.Error(err, "Monitor stopped with error")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	log.Info("Shutting down monitor...")
	cancel()
	<-router.Running()
	log.Info("Monitor stopped")

	return nil
}
