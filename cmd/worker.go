package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docflow/src/core/jobs"
	"docflow/src/core/worker"
	"docflow/src/infrastructure/integrations/docregistry"
	"docflow/src/infrastructure/integrations/pipeline"
	"docflow/src/log"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a background job worker",
	Long:  `The worker command starts one worker instance that claims pending jobs, executes their stages against the processing pipeline and reports outcomes.`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	blobs, err := newBlobStore()
	if err != nil {
		return err
	}

	// No pipeline URL means local development against the stub engine.
	var engine worker.Engine = pipeline.NewStub()
	if url := viper.GetString("pipeline.url"); url != "" {
		engine = pipeline.NewService(
			url,
			viper.GetString("pipeline.api_key"),
			durationSetting("pipeline.timeout", 5*time.Minute),
		)
	}

	var docs worker.DocumentRegistry = docregistry.Noop{}
	if url := viper.GetString("docregistry.url"); url != "" {
		docs = docregistry.NewService(url, viper.GetString("docregistry.api_key"))
	}

	w := worker.New(jobService, engine, blobs, docs, worker.Config{
		PollInterval:      durationSetting("worker.poll_interval", 5*time.Second),
		HeartbeatInterval: durationSetting("worker.heartbeat_interval", 30*time.Second),
		MaxJobDuration:    durationSetting("worker.max_job_duration", 30*time.Minute),
		TypeFilter:        configuredJobTypes(),
	})

	// Queue nudges wake the worker between polls so fresh jobs start
	// promptly.
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return err
	}
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Logger:          logger,
		}.Middleware,
	)
	router.AddNoPublisherHandler(
		"worker_nudge",
		jobs.QueueTopic,
		subscriber,
		func(msg *message.Message) error {
			w.Nudge()
			return nil
		},
	)

	go func() {
		if err := router.Run(ctx); err != nil {
			log.Error(err, "Nudge router stopped")
		}
	}()
	go func() {
		if err := w.Run(ctx); err != nil {
			log.Error(err, "Worker stopped with error")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	log.Info("Shutting down worker...")
	cancel()
	<-router.Running()
	log.Info("Worker stopped")

	return nil
}

func configuredJobTypes() []jobs.JobType {
	var out []jobs.JobType
	for _, t := range strings.Split(viper.GetString("worker.job_types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, jobs.JobType(t))
		}
	}
	return out
}
