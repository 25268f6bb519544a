package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	v2 "docflow/handler/http/v2"
	"docflow/src/core/jobs"
	"docflow/src/log"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job API server",
	Long:  `The serve command starts the HTTP server that accepts job submissions, status reads, cancellations and worker claims.`,
	Run:   RunServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func RunServer(cmd *cobra.Command, args []string) {
	db, err := openDatabase()
	if err != nil {
		log.Error(err, "Failed to connect to database")
		return
	}

	ctx := context.Background()
	registry, err := buildRegistry(ctx, db)
	if err != nil {
		log.Error(err, "Failed to bind tenant partitions")
		return
	}

	// Events and worker nudges go through AMQP. The API still works
	// without a broker; workers then find new jobs on their next poll.
	publisher, err := newAMQPPublisher(watermill.NewStdLogger(false, false))
	if err != nil {
		log.Error(err, "Failed to connect to AMQP, running without event publication")
		publisher = nil
	} else {
		defer publisher.Close()
	}

	var jobService *jobs.Service
	if publisher != nil {
		jobService = jobs.NewService(registry, publisher)
	} else {
		jobService = jobs.NewService(registry, nil)
	}

	handler := v2.NewHandler(jobService, viper.GetString("callback.secret"))

	// Setup gin router
	r := gin.Default()

	// Register routes
	handler.RegisterRoutes(r)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Failed to start server")
			return
		}
	}()
	log.Info("Server started", "port", viper.GetString("server.port"), "tenants", registry.Tenants())

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	timeout := durationSetting("server.shutdown_timeout", 5*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	closeDatabase(db)

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
}
