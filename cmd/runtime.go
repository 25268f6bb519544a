package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"docflow/src/core/jobs"
	"docflow/src/core/worker"
	"docflow/src/storage/localblob"
	"docflow/src/storage/minioctrl"
	"docflow/src/storage/postgres/jobctrl"
)

// openDatabase connects to PostgreSQL with the configured credentials.
func openDatabase() (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		viper.GetString("postgres.host"),
		viper.GetString("postgres.user"),
		viper.GetString("postgres.password"),
		viper.GetString("postgres.db"),
		viper.GetString("postgres.port"))
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	return db, nil
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// configuredTenants parses the comma-separated tenant list.
func configuredTenants() []string {
	var out []string
	for _, id := range strings.Split(viper.GetString("tenants"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// buildRegistry binds one Postgres-backed repository per configured
// tenant, creating the tenant schemas as needed.
func buildRegistry(ctx context.Context, db *gorm.DB) (*jobs.Registry, error) {
	registry := jobs.NewRegistry()
	for _, tenantID := range configuredTenants() {
		repo, err := jobctrl.NewTenantJobRepository(db, tenantID)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("tenant %s: %v", tenantID, err)
		}
		if err := registry.Bind(tenantID, repo); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// newBlobStore picks the configured blob backend.
func newBlobStore() (worker.BlobStore, error) {
	switch backend := viper.GetString("blob.backend"); backend {
	case "minio":
		return minioctrl.NewMinioService(
			viper.GetString("minio.endpoint"),
			viper.GetString("minio.access_key"),
			viper.GetString("minio.secret_key"),
			viper.GetBool("minio.use_ssl"),
		)
	case "local":
		return localblob.NewStore(viper.GetString("blob.local_root"))
	default:
		return nil, fmt.Errorf("unknown blob backend %q", backend)
	}
}

func newAMQPPublisher(logger watermill.LoggerAdapter) (*amqp.Publisher, error) {
	return amqp.NewPublisher(
		amqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
		logger,
	)
}

func newAMQPSubscriber(logger watermill.LoggerAdapter) (*amqp.Subscriber, error) {
	config := amqp.NewDurableQueueConfig(viper.GetString("amqp.url"))
	config.Consume.NoRequeueOnNack = true
	return amqp.NewSubscriber(config, logger)
}

func durationSetting(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
