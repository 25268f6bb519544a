package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"docflow/src/core/jobs"
)

var watchFlags struct {
	tenant   string
	interval time.Duration
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job's progress until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchFlags.tenant, "tenant", "default", "tenant partition")
	watchCmd.Flags().DurationVar(&watchFlags.interval, "interval", 2*time.Second, "poll interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	var jobID int64
	if _, err := fmt.Sscanf(args[0], "%d", &jobID); err != nil {
		return fmt.Errorf("invalid job id %q", args[0])
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	ctx := context.Background()
	registry, err := buildRegistry(ctx, db)
	if err != nil {
		return err
	}
	service := jobs.NewService(registry, nil)

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(fmt.Sprintf("job %d", jobID)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
	)

	for {
		report, err := service.Status(ctx, watchFlags.tenant, jobID, 1)
		if err != nil {
			return err
		}
		job := report.Job

		bar.Describe(fmt.Sprintf("job %d [%s] %s", jobID, job.Status, job.CurrentStep))
		bar.Set(job.ProgressPercentage)

		if job.Status.Terminal() {
			bar.Finish()
			fmt.Println()
			switch job.Status {
			case jobs.JobStatusCompleted:
				fmt.Printf("completed, result: %s\n", job.ResultReference)
			case jobs.JobStatusFailed:
				fmt.Printf("failed after %d retries: %s\n", job.RetryCount, job.ErrorMessage)
			default:
				fmt.Println("cancelled")
			}
			return nil
		}

		time.Sleep(watchFlags.interval)
	}
}
