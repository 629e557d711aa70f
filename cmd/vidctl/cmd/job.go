package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vidqueue/internal/domain"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect generation jobs",
}

var jobShowCmd = &cobra.Command{
	Use:   "show [job_id]",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, closeFn, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		job, err := backend.GetJob(cmd.Context(), args[0])
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("job %s not found", args[0])
		}
		if err != nil {
			return err
		}
		printJob(cmd, job)
		return nil
	},
}

func printJob(cmd *cobra.Command, job *domain.Job) {
	cmd.Printf("%s Job %s\n", statusIcon(job.Status), job.ID)
	cmd.Println("──────────────────────────────")
	cmd.Printf("Status:      %s\n", job.Status)
	cmd.Printf("User:        %s\n", job.UserID)
	cmd.Printf("Model:       %s\n", job.Model())
	cmd.Printf("Source:      %s\n", job.Source)
	cmd.Printf("Credits:     %d\n", job.CreditsCharged)
	cmd.Printf("Task:        %s\n", orDash(job.ProviderTaskID))
	cmd.Printf("Created:     %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		cmd.Printf("Started:     %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.OutputURL != "" {
		cmd.Printf("Output:      %s\n", job.OutputURL)
	}
	if job.Error != "" {
		cmd.Printf("Error:       %s\n", job.Error)
	}
}

func statusIcon(status domain.JobStatus) string {
	switch status {
	case domain.JobStatusCompleted:
		return "✓"
	case domain.JobStatusFailed:
		return "✗"
	case domain.JobStatusProcessing:
		return "⏳"
	case domain.JobStatusPending:
		return "◯"
	default:
		return "•"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	jobCmd.AddCommand(jobShowCmd)
	rootCmd.AddCommand(jobCmd)
}
