package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	resumeForce bool
	resetStage  string
)

var resumeCmd = &cobra.Command{
	Use:   "resume JOB_ID",
	Short: "Continue a job from its last checkpoint",
	Long: `Continue a job from the stage recorded on its job record. FAILED jobs are
refused unless --force is given, which resets them to the stage they failed
from first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		jobID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, withProviders)
		if err != nil {
			return err
		}
		defer a.Close()

		// With no dispatcher Resume runs the job here
		runErr := a.orch.Resume(ctx, jobID, resumeForce)
		if st, err := a.orch.Status(context.Background(), jobID); err == nil {
			a.printer.PrintStatus(st)
		}
		return runErr
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset JOB_ID",
	Short: "Move a job back to a stage for a re-run",
	Long: `Move a job back to --stage, clearing its error. Without --stage a FAILED
job goes back to the stage it failed from and any other job to its first
stage. The job is not executed; use 'narrator resume' afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		jobID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		a, err := buildApp(ctx, cfg, withoutProviders)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.orch.Reset(ctx, jobID, resetStage)
		if err != nil {
			return err
		}
		fmt.Printf("Job %s reset to %s\n", rec.ID, rec.Stage)
		return nil
	},
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeForce, "force", false, "Resume a FAILED job from the stage it failed at")
	resetCmd.Flags().StringVar(&resetStage, "stage", "", "Stage name to reset to")
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(resetCmd)
}
