package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/slide-narrator/internal/jobs"
)

var (
	jobsSubject int64
	jobsKind    string
	jobsLimit   int

	transcriptSubject int64
	transcriptDrafts  bool
)

var statusCmd = &cobra.Command{
	Use:   "status JOB_ID",
	Short: "Show a job's stage, progress and error",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		jobID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}
		return withReadOnlyApp(func(ctx context.Context, a *app) error {
			st, err := a.orch.Status(ctx, jobID)
			if err != nil {
				return err
			}
			a.printer.PrintStatus(st)
			return nil
		})
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs, newest first",
	RunE: func(_ *cobra.Command, _ []string) error {
		filter := jobs.ListFilter{Limit: jobsLimit}
		if jobsSubject > 0 {
			filter.SubjectID = &jobsSubject
		}
		if jobsKind != "" {
			kind, err := jobs.ParseKind(jobsKind)
			if err != nil {
				return err
			}
			filter.Kind = kind
		}
		return withReadOnlyApp(func(ctx context.Context, a *app) error {
			recs, err := a.db.Jobs().List(ctx, filter)
			if err != nil {
				return err
			}
			a.printer.PrintJobs(recs)
			return nil
		})
	},
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Print a subject's stored speeches",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withReadOnlyApp(func(ctx context.Context, a *app) error {
			if transcriptDrafts {
				drafts, err := a.db.LoadDrafts(ctx, transcriptSubject)
				if err != nil {
					return err
				}
				a.printer.PrintDrafts(drafts)
			}
			transcript, err := a.db.LoadTranscript(ctx, transcriptSubject)
			if err != nil {
				return err
			}
			if transcript == nil {
				fmt.Printf("No transcript stored for subject %d\n", transcriptSubject)
				return nil
			}
			a.printer.PrintTranscript(transcript)
			return nil
		})
	},
}

func withReadOnlyApp(fn func(ctx context.Context, a *app) error) error {
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
	return fn(ctx, a)
}

func init() {
	jobsCmd.Flags().Int64Var(&jobsSubject, "subject", 0, "Only jobs for this subject")
	jobsCmd.Flags().StringVar(&jobsKind, "kind", "", "Only jobs of this kind (TRANSCRIBE, AUDIO_VIDEO_SYNTH)")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to list")

	transcriptCmd.Flags().Int64VarP(&transcriptSubject, "subject", "s", 0, "Subject id (required)")
	transcriptCmd.Flags().BoolVar(&transcriptDrafts, "drafts", false, "Also print the page drafts")
	_ = transcriptCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(transcriptCmd)
}
