package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/slide-narrator/internal/jobs"
	"github.com/jonathan/slide-narrator/internal/pipeline"
)

var (
	transcribeSubject  int64
	transcribeDocument int64
	transcribeEnqueue  bool
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe",
	Short: "Transcribe a slide document into per-page speeches",
	Long: `Runs a TRANSCRIBE job: KICKOFF -> SEGMENT -> DRAFT -> GEN_TRANSCRIPT -> FINISH.

Pages are rendered to images, drafted by the vision model against the cover
page, and turned into speeches that each see the previous speech and the
neighbouring drafts.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return submitJob(jobs.KindTranscribe, transcribeSubject, pipeline.Payload{DocumentID: transcribeDocument}, transcribeEnqueue)
	},
}

func init() {
	transcribeCmd.Flags().Int64VarP(&transcribeSubject, "subject", "s", 0, "Subject id (required)")
	transcribeCmd.Flags().Int64VarP(&transcribeDocument, "document", "d", 0, "Document id (required)")
	transcribeCmd.Flags().BoolVar(&transcribeEnqueue, "enqueue", false, "Publish to the job queue instead of running here")
	_ = transcribeCmd.MarkFlagRequired("subject")
	_ = transcribeCmd.MarkFlagRequired("document")
	rootCmd.AddCommand(transcribeCmd)
}
