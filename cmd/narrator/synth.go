package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/slide-narrator/internal/jobs"
	"github.com/jonathan/slide-narrator/internal/pipeline"
)

var (
	synthSubject  int64
	synthDocument int64
	synthSpeeches string
	synthEnqueue  bool
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Synthesize narration audio and an HLS video for a subject",
	Long: `Runs an AUDIO_VIDEO_SYNTH job: PROCESSING -> AUDIO -> VIDEO -> FINISH.

Speeches come from --speeches (a JSON or YAML list of strings) or, when
omitted, from the subject's stored transcript.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		var speeches []string
		if synthSpeeches != "" {
			var err error
			if speeches, err = loadSpeeches(synthSpeeches); err != nil {
				return err
			}
		}
		payload := pipeline.Payload{DocumentID: synthDocument, Speeches: speeches}
		return submitJob(jobs.KindAudioVideoSynth, synthSubject, payload, synthEnqueue)
	},
}

func init() {
	synthCmd.Flags().Int64VarP(&synthSubject, "subject", "s", 0, "Subject id (required)")
	synthCmd.Flags().Int64VarP(&synthDocument, "document", "d", 0, "Document whose progress the job reports (optional)")
	synthCmd.Flags().StringVar(&synthSpeeches, "speeches", "", "JSON or YAML file holding a list of speeches")
	synthCmd.Flags().BoolVar(&synthEnqueue, "enqueue", false, "Publish to the job queue instead of running here")
	_ = synthCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(synthCmd)
}

// loadSpeeches reads a list of speeches from a .json, .yaml or .yml file
func loadSpeeches(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read speeches: %w", err)
	}

	var speeches []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &speeches)
	default:
		err = json.Unmarshal(data, &speeches)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse speeches %s: %w", path, err)
	}
	if len(speeches) == 0 {
		return nil, fmt.Errorf("speeches file %s is empty", path)
	}
	for i, s := range speeches {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("speech %d in %s is blank", i+1, path)
		}
	}
	return speeches, nil
}
