package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	ingestSubject int64
	ingestTitle   string
	ingestFile    string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Register a slide document for a subject",
	Long: `Copy a PDF into the uploads directory and record it as a document.
Without --subject a new subject is created, titled by --title or the file name.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().Int64Var(&ingestSubject, "subject", 0, "Existing subject id")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "Title for a new subject")
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "Path to the slide document (required)")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(_ *cobra.Command, _ []string) error {
	data, err := os.ReadFile(ingestFile)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
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

	subjectID := ingestSubject
	if subjectID == 0 {
		title := ingestTitle
		if title == "" {
			title = filepath.Base(ingestFile)
		}
		if subjectID, err = a.db.CreateSubject(ctx, title); err != nil {
			return err
		}
	}

	path, err := a.files.SaveDocument(ctx, subjectID, filepath.Base(ingestFile), data)
	if err != nil {
		return err
	}
	doc, err := a.db.CreateDocument(ctx, subjectID, path)
	if err != nil {
		return err
	}

	fmt.Printf("Subject:  %d\nDocument: %d\nStored:   %s\n", subjectID, doc.ID, path)
	return nil
}
