package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(_ *cobra.Command, _ []string) error {
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

		if err := a.db.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("Schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
