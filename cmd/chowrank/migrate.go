package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chowrank/chowrank/internal/infrastructure/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, manager, err := loadRuntime()
			if err != nil {
				return err
			}
			defer manager.Close()

			if err := db.Migrate(cmd.Context(), manager.DB()); err != nil {
				return err
			}
			fmt.Println("migrations up to date")
			return nil
		},
	}
}
