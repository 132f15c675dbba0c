package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shiva/rentwheels/migrations"
	"github.com/shiva/rentwheels/pkg/db"
)

func newMigrateCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				names, err := migrations.Names()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}

			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			pool, err := db.NewPostgresPool(cmd.Context(), cfg.Postgres)
			if err != nil {
				return fmt.Errorf("connect to PostgreSQL: %w", err)
			}
			defer pool.Close()
			return migrations.Apply(cmd.Context(), pool, log)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print the embedded migrations and exit")
	return cmd
}
