package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiva/rentwheels/internal/auth"
	"github.com/shiva/rentwheels/internal/model"
)

func newTokenCmd() *cobra.Command {
	var (
		userID int64
		role   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			cred := auth.Credential{UserID: userID, Role: model.UserRole(role)}
			switch {
			case cred.UserID <= 0:
				return fmt.Errorf("--user must be positive")
			case cred.Role != model.RoleGuest && cred.Role != model.RoleHost && cred.Role != model.RoleAdmin:
				return fmt.Errorf("--role %q must be guest, host or admin", role)
			}

			mgr, err := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			tok, err := mgr.Sign(cred, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id (subject)")
	cmd.Flags().StringVar(&role, "role", string(model.RoleGuest), "guest, host or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
