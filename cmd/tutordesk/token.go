package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tutordesk/internal/config"
	"tutordesk/internal/infra/identity"
	"tutordesk/pkg/domain"
)

func newTokenCommand(load func() (config.Config, error)) *cobra.Command {
	var p domain.Principal
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for local development",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if p.UID == "" {
				return errors.New("--uid is required")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			provider, err := identity.NewTokenProvider(identity.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, TTL: cfg.SessionTTL})
			if err != nil {
				return err
			}
			token, err := provider.Mint(p)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&p.UID, "uid", "", "principal uid (owner key)")
	cmd.Flags().StringVar(&p.Email, "email", "", "principal email")
	cmd.Flags().StringVar(&p.DisplayName, "name", "", "principal display name")
	return cmd
}
