package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/notifystream/pkg/middleware"
)

func newTokenCmd(a *app) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <userId>",
		Short: "Issue a stream access token signed with auth.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret が設定されていません")
			}

			token, err := middleware.GenerateJWT(cfg.Auth.JWTSecret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.Flags().String("secret", "", "Signing secret (overrides auth.jwt_secret)")
	bindFlag(a.v, "auth.jwt_secret", cmd.Flags().Lookup("secret"))
	return cmd
}
