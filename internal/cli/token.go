// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iius-rcox/ai-assistant-sub001/overedit"
	"github.com/spf13/cobra"
)

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		user      string
		sessionID string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:          "token",
		Short:        "Mint a bearer token for the record API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config()
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret (or JWT_SECRET) must be set")
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			tok, err := overedit.NewJWTAuth(cfg.Server.JWTSecret).GenerateToken(user, sessionID, ttl)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), map[string]any{
					"token":      tok,
					"user":       user,
					"session_id": sessionID,
					"expires_in": int64(ttl.Seconds()),
				})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*time.Minute, "token lifetime")
	return cmd
}
