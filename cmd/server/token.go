package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"notes-sync-indexer/internal/config"
	"notes-sync-indexer/pkg/hash"
	"notes-sync-indexer/pkg/jwt"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var expiration time.Duration

	cmd := &cobra.Command{
		Use:   "token [owner-id]",
		Short: "Issue an API token for the notes of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if expiration <= 0 {
				expiration = cfg.JWT.Expiration
			}

			token, err := jwt.GenerateToken(args[0], expiration, cfg.JWT.Secret)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&expiration, "expires", 0, "token lifetime (defaults to JWT_EXPIRATION)")
	return cmd
}

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key",
		Short: "Hash a verification key read from stdin for VERIFY_KEY_HASH",
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read key: %w", err)
			}

			hashed, err := hash.Hash(strings.TrimSpace(line))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hashed)
			return nil
		},
	}
}
