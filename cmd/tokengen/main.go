// Command tokengen issues bearer tokens for API clients of the broker.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"payment-collection-broker/config"
	"payment-collection-broker/internal/service"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var configPath string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "tokengen <subject>",
		Short: "Issue a bearer token for an API client",
		Long: `Signs a JWT with the broker's jwt.secret and jwt.issuer.
The token is printed on stdout; its expiry goes to stderr.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return errors.New("jwt.secret is not configured (set PCB_JWT_SECRET)")
			}

			expiry := cfg.JWT.Expiry
			if ttl > 0 {
				expiry = ttl
			}

			token, expiresAt, err := service.NewJWTTokenService(cfg.JWT.Secret, expiry, cfg.JWT.Issuer).Generate(args[0])
			if err != nil {
				return fmt.Errorf("issuing token: %w", err)
			}

			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a config file")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to jwt.expiry)")

	return cmd
}
