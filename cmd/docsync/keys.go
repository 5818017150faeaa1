package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/docsearch-mcp/internal/auth"
	"github.com/bull/docsearch-mcp/internal/storage"
)

func (c *cli) keyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "Manage API keys"}

	var rateLimit int
	var expiresIn time.Duration
	var createdBy string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an API key and print it once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			gen, err := auth.GenerateKey(cfg.Auth.BcryptCost)
			if err != nil {
				return err
			}
			k := &storage.APIKey{
				Name:       args[0],
				SecretHash: gen.Hash,
				KeyPrefix:  gen.Prefix,
				RateLimit:  rateLimit,
				CreatedBy:  createdBy,
			}
			if k.RateLimit <= 0 {
				k.RateLimit = cfg.Auth.DefaultRateLimit
			}
			if expiresIn > 0 {
				at := time.Now().UTC().Add(expiresIn)
				k.ExpiresAt = &at
			}
			return c.withStore(cmd.Context(), func(s *storage.Store) error {
				if err := s.CreateAPIKey(cmd.Context(), k); err != nil {
					return err
				}
				c.printf("API key %q created (%d requests/hour).\n", k.Name, k.RateLimit)
				c.printf("Store it now, it will not be shown again:\n\n  %s\n", gen.Raw)
				return nil
			})
		},
	}
	create.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per hour (default: AUTH_DEFAULT_RATE_LIMIT)")
	create.Flags().DurationVar(&expiresIn, "expires-in", 0, "lifetime, e.g. 720h (default: never)")
	create.Flags().StringVar(&createdBy, "created-by", "", "owner recorded with the key")

	revoke := &cobra.Command{
		Use:   "revoke NAME",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(s *storage.Store) error {
				k, err := s.GetAPIKeyByName(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := s.RevokeAPIKey(cmd.Context(), k.ID); err != nil {
					return err
				}
				c.printf("API key %q revoked\n", k.Name)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withStore(cmd.Context(), func(s *storage.Store) error {
				if _, err := s.ExpireAPIKeys(cmd.Context(), time.Now()); err != nil {
					return err
				}
				keys, err := s.ListAPIKeys(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tPREFIX\tSTATUS\tRATE/H\tEXPIRES\tLAST USED")
				for _, k := range keys {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", k.Name, k.KeyPrefix, k.Status, k.RateLimit, formatOptional(k.ExpiresAt), formatOptional(k.LastUsedAt))
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(create, revoke, list)
	return cmd
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
