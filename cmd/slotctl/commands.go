package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/slot-reservations/internal/app"
	"github.com/noah-isme/slot-reservations/internal/auth"
	"github.com/noah-isme/slot-reservations/internal/config"
	"github.com/noah-isme/slot-reservations/internal/inventory"
	"github.com/noah-isme/slot-reservations/internal/migrations"
	"github.com/noah-isme/slot-reservations/internal/obs"
	"github.com/noah-isme/slot-reservations/internal/promo"
)

func databaseURL() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", errors.New("DATABASE_URL is required")
	}
	return cfg.DatabaseURL, nil
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the Postgres schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			if err := migrations.Up(url); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back steps migrations, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			url, err := databaseURL()
			if err != nil {
				return err
			}
			if err := migrations.Down(url, steps); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			v, dirty, err := migrations.Version(url)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", v, dirty)
			return nil
		},
	})
	return cmd
}

func newSeedCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo experiences and their slots into the configured backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now().UTC()
			if from != "" {
				parsed, err := time.Parse(inventory.DateLayout, from)
				if err != nil {
					return fmt.Errorf("--from must be YYYY-MM-DD: %w", err)
				}
				start = parsed
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreBackend == config.BackendMemory {
				return errors.New("seed needs STORE_BACKEND=postgres or redis; the memory backend seeds itself")
			}
			logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel)
			deps, err := app.Open(cmd.Context(), cfg, "slotctl", logger)
			if err != nil {
				return err
			}
			defer deps.Close()
			if err := deps.Seed(cmd.Context(), start); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d days from %s into %s\n", app.SeedDays, start.Format(inventory.DateLayout), cfg.StoreBackend)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first slot date (YYYY-MM-DD), defaults to today")
	return cmd
}

func newPromoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promo",
		Short: "Inspect promo code tables",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate a promo TOML file and list its rules; no file lists the defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			calc, err := promo.LoadFile(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range calc.Rules() {
				fmt.Fprintf(out, "%s\t%s\t%d\n", r.Code, r.Kind, r.Value)
			}
			return nil
		},
	})
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		email   string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				return errors.New("refusing to mint tokens in production")
			}
			secret := cfg.JWTSecret
			if secret == "" {
				secret = auth.DevSecret
			}
			token, err := auth.NewVerifier(secret, cfg.JWTIssuer).Issue(auth.Identity{
				Subject: subject,
				Email:   email,
				Role:    role,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "dev-user", "token subject")
	cmd.Flags().StringVar(&email, "email", "", "customer email claim")
	cmd.Flags().StringVar(&role, "role", "", "role claim, e.g. admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
