package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/trial-lifecycle/internal/app/components"
	"github.com/magabrotheeeer/trial-lifecycle/internal/app/lifecycle"
	"github.com/magabrotheeeer/trial-lifecycle/internal/app/scheduler"
	"github.com/magabrotheeeer/trial-lifecycle/internal/config"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/jwt"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "trialctl",
		Short:         "Trial lifecycle jobs and service tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CONFIG_PATH"), "path to config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newMigrateCmd(opts),
		newEvaluateCmd(opts),
		newCleanupCmd(opts),
		newScheduleCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	if o.configPath == "" {
		return nil, errors.New("config path is not set: use --config or CONFIG_PATH")
	}
	return config.Load(o.configPath)
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// build загружает конфиг и собирает зависимости. Логи пишутся в stderr,
// чтобы stdout оставался под JSON-результат команды.
func (o *rootOptions) build(cmd *cobra.Command, copts components.Options) (*config.Config, *components.Components, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	comps, err := components.Build(cmd.Context(), cfg, o.logger(cmd.ErrOrStderr()), copts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, comps, nil
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, comps, err := opts.build(cmd, components.Options{Migrate: true})
			if err != nil {
				return err
			}
			defer comps.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newEvaluateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Run one pass over expired trials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, comps, err := opts.build(cmd, components.Options{})
			if err != nil {
				return err
			}
			defer comps.Close()

			ev, err := comps.Trials.EvaluateExpired(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), ev)
		},
	}
}

func newCleanupCmd(opts *rootOptions) *cobra.Command {
	var publish bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one cleanup pass and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, comps, err := opts.build(cmd, components.Options{Publish: publish})
			if err != nil {
				return err
			}
			defer comps.Close()

			report, runErr := comps.Cleanup.Run(cmd.Context())
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", true, "publish the report to RabbitMQ")
	return cmd
}

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run evaluate and cleanup periodically until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			cfg, comps, err := opts.build(cmd, components.Options{Publish: true})
			if err != nil {
				return err
			}
			defer comps.Close()

			app := scheduler.New(comps.Trials, comps.Cleanup,
				cfg.EvaluateInterval, cfg.CleanupInterval, opts.logger(cmd.ErrOrStderr()))
			return app.Run(ctx)
		},
	}
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a service token for the cleanup endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Cleanup.JWTSecret == "" {
				return errors.New("cleanup.jwt_secret is empty: the endpoint accepts requests without a token")
			}
			token, err := jwt.NewMaker(cfg.Cleanup.JWTSecret).Issue(subject, lifecycle.CleanupScope, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "scheduler", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
