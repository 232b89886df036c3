package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"photocron/internal/app"
	"photocron/internal/config"
)

// Set by ldflags; APP_VERSION overrides it at runtime.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "photocron",
		Short:         "Scheduled photo moderation and posting",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfgFile)
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the scheduler and HTTP API",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), cfgFile)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Validate configuration and print each job's next run",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return check(cmd, cfgFile)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "photocron %s\n", version)
			},
		},
	)
	return root
}

func serve(ctx context.Context, cfgFile string) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return err
	}
	if cfg.AppVersion == config.DefaultAppVersion && version != "dev" {
		cfg.AppVersion = version
	}
	app.SetupLogging(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	log.Info().Str("version", cfg.AppVersion).Msg("starting photocron")

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

func check(cmd *cobra.Command, cfgFile string) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return err
	}
	next, err := app.NextRuns(cfg, time.Now().In(cfg.Location()))
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "configuration OK")
	for _, id := range ids {
		fmt.Fprintf(out, "  %-18s next run %s\n", id, next[id].Format(time.RFC3339))
	}
	return nil
}
