// cmd/integrity/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"readhub/internal/integrity"
	"readhub/internal/server"
)

var errChecksFailed = errors.New("integrity checks failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:           "integrity",
		Short:         "Check the library data for inconsistent loans and members",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := server.Bootstrap(ctx, server.Options{Name: "integrity", ConfigPath: configPath})
			if err != nil {
				log.Error().Err(err).Msg("startup failed")
				return err
			}
			defer rt.Close(context.Background())

			engine := integrity.NewEngine()
			engine.Register(integrity.LibraryChecks(rt.DB, rt.Config.Borrowing.MaxBooksPerUser)...)

			if interval <= 0 {
				return runOnce(ctx, engine)
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				runOnce(ctx, engine)
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().DurationVar(&interval, "interval", 0, "repeat the checks at this interval instead of exiting")
	return cmd
}

func runOnce(ctx context.Context, engine *integrity.Engine) error {
	results, ok := engine.RunAll(ctx)
	summary := integrity.Summary(results)
	if !ok {
		log.Error().Str("summary", summary).Msg("integrity run failed")
		return errChecksFailed
	}
	log.Info().Str("summary", summary).Msg("integrity run passed")
	return nil
}
