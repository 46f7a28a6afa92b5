// cmd/admin/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"readhub/internal/catalog"
	"readhub/internal/circulation"
	"readhub/internal/feedback"
	"readhub/internal/membership"
	"readhub/internal/reports"
	"readhub/internal/server"
)

const flushInterval = time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("admin service failed")
	}
}

func run(ctx context.Context) error {
	rt, err := server.Bootstrap(ctx, server.Options{Name: "admin", DefaultPort: "8084"})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	authn, _, err := rt.Authn(ctx)
	if err != nil {
		return err
	}

	outbox, err := feedback.OpenOutbox(rt.Config.Outbox.Path)
	if err != nil {
		return err
	}
	rt.OnClose(func(context.Context) error { return outbox.Close() })

	feedbackSvc := feedback.NewService(feedback.NewRepository(rt.DB), outbox, rt.Metrics)
	reportSvc := reports.NewService(&reports.StoreSource{
		Books:   catalog.NewRepository(rt.DB),
		Members: membership.NewRepository(rt.DB),
		Records: circulation.NewRepository(rt.DB),
	})

	go flushLoop(ctx, feedbackSvc)

	router := rt.Router()
	router.Mount("/reports", feedback.FlushPending(feedbackSvc)(reports.NewHandler(reportSvc).Routes(authn)))
	router.Mount("/", feedback.NewHandler(feedbackSvc).Routes(authn))

	log.Info().Str("port", rt.Config.Server.Port).Msg("starting admin service")
	return server.ListenAndServe(ctx, ":"+rt.Config.Server.Port, router)
}

// flushLoop replays queued contact submissions at startup and then
// periodically until ctx ends.
func flushLoop(ctx context.Context, svc feedback.Service) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		res, err := svc.Flush(ctx)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("feedback flush failed")
		case res.Flushed > 0 || res.Failed > 0:
			log.Info().Int("flushed", res.Flushed).Int("failed", res.Failed).Int("remaining", res.Remaining).Msg("feedback outbox flushed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
