// cmd/circulation/main.go
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
	"readhub/internal/eventstore"
	"readhub/internal/membership"
	"readhub/internal/server"
	"readhub/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("circulation service failed")
	}
}

func run(ctx context.Context) error {
	rt, err := server.Bootstrap(ctx, server.Options{Name: "circulation", DefaultPort: "8082"})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	authn, _, err := rt.Authn(ctx)
	if err != nil {
		return err
	}

	enricher := circulation.NewEnricher(catalog.NewRepository(rt.DB), membership.NewRepository(rt.DB))
	svc := circulation.NewService(
		eventstore.NewEventStore(rt.DB),
		circulation.NewRepository(rt.DB),
		enricher,
		rt.Config.Borrowing,
		rt.Metrics,
	)

	// Without a change feed the admin view still works; only live updates are off.
	var stream circulation.Stream
	feed, err := circulation.ListenForChanges(rt.Config.Database.URL, store.ChangeChannel, 10*time.Second, time.Minute)
	if err != nil {
		log.Warn().Err(err).Msg("change feed unavailable, live updates disabled")
	} else {
		watcher := circulation.NewWatcher(feed, func(ctx context.Context) ([]*circulation.EnrichedRecord, error) {
			return svc.ListAll(ctx, circulation.Filter{})
		}, circulation.NewHub())
		watcher.Start(ctx)
		rt.OnClose(func(context.Context) error { return watcher.Close() })
		stream = watcher
	}

	handler := circulation.NewHandler(svc, stream)

	router := rt.Router()
	router.Mount("/", handler.Routes(authn))

	log.Info().Str("port", rt.Config.Server.Port).Msg("starting circulation service")
	return server.ListenAndServe(ctx, ":"+rt.Config.Server.Port, router)
}
