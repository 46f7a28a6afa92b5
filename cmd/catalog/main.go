// cmd/catalog/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"readhub/internal/catalog"
	"readhub/internal/eventstore"
	"readhub/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("catalog service failed")
	}
}

func run(ctx context.Context) error {
	rt, err := server.Bootstrap(ctx, server.Options{Name: "catalog", DefaultPort: "8081"})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	authn, _, err := rt.Authn(ctx)
	if err != nil {
		return err
	}

	// Search degrades to the database when Typesense is missing or failing.
	var index catalog.Index
	ts := catalog.NewTypesenseIndex(rt.Config.Typesense)
	if err := ts.InitSchema(ctx); err != nil {
		log.Warn().Err(err).Msg("search index unavailable, using database search")
	} else {
		index = catalog.WithCircuitBreaker(ts)
	}

	svc := catalog.NewService(eventstore.NewEventStore(rt.DB), catalog.NewRepository(rt.DB), index)
	handler := catalog.NewHandler(svc)

	router := rt.Router()
	router.Mount("/", handler.Routes(authn))

	log.Info().Str("port", rt.Config.Server.Port).Msg("starting catalog service")
	return server.ListenAndServe(ctx, ":"+rt.Config.Server.Port, router)
}
