// cmd/membership/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"readhub/internal/eventstore"
	"readhub/internal/membership"
	"readhub/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("membership service failed")
	}
}

func run(ctx context.Context) error {
	rt, err := server.Bootstrap(ctx, server.Options{Name: "membership", DefaultPort: "8083"})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	authn, sessions, err := rt.Authn(ctx)
	if err != nil {
		return err
	}

	svc := membership.NewService(
		eventstore.NewEventStore(rt.DB),
		membership.NewRepository(rt.DB),
		sessions,
		rt.Config.Security,
	)
	handler := membership.NewHandler(svc)

	router := rt.Router()
	router.Mount("/", handler.Routes(authn))

	log.Info().Str("port", rt.Config.Server.Port).Msg("starting membership service")
	return server.ListenAndServe(ctx, ":"+rt.Config.Server.Port, router)
}
