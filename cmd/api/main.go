// cmd/api/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"readhub/internal/apperrors"
	"readhub/internal/server"
)

// upstreams maps gateway prefixes to the env var naming each service and its
// local default.
var upstreams = []struct {
	prefix string
	env    string
	def    string
}{
	{"/api/v1/catalog", "CATALOG_SERVICE_URL", "http://localhost:8081"},
	{"/api/v1/circulation", "CIRCULATION_SERVICE_URL", "http://localhost:8082"},
	{"/api/v1/members", "MEMBERSHIP_SERVICE_URL", "http://localhost:8083"},
	{"/api/v1/admin", "ADMIN_SERVICE_URL", "http://localhost:8084"},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("api gateway failed")
	}
}

func run(ctx context.Context) error {
	rt, err := server.Bootstrap(ctx, server.Options{Name: "api", DefaultPort: "8080", SkipDatabase: true})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	router := rt.Router()
	for _, u := range upstreams {
		target, err := url.Parse(getEnv(u.env, u.def))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", u.env, err)
		}
		mountProxy(router, u.prefix, target)
	}

	log.Info().Str("port", rt.Config.Server.Port).Msg("API gateway listening")
	return server.ListenAndServe(ctx, ":"+rt.Config.Server.Port, router)
}

func mountProxy(r chi.Router, prefix string, target *url.URL) {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		apperrors.WriteError(w, apperrors.NewExternalError("upstream service unavailable", err))
	}
	r.Mount(prefix, http.StripPrefix(prefix, proxy))
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
