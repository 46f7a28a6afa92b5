// Package server holds the process wiring shared by the ReadHub binaries.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"readhub/internal/apperrors"
	"readhub/internal/config"
	"readhub/internal/membership"
	"readhub/internal/observability"
	"readhub/internal/store"
)

const shutdownTimeout = 15 * time.Second

// Options name a service and the port it listens on when PORT is unset.
type Options struct {
	Name        string
	DefaultPort string
	ConfigPath  string
	// SkipDatabase is set by processes that never touch PostgreSQL.
	SkipDatabase bool
}

// Runtime is everything a service main needs after startup.
type Runtime struct {
	Config  *config.Config
	Metrics *observability.Metrics
	DB      *sqlx.DB

	closers []func(context.Context) error
}

// Bootstrap loads configuration, sets up logging, tracing and metrics, then
// opens and migrates the database.
func Bootstrap(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, ok := os.LookupEnv("PORT"); !ok && opts.DefaultPort != "" {
		cfg.Server.Port = opts.DefaultPort
	}
	observability.InitLogger(opts.Name, cfg.App.Environment, cfg.Dev.LogLevel)

	rt := &Runtime{Config: cfg}

	if cfg.Telemetry.Enabled {
		shutdown, err := observability.Setup(ctx, opts.Name, cfg.App.Version, cfg.Telemetry.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to set up tracing: %w", err)
		}
		rt.closers = append(rt.closers, shutdown)
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	rt.Metrics = metrics

	if opts.SkipDatabase {
		return rt, nil
	}

	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.OnClose(func(context.Context) error { return db.Close() })
	if err := store.Migrate(ctx, db); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.DB = db
	return rt, nil
}

// OnClose registers fn to run at shutdown. Closers run in reverse order.
func (rt *Runtime) OnClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases everything registered with OnClose.
func (rt *Runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			log.Warn().Err(err).Msg("shutdown step failed")
		}
	}
	rt.closers = nil
}

// Authn connects to Redis and returns the session middleware.
func (rt *Runtime) Authn(ctx context.Context) (func(http.Handler) http.Handler, membership.SessionStore, error) {
	client, err := membership.NewRedisClient(ctx, rt.Config.Redis)
	if err != nil {
		return nil, nil, err
	}
	rt.OnClose(func(context.Context) error { return client.Close() })
	sessions := membership.NewRedisSessionStore(client)
	return membership.RequireSession(sessions), sessions, nil
}

// Router returns a chi router with the common middleware and a health
// endpoint.
func (rt *Runtime) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(rt.Metrics))
	r.Get("/healthz", Health(rt.DB))
	return r
}

// Health answers 200 while db responds to a ping. A nil db is always healthy.
func Health(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				apperrors.WriteError(w, apperrors.NewExternalError("database unavailable", err))
				return
			}
		}
		apperrors.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ListenAndServe serves h on addr until ctx is done, then shuts the server
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return Serve(ctx, ln, h)
}

// Serve is ListenAndServe over an existing listener.
// Request contexts are canceled when shutdown starts so long-lived streams
// end instead of holding Shutdown open.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
