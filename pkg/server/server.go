package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	handlers "github.com/de-tools/revenue-atlas/pkg/handlers/run"
	revenuemiddleware "github.com/de-tools/revenue-atlas/pkg/server/middleware"
	"github.com/de-tools/revenue-atlas/pkg/services/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const defaultShutdownTimeout = 10 * time.Second

type WebAPI struct {
	router     http.Handler
	logger     *zerolog.Logger
	server     *http.Server
	config     Config
	onShutdown func(ctx context.Context) error
}

type Dependencies struct {
	Controller workflow.Controller
	Data       handlers.DataRoot
	Rates      handlers.RateSource
	Publisher  handlers.Publisher
	Logger     zerolog.Logger
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Handler         handlers.Config
	Dependencies    Dependencies
	// OnShutdown runs after the HTTP server has drained, e.g. to stop runs.
	OnShutdown func(ctx context.Context) error
}

func ConfigureRouter(config Config) http.Handler {
	deps := config.Dependencies
	runHandler := handlers.NewHandler(deps.Controller, deps.Data, deps.Rates, deps.Publisher, config.Handler)

	router := chi.NewRouter()

	router.Use(revenuemiddleware.Logger(&deps.Logger))
	router.Use(middleware.Recoverer)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/uploads", runHandler.Upload)
		r.Get("/cohorts", runHandler.ListCohorts)
		r.Get("/packs", runHandler.ListPacks)
		r.Get("/rates/latest", runHandler.LatestRate)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runHandler.ListRuns)
			r.Post("/", runHandler.StartRun)
			r.Get("/{id}", runHandler.GetRun)
			r.Get("/{id}/logs", runHandler.GetLogs)
			r.Post("/{id}/stop", runHandler.StopRun)
			r.Get("/{id}/results", runHandler.GetResults)
			r.Get("/{id}/charts", runHandler.GetCharts)
			r.Get("/{id}/export", runHandler.Export)
			r.Post("/{id}/publish", runHandler.Publish)
		})
	})

	return router
}

func NewWebAPI(config Config) *WebAPI {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	router := ConfigureRouter(config)
	logger := config.Dependencies.Logger

	return &WebAPI{
		router:     router,
		logger:     &logger,
		config:     config,
		onShutdown: config.OnShutdown,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (w *WebAPI) Start() error {
	serverErrors := make(chan error, 1)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	go func() {
		w.logger.Info().Str("addr", w.server.Addr).Msg("starting server")
		serverErrors <- w.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-shutdown:
		w.logger.Info().Str("signal", sig.String()).Msg("shutdown initiated")
		return w.Shutdown()
	}
}

// Shutdown drains in-flight requests, then stops background runs. Both
// steps share the configured timeout.
func (w *WebAPI) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.ShutdownTimeout)
	defer cancel()

	err := w.server.Shutdown(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("graceful shutdown failed")
		err = w.server.Close()
	}

	if w.onShutdown != nil {
		if runErr := w.onShutdown(ctx); runErr != nil {
			w.logger.Error().Err(runErr).Msg("runs did not stop before the shutdown deadline")
			err = errors.Join(err, runErr)
		}
	}
	return err
}
