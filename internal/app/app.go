// Package app wires the platform's services together and runs them.
package app

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/natefell/quizarena/internal/auth"
	"github.com/natefell/quizarena/internal/config"
	"github.com/natefell/quizarena/internal/connection"
	"github.com/natefell/quizarena/internal/handlers"
	"github.com/natefell/quizarena/internal/logger"
	"github.com/natefell/quizarena/internal/match"
	"github.com/natefell/quizarena/internal/matchmaking"
	"github.com/natefell/quizarena/internal/rating"
	"github.com/natefell/quizarena/internal/repository"
	"github.com/natefell/quizarena/pkg/questions"
)

// App holds all application dependencies
type App struct {
	log      logger.Logger
	cfg      *config.Config
	repo     *repository.Repository
	registry *connection.Registry
	queue    *matchmaking.Queue
	manager  *match.Manager
	handlers *handlers.Handlers
}

// New creates and initializes a new application instance
func New(log logger.Logger, cfg *config.Config, questionClient questions.Client) (*App, error) {
	repo, err := repository.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	registry := connection.NewRegistry(log, connection.DefaultConfig())

	engine := rating.NewEngine()

	var manager *match.Manager
	queue := matchmaking.NewQueue(log, matchmaking.DefaultConfig(), registry, func(p matchmaking.Pairing) {
		manager.HandlePairing(p)
	})
	manager = match.NewManager(log, match.DefaultConfig(), registry, questionClient, repo, repo, engine, queue)

	// The registry signals the match layer through hooks so the dependency
	// stays one-directional.
	registry.SetHooks(connection.Hooks{
		Disconnected: manager.HandleDisconnected,
		GraceStarted: manager.HandleGraceStarted,
		Reconnected:  manager.HandleReconnected,
		Abandoned:    manager.HandleAbandoned,
	})

	validator := auth.NewJWTValidator([]byte(cfg.JWTSecret))
	gateway := handlers.NewGateway(log, queue, manager, repo)
	h := handlers.New(log, registry, queue, manager, repo, validator, gateway, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return repo.Ping(ctx)
	})

	return &App{
		log:      log,
		cfg:      cfg,
		repo:     repo,
		registry: registry,
		queue:    queue,
		manager:  manager,
		handlers: h,
	}, nil
}

// Run starts the HTTP server and the background loops, blocking until the
// context is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    a.cfg.Addr,
		Handler: a.handlers.Router(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.registry.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.queue.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.log.Info("Server starting", "addr", a.cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if closeErr := a.repo.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
