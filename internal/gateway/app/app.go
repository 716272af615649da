package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"pcbmill/internal/gateway/config"
	"pcbmill/internal/gateway/handler"
	"pcbmill/internal/gateway/server"
	"pcbmill/internal/gateway/service/workflow"
	"pcbmill/internal/gateway/session"
	"pcbmill/internal/project"
	"pcbmill/internal/toolrun"
)

type App struct {
	server   *server.Server
	handler  http.Handler
	log      *zap.Logger
	hub      *project.Hub
	sessions *session.LRUStore
	stores   *gatewayStores
	template *project.WatchedTemplate
	sweepTTL time.Duration

	stop chan struct{}
	done chan struct{}
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.ProjectsDir, cfg.Paths.DownloadsDir, cfg.Paths.UploadsDir, filepath.Dir(cfg.Paths.DefaultConfigFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	// Dependencies
	globals, err := config.LoadToolGlobals(cfg.ToolConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool config: %w", err)
	}
	tmpl, err := project.WatchTemplate(cfg.Paths.DefaultConfigFile, log.Named("template"))
	if err != nil {
		return nil, fmt.Errorf("failed to watch default config: %w", err)
	}
	stores, err := initStores(cfg, log)
	if err != nil {
		_ = tmpl.Close()
		return nil, err
	}

	hub := project.NewHub(cfg.Paths.ProjectsDir, project.Options{
		Template: tmpl,
		Logger:   log.Named("project"),
	})
	runner := toolrun.NewRunner(globals, toolrun.WithLogger(log.Named("toolrun")))

	var svc *workflow.Service
	sessions, err := session.NewLRUStore(cfg.Session.Capacity, cfg.Session.TTL,
		session.OnEvict(func(s *session.Session) { svc.ReleaseSession(s) }))
	if err != nil {
		_ = tmpl.Close()
		_ = stores.Close()
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	svc = workflow.New(workflow.Deps{
		Hub:          hub,
		Sessions:     sessions,
		Runner:       runner,
		Catalog:      stores.catalog,
		Artifacts:    stores.artifact,
		DownloadsDir: cfg.Paths.DownloadsDir,
		Logger:       log.Named("workflow"),
	})

	h := handler.New(svc, handler.Options{
		UploadsDir: cfg.Paths.UploadsDir,
		RateLimit:  cfg.Socket.RateLimit,
		Burst:      cfg.Socket.Burst,
		Logger:     log.Named("handler"),
	})

	// Routing & Server
	mux := server.NewMux(h)
	srv := server.New(cfg.Port, mux, log)

	log.Info("gateway configured",
		zap.String("env", cfg.Env),
		zap.String("projects", cfg.Paths.ProjectsDir),
		zap.String("converter", globals.Binary))

	a := &App{
		server:   srv,
		handler:  mux,
		log:      log,
		hub:      hub,
		sessions: sessions,
		stores:   stores,
		template: tmpl,
		sweepTTL: cfg.Session.TTL,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go a.sweep()
	return a, nil
}

// Handler returns the routed HTTP handler without the h2c wrapper.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) Start() error {
	return a.server.Start()
}

// sweep expires idle sessions; eviction releases their project actors.
func (a *App) sweep() {
	defer close(a.done)
	interval := a.sweepTTL / 4
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case now := <-ticker.C:
			if dropped := a.sessions.Sweep(now); len(dropped) > 0 {
				a.log.Debug("sessions expired", zap.Int("count", len(dropped)))
			}
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
	select {
	case <-a.done:
	case <-ctx.Done():
	}
	a.hub.Close()
	return errors.Join(err, a.template.Close(), a.stores.Close())
}
