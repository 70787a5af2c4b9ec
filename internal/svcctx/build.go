package svcctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/qforge/internal/config"
	"github.com/jackzampolin/qforge/internal/defra"
	"github.com/jackzampolin/qforge/internal/home"
	"github.com/jackzampolin/qforge/internal/jobs"
	"github.com/jackzampolin/qforge/internal/metrics"
	"github.com/jackzampolin/qforge/internal/pipeline"
	"github.com/jackzampolin/qforge/internal/providers"
	"github.com/jackzampolin/qforge/internal/schema"
	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/store/sqlite"
)

// BuildConfig configures Build.
type BuildConfig struct {
	Config *config.Config
	Home   *home.Dir
	Logger *slog.Logger
	// Registry is built from Config when nil.
	Registry *providers.Registry
	// Backend overrides Config.Store.Backend when set.
	Backend string
}

// Build opens the configured store and assembles the coordinator and
// runner. The runner is created but not started.
func Build(ctx context.Context, cfg BuildConfig) (*Services, error) {
	if cfg.Config == nil {
		return nil, errors.New("svcctx: config is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		h, err := home.New("")
		if err != nil {
			return nil, err
		}
		cfg.Home = h
	}
	if err := cfg.Home.EnsureExists(); err != nil {
		return nil, err
	}

	reg := cfg.Registry
	if reg == nil {
		reg = providers.NewRegistry()
		reg.SetLogger(cfg.Logger)
		reg.Reload(cfg.Config.ToProviderRegistryConfig())
	}

	backend := cfg.Config.Store.Backend
	if cfg.Backend != "" {
		backend = cfg.Backend
	}
	if backend == "" {
		backend = config.BackendSQLite
	}
	st, manager, err := OpenStore(ctx, backend, cfg.Config, cfg.Home, cfg.Logger)
	if err != nil {
		return nil, err
	}

	rec := metrics.NewRecorder(0)
	pcfg := pipeline.Config{
		Store:    st,
		Adapters: pipeline.BuildAdapters(cfg.Config, reg, cfg.Logger),
		Metrics:  rec,
		Logger:   cfg.Logger,
	}
	pcfg.Apply(cfg.Config.Pipeline)
	coord, err := pipeline.New(pcfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	runner, err := jobs.NewRunner(jobs.Config{
		Executor:  coord,
		Store:     st,
		Logger:    cfg.Logger,
		Workers:   cfg.Config.Pipeline.Workers,
		QueueSize: cfg.Config.Pipeline.QueueSize,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	uploadDir := cfg.Config.Server.UploadDir
	if uploadDir == "" {
		uploadDir = cfg.Home.UploadsPath()
	}

	return &Services{
		Config:       cfg.Config,
		Home:         cfg.Home,
		Logger:       cfg.Logger,
		Registry:     reg,
		Store:        st,
		Backend:      backend,
		Metrics:      rec,
		Coordinator:  coord,
		Runner:       runner,
		DefraManager: manager,
		UploadDir:    uploadDir,
		MaxUpload:    int64(cfg.Config.Server.MaxUploadMB) << 20,
	}, nil
}

// OpenStore opens the named storage backend. For defra it starts the
// container if needed and applies the schemas; the returned manager is nil
// for every other backend.
func OpenStore(ctx context.Context, backend string, cfg *config.Config, h *home.Dir, logger *slog.Logger) (store.Store, *defra.DockerManager, error) {
	switch backend {
	case config.BackendMemory:
		return store.NewMemory(), nil, nil

	case config.BackendSQLite, "":
		path := cfg.Store.Path
		if path == "" {
			path = h.DatabasePath()
		}
		st, err := sqlite.Open(path, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened sqlite store", "path", path)
		return st, nil, nil

	case config.BackendDefra:
		manager, err := defra.NewDockerManager(DefraDockerConfig(cfg.Defra, h))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create defra manager: %w", err)
		}
		if err := manager.EnsureRunning(ctx); err != nil {
			_ = manager.Close()
			return nil, nil, fmt.Errorf("failed to start DefraDB: %w", err)
		}
		client := defra.NewClient(manager.URL())
		if err := schema.Initialize(ctx, client, logger); err != nil {
			_ = manager.Close()
			return nil, nil, fmt.Errorf("schema initialization failed: %w", err)
		}
		logger.Info("DefraDB is ready", "url", manager.URL())
		return defra.NewStore(client, logger), manager, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// DefraDockerConfig maps the defra config section onto the container manager.
func DefraDockerConfig(c config.DefraConfig, h *home.Dir) defra.DockerConfig {
	return defra.DockerConfig{
		ContainerName: c.ContainerName,
		Image:         c.Image,
		HostPort:      c.Port,
		DataPath:      h.DefraPath(),
	}
}

// Reload applies a changed configuration: providers are re-registered and
// the coordinator picks up new adapter chains for subsequent runs.
func (s *Services) Reload(cfg *config.Config) {
	s.Registry.Reload(cfg.ToProviderRegistryConfig())
	s.Coordinator.SetAdapters(pipeline.BuildAdapters(cfg, s.Registry, s.Logger))
	s.Config = cfg
	s.Logger.Info("providers and adapters reloaded from config")
}

// Close stops the runner, closes the store and stops DefraDB if it was started here.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.Runner != nil {
		if err := s.Runner.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if s.DefraManager != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		s.Logger.Info("stopping DefraDB")
		if err := s.DefraManager.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop DefraDB: %w", err))
		}
		if err := s.DefraManager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
