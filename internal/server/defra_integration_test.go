package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jackzampolin/qforge/internal/config"
	"github.com/jackzampolin/qforge/internal/defra"
	"github.com/jackzampolin/qforge/internal/home"
	"github.com/jackzampolin/qforge/internal/providers"
	"github.com/jackzampolin/qforge/internal/svcctx"
	"github.com/jackzampolin/qforge/internal/testutil"
)

// TestServer_DefraLifecycle runs the server on the DefraDB backend and checks
// the container is stopped on shutdown. This test requires Docker.
func TestServer_DefraLifecycle(t *testing.T) {
	env := testutil.NewServerEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	h, err := home.New(env.Home)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Defra.ContainerName = env.Defra.Name
	cfg.Defra.Port = env.Defra.Port
	cfg.Defaults.Enhancers = []string{config.AdapterRules}
	cfg.Defaults.Generators = []string{config.AdapterCloze}

	// Create the container with test labels so cleanup finds it; the
	// store then adopts the running container.
	dockerCfg := svcctx.DefraDockerConfig(cfg.Defra, h)
	dockerCfg.Labels = env.Defra.Labels
	pre, err := defra.NewDockerManager(dockerCfg)
	if err != nil {
		t.Fatalf("NewDockerManager() error = %v", err)
	}
	defer pre.Close()
	if err := pre.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	svcs, err := svcctx.Build(ctx, svcctx.BuildConfig{
		Config:   cfg,
		Home:     h,
		Logger:   env.Logger,
		Registry: providers.NewRegistry(),
		Backend:  config.BackendDefra,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	srv, err := New(Config{Host: env.Host, Port: env.Port, Services: svcs, Logger: env.Logger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	serverCtx, serverCancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- srv.Start(serverCtx) }()

	if err := testutil.WaitForServer(env.URL(), 60*time.Second); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}

	t.Run("status_reports_container", func(t *testing.T) {
		store, err := testutil.GetStoreStatus(env.URL())
		if err != nil {
			t.Fatal(err)
		}
		if store.Backend != config.BackendDefra || store.Container != string(defra.StatusRunning) {
			t.Errorf("store status = %+v", store)
		}
	})

	t.Run("run_persists_in_defra", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"text": passage, "qtype": "short_answer", "difficulty": "easy", "num_questions": 2, "wait": true,
		})
		resp, err := http.Post(env.URL()+"/api/runs", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("POST /api/runs = %d", resp.StatusCode)
		}
	})

	serverCancel()
	if err := testutil.WaitForShutdown(done, 60*time.Second); err != nil {
		t.Errorf("shutdown: %v", err)
	}

	status, err := pre.Status(ctx)
	if err != nil {
		t.Fatalf("failed to get status: %v", err)
	}
	if status == defra.StatusRunning {
		t.Error("DefraDB still running after server shutdown")
		_ = pre.Stop(ctx)
	}
}
