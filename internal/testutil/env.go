// Package testutil holds helpers for integration tests that need docker,
// a DefraDB container or a running qforge server.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
)

// DefraContainer names a per-test DefraDB container. It mirrors the defra
// package's DockerConfig fields so that package's own tests can use it.
type DefraContainer struct {
	Name   string
	Port   string
	Labels map[string]string
}

// ServerEnv is a DefraDB-backed server environment for one test.
type ServerEnv struct {
	Host   string
	Port   string
	Home   string
	Defra  DefraContainer
	Logger *slog.Logger
}

// NewServerEnv reserves ports, a home directory and a labelled container
// name for a server test. It skips the test when docker is unavailable.
func NewServerEnv(t *testing.T) ServerEnv {
	t.Helper()
	RequireDocker(t)

	httpPort, err := FindFreePort()
	if err != nil {
		t.Fatalf("reserve http port: %v", err)
	}
	defraPort, err := FindFreePort()
	if err != nil {
		t.Fatalf("reserve defra port: %v", err)
	}

	level := slog.LevelWarn
	if testing.Verbose() {
		level = slog.LevelDebug
	}
	return ServerEnv{
		Host: "127.0.0.1",
		Port: httpPort,
		Home: t.TempDir(),
		Defra: DefraContainer{
			Name:   UniqueContainerName(t, "defra"),
			Port:   defraPort,
			Labels: ContainerLabels(t),
		},
		Logger: slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: level})),
	}
}

// URL is the base URL the server will listen on.
func (e ServerEnv) URL() string {
	return "http://" + net.JoinHostPort(e.Host, e.Port)
}

// testWriter sends log output through t.Log so it is attached to the test.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

var _ io.Writer = testWriter{}

// WaitForServer polls /ready until it answers 200 or timeout passes.
func WaitForServer(baseURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := &http.Client{Timeout: 2 * time.Second}
	err := retry.Do(
		func() error {
			resp, err := client.Get(baseURL + "/ready")
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("ready returned %d", resp.StatusCode)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("server not ready after %v: %w", timeout, err)
	}
	return nil
}

// WaitForShutdown waits for the server's Start call to return.
func WaitForShutdown(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.New("timeout waiting for shutdown")
	}
}

// FindFreePort asks the kernel for an unused loopback port.
func FindFreePort() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer ln.Close()
	return strconv.Itoa(ln.Addr().(*net.TCPAddr).Port), nil
}

// StoreStatus is the store section of GET /status.
type StoreStatus struct {
	Backend   string `json:"backend"`
	Health    string `json:"health"`
	Container string `json:"container"`
	URL       string `json:"url"`
}

// GetStoreStatus fetches GET /status and returns its store section.
func GetStoreStatus(baseURL string) (*StoreStatus, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Store StoreStatus `json:"store"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return &body.Store, nil
}
