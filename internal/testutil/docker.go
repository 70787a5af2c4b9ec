package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
)

// CleanupLabel marks containers started by tests. Its value is the test name.
const CleanupLabel = "qforge-test"

// maxNameLen bounds the test-name part of generated container names.
const maxNameLen = 30

// TestingT is the part of testing.T the docker helpers need.
type TestingT interface {
	Name() string
	Cleanup(func())
	Logf(format string, args ...any)
	Skipf(format string, args ...any)
	Helper()
}

// RequireDocker skips the test in -short mode or when no docker daemon
// answers. Otherwise it returns a client and removes the test's labelled
// containers when the test ends, including ones orphaned by an earlier
// interrupted run of the same test.
func RequireDocker(t TestingT) *client.Client {
	t.Helper()
	if testing.Short() {
		t.Skipf("docker test skipped in short mode")
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		t.Skipf("docker daemon not reachable: %v", err)
	}

	label := fmt.Sprintf("%s=%s", CleanupLabel, t.Name())
	removeLabelled(ctx, cli, label, t.Logf)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		removeLabelled(ctx, cli, label, t.Logf)
		_ = cli.Close()
	})
	return cli
}

// UniqueContainerName returns qforge-test-<prefix>-<test>-<suffix>.
func UniqueContainerName(t TestingT, prefix string) string {
	t.Helper()
	return strings.Join([]string{"qforge-test", prefix, containerSafe(t.Name()), uuid.NewString()[:8]}, "-")
}

// ContainerLabels returns the labels RequireDocker cleans up by.
func ContainerLabels(t TestingT) map[string]string {
	return map[string]string{CleanupLabel: t.Name()}
}

// CleanupAllTestContainers removes every container carrying CleanupLabel,
// whichever test created it.
func CleanupAllTestContainers(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}
	defer cli.Close()

	var firstErr error
	removeLabelled(ctx, cli, CleanupLabel, func(format string, args ...any) {
		if firstErr == nil {
			firstErr = fmt.Errorf(format, args...)
		}
	})
	return firstErr
}

// removeLabelled stops and removes containers matching a label filter,
// reporting failures through logf.
func removeLabelled(ctx context.Context, cli *client.Client, label string, logf func(string, ...any)) {
	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	if err != nil {
		logf("list containers %s: %v", label, err)
		return
	}

	stopTimeout := 10
	for _, c := range containers {
		name := c.ID[:12]
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		_ = cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &stopTimeout})
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			logf("remove container %s: %v", name, err)
		}
	}
}

// containerSafe keeps [a-zA-Z0-9-] from a test name, mapping separators to '-'.
func containerSafe(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '/' || r == '_' || r == '-':
			return '-'
		default:
			return -1
		}
	}, name)
	if len(s) > maxNameLen {
		s = s[:maxNameLen]
	}
	return s
}
