package defra_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/jackzampolin/qforge/internal/defra"
	"github.com/jackzampolin/qforge/internal/schema"
	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/store/storetest"
	"github.com/jackzampolin/qforge/internal/testutil"
)

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping DefraDB integration test in short mode")
	}
	testutil.RequireDocker(t)

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}

	mgr, err := defra.NewDockerManager(defra.DockerConfig{
		ContainerName: testutil.UniqueContainerName(t, "store"),
		DataPath:      t.TempDir(),
		HostPort:      port,
		Labels:        testutil.ContainerLabels(t),
	})
	if err != nil {
		t.Fatalf("NewDockerManager() error = %v", err)
	}
	defer mgr.Close()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	client := defra.NewClient(mgr.URL())
	if err := schema.Initialize(ctx, client, logger); err != nil {
		t.Fatalf("schema.Initialize() error = %v", err)
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		clearCollections(t, client)
		return defra.NewStore(client, logger)
	})
}

// clearCollections deletes every document so each subtest starts empty.
func clearCollections(t *testing.T, client *defra.Client) {
	t.Helper()
	ctx := context.Background()
	for _, coll := range []string{schema.Question, schema.QuestionSet, schema.PipelineRun} {
		docs, err := defra.NewQuery(coll).Execute(ctx, client)
		if err != nil {
			t.Fatalf("list %s: %v", coll, err)
		}
		for _, doc := range docs {
			id, _ := doc["_docID"].(string)
			if err := client.Delete(ctx, coll, id); err != nil {
				t.Fatalf("delete %s %s: %v", coll, id, err)
			}
		}
	}
}
