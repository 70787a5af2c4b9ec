package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/qforge/internal/server/endpoints"
	"github.com/jackzampolin/qforge/internal/types"
)

const passage = `Photosynthesis converts light energy into chemical energy inside chloroplasts.
Mitochondria release stored energy through cellular respiration in animal cells.
Chlorophyll absorbs mostly blue and red wavelengths of visible light.
Glucose molecules store energy that plants later use for growth.`

// execute runs the root command with args against a fresh home and an
// offline config, returning stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	offline := "defaults:\n  enhancers: [rules]\n  generators: [cloze]\n  ocr_providers: []\n"
	if err := os.WriteFile(cfgPath, []byte(offline), 0o644); err != nil {
		t.Fatal(err)
	}
	runText = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"--home", filepath.Join(dir, "home"), "--config", cfgPath}, args...))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunCommand_Text(t *testing.T) {
	out, err := execute(t, "run", "--text", passage,
		"--qtype", "short_answer", "--difficulty", "easy", "--num", "2", "--store", "memory", "-o", "json")
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}

	var res endpoints.RunResultResponse
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, out)
	}
	if res.Run.Status != types.StatusDone {
		t.Errorf("status = %q, want done", res.Run.Status)
	}
	if len(res.Questions) != 2 {
		t.Errorf("got %d questions, want 2", len(res.Questions))
	}
	if res.Failure != nil {
		t.Errorf("failure = %+v", res.Failure)
	}
}

func TestRunCommand_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no input", []string{"run", "--store", "memory"}},
		{"file and text", []string{"run", "notes.txt", "--text", "x", "--store", "memory"}},
		{"missing file", []string{"run", "does-not-exist.pdf", "--store", "memory"}},
		{"bad question count", []string{"run", "--text", passage, "--num", "0", "--store", "memory"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--home", dir, "--config", path, "config", "init"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config init error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	rootCmd.SetArgs([]string{"--home", dir, "--config", path, "config", "init"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("second init without --force should fail")
	}

	out.Reset()
	rootCmd.SetArgs([]string{"--home", dir, "--config", path, "config", "show"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if !strings.Contains(out.String(), "similarity_threshold") {
		t.Errorf("config show missing pipeline section:\n%s", out.String())
	}
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"}, {"run"}, {"version"},
		{"config", "init"}, {"config", "show"},
		{"defra", "start"}, {"defra", "status"}, {"defra", "logs"},
		{"api", "runs", "create"}, {"api", "questions"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}
