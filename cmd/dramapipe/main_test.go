package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"dramapipe/internal/config"
	"dramapipe/internal/daemon"
	"dramapipe/internal/queue"
	"dramapipe/internal/testsupport"
	"dramapipe/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	daemon     *daemon.Daemon
	broker     *testsupport.FakeBroker
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	fake := testsupport.NewFakeBroker()
	dispatcher := workflow.NewDispatcher(cfg, store, fake, nil)
	dispatcher.Register(testsupport.NewScriptedExecutor(queue.StageScripting))

	d, err := daemon.New(cfg, store, nil, daemon.Components{
		Intake:     workflow.NewIntake(store, fake, nil),
		Dispatcher: dispatcher,
		Sweeper:    workflow.NewSweeper(cfg, store, fake, nil),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		broker:     fake,
		configPath: configPath,
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(*cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, addr, configPath string) (string, error) {
	t.Helper()

	full := append([]string{}, args...)
	if addr != "" {
		full = append(full, "--addr", addr)
	}
	if configPath != "" {
		full = append(full, "--config", configPath)
	}

	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(full)
	err := cmd.Execute()
	return buf.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("output %q does not contain %q", output, want)
	}
}
