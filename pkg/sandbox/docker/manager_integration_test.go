package docker_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/tiered/pkg/sandbox/docker"
)

func TestIntegration_DockerManager_RunPython(t *testing.T) {
	// Check if DOCKER_HOST is set. If not, we skip.
	if os.Getenv("DOCKER_HOST") == "" {
		t.Skip("Skipping integration test: DOCKER_HOST not set")
	}

	mgr, err := docker.New(docker.WithTimeout(5 * time.Second))
	if err != nil {
		t.Skipf("Skipping test: Docker not available or failed to init: %v", err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	sessionID := uuid.New().String()
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mgr.Stop(cleanupCtx, sessionID)
	}()

	// First run (should trigger cold start)
	res, err := mgr.RunPython(ctx, sessionID, "print('Hello, World!')")
	if err != nil {
		t.Fatalf("RunPython failed: %v", err)
	}
	if res.Stdout != "Hello, World!\n" {
		t.Errorf("Expected greeting, got %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", res.ExitCode)
	}

	// Second run (warm): errors surface as stderr and exit status.
	res2, err := mgr.RunPython(ctx, sessionID, "raise ValueError('boom')")
	if err != nil {
		t.Fatalf("RunPython 2 failed: %v", err)
	}
	if res2.ExitCode == 0 || !strings.Contains(res2.Stderr, "ValueError") {
		t.Errorf("Expected failure with traceback, got %+v", res2)
	}

	// Third run: network is disabled.
	res3, err := mgr.RunPython(ctx, sessionID, "import urllib.request\nurllib.request.urlopen('http://example.com', timeout=2)")
	if err != nil {
		t.Fatalf("RunPython 3 failed: %v", err)
	}
	if res3.ExitCode == 0 {
		t.Errorf("Expected network access to fail, got %+v", res3)
	}

	// Fourth run: the deadline kills runaway code.
	res4, err := mgr.RunPython(ctx, sessionID, "while True: pass")
	if err != nil {
		t.Fatalf("RunPython 4 failed: %v", err)
	}
	if !res4.TimedOut {
		t.Errorf("Expected timeout, got %+v", res4)
	}
}

func TestIntegration_DockerManager_StopAll(t *testing.T) {
	if os.Getenv("DOCKER_HOST") == "" {
		t.Skip("Skipping integration test: DOCKER_HOST not set")
	}

	mgr, err := docker.New(docker.WithTimeout(5 * time.Second))
	if err != nil {
		t.Skipf("Skipping test: Docker not available or failed to init: %v", err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	sessionID := uuid.New().String()
	defer mgr.Stop(context.Background(), sessionID)

	if _, err := mgr.RunPython(ctx, sessionID, "open('marker', 'w').write('x')"); err != nil {
		t.Fatalf("RunPython failed: %v", err)
	}
	if err := mgr.StopAll(ctx); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	// The next run gets a fresh container.
	res, err := mgr.RunPython(ctx, sessionID, "import os; print(os.path.exists('marker'))")
	if err != nil {
		t.Fatalf("RunPython after StopAll failed: %v", err)
	}
	if res.Stdout != "False\n" {
		t.Errorf("Expected a fresh sandbox, got %q", res.Stdout)
	}
}
