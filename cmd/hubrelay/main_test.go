package main

import (
	"context"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies serve fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("HUBRELAY_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, []string{"serve"}); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_Version(t *testing.T) {
	if err := run(context.Background(), []string{"version"}); err != nil {
		t.Fatalf("run(version) error = %v", err)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	if err := run(context.Background(), []string{"frobnicate"}); err == nil {
		t.Fatal("run() should fail for an unknown command")
	}
}
