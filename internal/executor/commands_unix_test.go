//go:build !windows

package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExecRunnerExitCode(t *testing.T) {
	out, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v; a non-zero exit is not an error", err)
	}
	if out.ExitCode != 3 || strings.TrimSpace(out.Stdout) != "out" || strings.TrimSpace(out.Stderr) != "err" {
		t.Errorf("Run() = %+v", out)
	}
}

func TestExecRunnerStartFailure(t *testing.T) {
	out, err := ExecRunner{}.Run(context.Background(), Command{Name: "ticket-bridge-no-such-binary"})
	if err == nil || !strings.Contains(err.Error(), "failed to start") {
		t.Fatalf("Run() error = %v; want a start failure", err)
	}
	if out.ExitCode != -1 {
		t.Errorf("ExitCode = %d; want -1", out.ExitCode)
	}
}

func TestExecRunnerTimeoutKillsProcessTree(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"direct child", "sleep 5"},
		{"grandchild holding the pipes", "sleep 5 | cat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			start := time.Now()
			out, err := ExecRunner{}.Run(ctx, Command{Name: "sh", Args: []string{"-c", tt.script}})
			elapsed := time.Since(start)

			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Run() error = %v; want deadline exceeded", err)
			}
			if out.ExitCode != -1 {
				t.Errorf("ExitCode = %d; want -1", out.ExitCode)
			}
			if elapsed > 200*time.Millisecond+waitDelay+time.Second {
				t.Errorf("Run() returned after %v; the timeout was not honored", elapsed)
			}
		})
	}
}
