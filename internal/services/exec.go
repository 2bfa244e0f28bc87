package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/cibridge/internal/protocol"
)

const (
	terminationGracePeriod = 5 * time.Second
	maxStderrBytes         = 64 * 1024
)

// ErrPluginTimeout is returned when a plugin call exceeds its timeout.
var ErrPluginTimeout = errors.New("plugin call timed out")

// spawn runs entrypoint once, writes req to its stdin and decodes the response
// from stdout. On timeout or ctx cancellation the process gets SIGTERM and,
// after the grace period, SIGKILL.
func spawn(
	ctx context.Context,
	entrypoint string,
	req *protocol.Request,
	timeout time.Duration,
	logger *slog.Logger,
) (*protocol.Response, string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Termination is managed here rather than through CommandContext so the
	// plugin gets a chance to exit on SIGTERM.
	cmd := exec.Command(entrypoint)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning plugin", "entrypoint", entrypoint, "command", req.Command, "timeout", timeout)
	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var cause error
	select {
	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		if werr := <-writeErr; werr != nil {
			return nil, stderrStr, werr
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
			logger.Warn("plugin exited with non-zero status", "exit_code", exitErr.ExitCode())
		}

		resp, raw, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode plugin response", "error", err, "stdout", string(raw))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}
		return resp, stderrStr, nil

	case <-timer.C:
		logger.Warn("plugin execution timed out, sending SIGTERM")
		cause = ErrPluginTimeout
	case <-ctx.Done():
		logger.Warn("plugin call cancelled, sending SIGTERM")
		cause = ctx.Err()
	}

	terminate(cmd, waitErr, logger)
	return nil, truncateStderr(stderr.String()), cause
}

func terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("plugin exited after SIGTERM")
	case <-grace.C:
		logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

func truncateStderr(s string) string {
	if len(s) <= maxStderrBytes {
		return s
	}
	return s[:maxStderrBytes]
}
