package engine

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/aide-sh/aide/internal/infra/metrics"
)

// InvokeOptions tune a one-shot inference invocation.
type InvokeOptions struct {
	// MaxTokens caps generation; 0 leaves the engine default.
	MaxTokens int
	// Timeout bounds the invocation; 0 means 10 minutes.
	Timeout time.Duration
}

// Invoke runs one inference pass: `engine -m <modelPath> -p <prompt>`.
// It returns trimmed stdout; a non-zero exit includes the stderr tail.
func Invoke(ctx context.Context, enginePath, modelPath, prompt string, opts InvokeOptions) (string, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-m", modelPath, "-p", prompt}
	if opts.MaxTokens > 0 {
		args = append(args, "-n", strconv.Itoa(opts.MaxTokens))
	}

	stdout := &limitedBuffer{max: 1 << 20}
	stderr := &limitedBuffer{max: 8192}

	cmd := exec.CommandContext(ctx, enginePath, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		tail := strings.TrimSpace(stderr.String())
		if tail != "" {
			return "", fmt.Errorf("engine invocation failed: %w\n%s", err, lastLines(tail, 5))
		}
		return "", fmt.Errorf("engine invocation failed: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
