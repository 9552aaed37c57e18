// Package mirror runs the external mirror command for each generated manifest.
package mirror

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/provider-mirror/internal/otel"
)

const (
	// DefaultTimeout bounds a single mirror invocation
	DefaultTimeout = 300 * time.Second

	// ExitCodeNotFound is reported when the command could not be started
	ExitCodeNotFound = 127

	// ExitCodeUnknown is reported when the command ended without an exit status
	ExitCodeUnknown = -1

	maxLineSize = 1024 * 1024

	// waitDelay bounds how long Wait keeps copying output after the child is killed
	waitDelay = 2 * time.Second
)

// ErrTimeout is returned when an invocation exceeds its timeout
var ErrTimeout = errors.New("mirror command timed out")

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks -source=runner.go Runner

// Runner executes one mirror invocation
type Runner interface {
	// Run executes argv and returns its exit code. err is nil only for exit code 0.
	Run(ctx context.Context, argv []string) (int, error)
}

// ExitError reports a non-zero exit status
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// RunnerOption configures an exec runner
type RunnerOption func(*execRunner)

// WithRunnerLogger sets the logger that receives the child's output
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *execRunner) {
		r.logger = logger
	}
}

// WithTimeout sets the per-invocation timeout. Values <= 0 select DefaultTimeout.
func WithTimeout(timeout time.Duration) RunnerOption {
	return func(r *execRunner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

type execRunner struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewExecRunner creates a Runner backed by os/exec. The child's stdout lines are logged
// at info level, stderr lines at error level.
func NewExecRunner(opts ...RunnerOption) Runner {
	r := &execRunner{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *execRunner) Run(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return ExitCodeUnknown, errors.New("mirror command is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	//nolint:gosec // the command is operator configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), otel.EnvCarrier(ctx)...)
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ExitCodeUnknown, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ExitCodeUnknown, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return ExitCodeNotFound, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	// A descendant that survives the kill keeps the write ends open, so the read ends
	// are closed on expiry to release the drainers.
	stopClosing := context.AfterFunc(ctx, func() {
		_ = stdout.Close()
		_ = stderr.Close()
	})

	// Both streams must be fully read before Wait closes them
	var g errgroup.Group
	g.Go(func() error { return r.drain(stdout, "stdout", slog.LevelInfo) })
	g.Go(func() error { return r.drain(stderr, "stderr", slog.LevelError) })
	drainErr := g.Wait()
	stopClosing()

	waitErr := cmd.Wait()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ExitCodeUnknown, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() >= 0 {
			return exitErr.ExitCode(), &ExitError{Code: exitErr.ExitCode()}
		}
		return ExitCodeUnknown, fmt.Errorf("mirror command failed: %w", waitErr)
	}

	if drainErr != nil {
		r.logger.Warn("Error reading mirror command output", "error", drainErr)
	}

	return 0, nil
}

func (r *execRunner) drain(stream io.Reader, name string, level slog.Level) error {
	sc := bufio.NewScanner(stream)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		r.logger.Log(context.Background(), level, sc.Text(), "stream", name)
	}
	if err := sc.Err(); err != nil {
		// keep consuming so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, stream)
		return fmt.Errorf("reading %s: %w", name, err)
	}
	return nil
}
