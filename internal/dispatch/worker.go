package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Worker runs one enrichment against a transfer artifact and returns what
// the enrichment printed as its result.
type Worker interface {
	Run(ctx context.Context, artifactPath string) (string, error)
}

// WorkerError is a failed worker run. Stderr carries the worker's own
// diagnostics and becomes the gateway's error message when present.
type WorkerError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *WorkerError) Error() string {
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return s
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("worker exited with code %d", e.ExitCode)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// ProcessWorker runs each enrichment in a child process. The artifact path
// is appended as the last argument of Command.
type ProcessWorker struct {
	Command []string
	Env     []string
	// WaitDelay bounds how long Run waits for output after the child is killed.
	WaitDelay time.Duration
	Log       *zap.Logger
}

// DefaultWorkerCommand re-executes the running binary as "enrich --event".
func DefaultWorkerCommand() ([]string, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: resolve executable")
	}
	return []string{exe, "enrich", "--event"}, nil
}

// Run implements Worker.
func (w *ProcessWorker) Run(ctx context.Context, artifactPath string) (string, error) {
	if len(w.Command) == 0 {
		return "", &WorkerError{ExitCode: -1, Err: eris.New("dispatch: worker command is empty")}
	}
	log := w.Log
	if log == nil {
		log = zap.NewNop()
	}

	args := append(append([]string{}, w.Command[1:]...), artifactPath)
	cmd := exec.CommandContext(ctx, w.Command[0], args...)
	if len(w.Env) > 0 {
		cmd.Env = append(os.Environ(), w.Env...)
	}
	cmd.WaitDelay = w.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	log.Debug("dispatch: worker process finished",
		zap.String("command", w.Command[0]),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	if err == nil {
		return stdout.String(), nil
	}

	werr := &WorkerError{ExitCode: -1, Stderr: stderr.String(), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		werr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		werr.Err = eris.Wrap(ctxErr, "dispatch: worker canceled")
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			werr.Err = eris.Wrap(ctxErr, "dispatch: worker timed out")
		}
		// A killed child's partial stderr is less useful than the reason.
		werr.Stderr = ""
	}
	return stdout.String(), werr
}

// FuncWorker runs the enrichment in-process on its own goroutine. Panics
// become a WorkerError. On timeout ctx is canceled and Run still waits for
// the goroutine to return, so a caller's cleanup never overlaps it.
type FuncWorker func(ctx context.Context, artifactPath string) (string, error)

// Run implements Worker.
func (f FuncWorker) Run(ctx context.Context, artifactPath string) (string, error) {
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &WorkerError{ExitCode: -1, Err: eris.Errorf("dispatch: worker panic: %v", r)}}
			}
		}()
		out, err := f(ctx, artifactPath)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.out, nil
		}
		var werr *WorkerError
		if errors.As(r.err, &werr) {
			return r.out, werr
		}
		return r.out, &WorkerError{ExitCode: 1, Err: r.err}
	case <-ctx.Done():
		<-done
		return "", &WorkerError{ExitCode: -1, Err: eris.Wrap(ctx.Err(), "dispatch: worker timed out")}
	}
}
