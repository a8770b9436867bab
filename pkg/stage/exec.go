package stage

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// maxCapture bounds how much combined tool output is retained for
// diagnostics. Tools like LibreOffice can be extremely chatty on failure.
const maxCapture = 16 * 1024

// invocation is the outcome of one external process run.
type invocation struct {
	exitErr  error
	timedOut bool
	output   string
	duration time.Duration
}

// runArgv executes binary with args as a discrete argument vector under a
// hard wall-clock timeout. On expiry the process group is killed.
//
// stdout and stderr are captured together: the tools wrapped here
// interleave diagnostics across both streams.
func runArgv(ctx context.Context, timeout time.Duration, dir string, binary string, args ...string) invocation {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Dir = dir
	setProcessGroup(cmd)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	// Give the process a short window to die on context cancellation
	// before the harder kill.
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	inv := invocation{
		exitErr:  err,
		duration: elapsed,
		output:   tail(buf.Bytes(), maxCapture),
	}
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		inv.timedOut = true
	}
	return inv
}

// classify maps an invocation to a failed Result, or returns ok=false when
// the invocation succeeded. cancelled context wins over all other classes.
func classify(ctx context.Context, name string, inv invocation) (Result, bool) {
	switch {
	case ctx.Err() != nil:
		return failure(name, FailCancelled, "invocation cancelled", inv.duration), true
	case inv.timedOut:
		return failure(name, FailTimeout, "wall-clock timeout exceeded; process terminated", inv.duration), true
	case inv.exitErr != nil:
		detail := inv.output
		if detail == "" {
			detail = inv.exitErr.Error()
		}
		return failure(name, FailConversion, detail, inv.duration), true
	}
	return Result{}, false
}

// tail returns the last max bytes of b as a string.
func tail(b []byte, max int) string {
	if len(b) <= max {
		return string(bytes.TrimSpace(b))
	}
	return string(bytes.TrimSpace(b[len(b)-max:]))
}
