package stage

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// ScriptFunc produces a scripted result for one invocation. The function
// may populate workDir with fake outputs just like a real tool would.
type ScriptFunc func(ctx context.Context, inputPath, workDir string) Result

// ScriptedRunner is a Runner whose results are scripted by tests.
//
// It keeps the external tools out of orchestrator tests entirely and counts
// invocations so cache-hit properties can be asserted.
type ScriptedRunner struct {
	name    string
	version int
	script  ScriptFunc

	invocations atomic.Int64
}

var _ Runner = (*ScriptedRunner)(nil)

// NewScriptedRunner creates a runner that answers every Run with script.
func NewScriptedRunner(name string, version int, script ScriptFunc) *ScriptedRunner {
	return &ScriptedRunner{name: name, version: version, script: script}
}

func (s *ScriptedRunner) Name() string { return s.name }

func (s *ScriptedRunner) Version() int { return s.version }

// Invocations returns how many times Run has been called.
func (s *ScriptedRunner) Invocations() int64 {
	return s.invocations.Load()
}

func (s *ScriptedRunner) Run(ctx context.Context, inputPath, workDir string, timeout time.Duration) Result {
	s.invocations.Add(1)
	res := s.script(ctx, inputPath, workDir)
	if res.Stage == "" {
		res.Stage = s.name
	}
	return res
}

// ScriptOK is a ScriptFunc helper that writes the named outputs into
// workDir and reports success.
func ScriptOK(names ...string) ScriptFunc {
	return func(_ context.Context, _ string, workDir string) Result {
		outputs := make([]string, 0, len(names))
		for _, n := range names {
			p := filepath.Join(workDir, n)
			if err := os.WriteFile(p, []byte("scripted "+n), 0o644); err != nil {
				return Result{Status: StatusFailed, Code: FailCorruptOutput, Detail: err.Error()}
			}
			outputs = append(outputs, p)
		}
		return Result{Status: StatusOK, Outputs: outputs}
	}
}

// ScriptFail is a ScriptFunc helper that reports a failure with the given
// classification and diagnostic detail.
func ScriptFail(code FailureCode, detail string) ScriptFunc {
	return func(context.Context, string, string) Result {
		return failure("", code, detail, 0)
	}
}
