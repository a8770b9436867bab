// Package batch provides loading and execution of drawmill batch manifests.
//
// A batch manifest is a YAML or JSON file that names a set of local
// documents by glob pattern and submits each of them to the conversion
// pipeline.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	inputs:
//	  base_dir: ./conops
//	  includes:
//	    - "2026/**/*.docx"
//	  excludes:
//	    - "**/~$*"
//	submit:
//	  continue_on_error: true
package batch

import (
	"errors"
	"fmt"
	"strings"
)

// Manifest represents a validated batch manifest.
type Manifest struct {
	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Inputs configures document selection by glob patterns.
	Inputs InputConfig `json:"inputs" yaml:"inputs"`

	// Submit configures submission behavior (optional).
	Submit SubmitConfig `json:"submit,omitempty" yaml:"submit,omitempty"`
}

// InputConfig configures document selection.
type InputConfig struct {
	// BaseDir is the directory patterns are resolved against. Relative
	// values are resolved against the manifest file's directory. Optional;
	// defaults to the manifest's directory.
	BaseDir string `json:"base_dir,omitempty" yaml:"base_dir,omitempty"`

	// Includes is a list of glob patterns for documents to submit.
	// At least one pattern is required. Patterns support ** globstar.
	Includes []string `json:"includes" yaml:"includes"`

	// Excludes is a list of glob patterns for documents to skip. Optional.
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
}

// SubmitConfig configures submission behavior.
type SubmitConfig struct {
	// ContinueOnError keeps submitting after a document is rejected.
	// Default: true.
	ContinueOnError *bool `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`

	// Wait blocks until every submitted job reaches a terminal status.
	// Default: false.
	Wait bool `json:"wait,omitempty" yaml:"wait,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultContinueOnError is the default error handling behavior.
	DefaultContinueOnError = true
)

// Validate checks manifest invariants after parsing.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return errors.New("batch manifest: version is required")
	}
	if m.Version != DefaultVersion {
		return fmt.Errorf("batch manifest: unsupported version %q (want %q)", m.Version, DefaultVersion)
	}
	if len(m.Inputs.Includes) == 0 {
		return errors.New("batch manifest: inputs.includes requires at least one pattern")
	}
	for _, p := range m.Inputs.Includes {
		if strings.TrimSpace(p) == "" {
			return errors.New("batch manifest: empty include pattern")
		}
	}
	return nil
}

// ContinueOnError returns the configured value, or the default if unset.
func (s *SubmitConfig) ContinueOnErrorEnabled() bool {
	if s.ContinueOnError == nil {
		return DefaultContinueOnError
	}
	return *s.ContinueOnError
}
