package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PDFOutputName is the normalized converter output filename inside the
// scratch directory.
const PDFOutputName = "document.pdf"

// defaultFormats are the office/document extensions the converter accepts.
// Anything else is rejected as unsupported before a process is spawned, so
// an unrecognized format can never surface as a timeout or corrupt output.
var defaultFormats = []string{
	".doc", ".docx", ".odt", ".rtf", ".txt",
	".ppt", ".pptx", ".odp",
	".xls", ".xlsx", ".ods", ".csv",
	".pdf",
}

// ConverterConfig configures the document-to-PDF runner.
type ConverterConfig struct {
	// Binary is the LibreOffice executable. Default: "soffice".
	Binary string

	// Formats overrides the accepted input extensions (with leading dot).
	Formats []string
}

// Converter converts arbitrary office-format documents to a single PDF via
// headless LibreOffice.
//
// LibreOffice is single-writer-unsafe: concurrent invocations corrupt the
// shared profile state. The orchestrator serializes calls; the runner
// additionally isolates each invocation with a scratch-local profile.
type Converter struct {
	binary  string
	formats map[string]struct{}
}

var _ Runner = (*Converter)(nil)

// NewConverter creates the document-to-PDF runner.
func NewConverter(cfg ConverterConfig) *Converter {
	bin := strings.TrimSpace(cfg.Binary)
	if bin == "" {
		bin = "soffice"
	}
	exts := cfg.Formats
	if len(exts) == 0 {
		exts = defaultFormats
	}
	formats := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		formats[strings.ToLower(e)] = struct{}{}
	}
	return &Converter{binary: bin, formats: formats}
}

func (c *Converter) Name() string { return "doc_to_pdf" }

func (c *Converter) Version() int { return 1 }

// Supported reports whether the converter recognizes the file's format.
func (c *Converter) Supported(path string) bool {
	_, ok := c.formats[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (c *Converter) Run(ctx context.Context, inputPath, workDir string, timeout time.Duration) Result {
	if !c.Supported(inputPath) {
		return failure(c.Name(), FailUnsupportedFormat,
			fmt.Sprintf("unrecognized input format %q", filepath.Ext(inputPath)), 0)
	}

	// PDF input needs no conversion; pass it through as the stage output
	// so the rest of the pipeline stays uniform.
	if strings.EqualFold(filepath.Ext(inputPath), ".pdf") {
		out := filepath.Join(workDir, PDFOutputName)
		if err := copyFile(inputPath, out); err != nil {
			return failure(c.Name(), FailCorruptOutput, err.Error(), 0)
		}
		return Result{Stage: c.Name(), Status: StatusOK, Outputs: []string{out}}
	}

	// Scratch-local profile keeps concurrent-unsafe LibreOffice state off
	// the shared user profile.
	profile := filepath.Join(workDir, "profile")
	inv := runArgv(ctx, timeout, workDir, c.binary,
		"--headless",
		"--norestore",
		"--nolockcheck",
		"-env:UserInstallation=file://"+profile,
		"--convert-to", "pdf",
		"--outdir", workDir,
		inputPath,
	)
	if res, failed := classify(ctx, c.Name(), inv); failed {
		return res
	}

	// LibreOffice names the output after the input basename.
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	produced := filepath.Join(workDir, base+".pdf")
	st, err := os.Stat(produced)
	if err != nil || st.Size() == 0 {
		// Exit code zero with no output is how LibreOffice reports an
		// import filter it could not apply.
		return failure(c.Name(), FailUnsupportedFormat,
			fmt.Sprintf("converter produced no output: %s", inv.output), inv.duration)
	}

	out := filepath.Join(workDir, PDFOutputName)
	if err := os.Rename(produced, out); err != nil {
		return failure(c.Name(), FailCorruptOutput, err.Error(), inv.duration)
	}
	return Result{Stage: c.Name(), Status: StatusOK, Outputs: []string{out}, Duration: inv.duration}
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o644)
}
