package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExtractorConfig configures the image-to-text runner.
type ExtractorConfig struct {
	// Binary is the Tesseract executable. Default: "tesseract".
	Binary string

	// Lang is the Tesseract language pack. Default: "eng".
	Lang string

	// Positional additionally emits TSV positional text regions per page.
	Positional bool
}

// Extractor extracts plain text from one page image via Tesseract.
//
// The runner processes a single image per invocation; the orchestrator fans
// out one invocation per page. A page's failure is isolated there, not here.
type Extractor struct {
	binary     string
	lang       string
	positional bool
}

var _ Runner = (*Extractor)(nil)

// NewExtractor creates the image-to-text runner.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	bin := strings.TrimSpace(cfg.Binary)
	if bin == "" {
		bin = "tesseract"
	}
	lang := strings.TrimSpace(cfg.Lang)
	if lang == "" {
		lang = "eng"
	}
	return &Extractor{binary: bin, lang: lang, positional: cfg.Positional}
}

func (e *Extractor) Name() string { return "image_to_text" }

func (e *Extractor) Version() int { return 1 }

func (e *Extractor) Run(ctx context.Context, inputPath, workDir string, timeout time.Duration) Result {
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outBase := filepath.Join(workDir, base)

	args := []string{inputPath, outBase, "-l", e.lang, "txt"}
	if e.positional {
		args = append(args, "tsv")
	}

	inv := runArgv(ctx, timeout, workDir, e.binary, args...)
	if res, failed := classify(ctx, e.Name(), inv); failed {
		return res
	}

	txt := outBase + ".txt"
	if _, err := os.Stat(txt); err != nil {
		return failure(e.Name(), FailCorruptOutput,
			fmt.Sprintf("extractor produced no text output: %s", inv.output), inv.duration)
	}
	outputs := []string{txt}
	if e.positional {
		if tsv := outBase + ".tsv"; fileExists(tsv) {
			outputs = append(outputs, tsv)
		}
	}
	return Result{Stage: e.Name(), Status: StatusOK, Outputs: outputs, Duration: inv.duration}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
