package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageImageName returns the deterministic 1-based, zero-padded filename for
// a rendered page.
func PageImageName(page int) string {
	return fmt.Sprintf("page-%04d.png", page)
}

// PageTextName returns the deterministic filename for a page's extracted
// text.
func PageTextName(page int) string {
	return fmt.Sprintf("page-%04d.txt", page)
}

// PageTSVName returns the deterministic filename for a page's positional
// text regions.
func PageTSVName(page int) string {
	return fmt.Sprintf("page-%04d.tsv", page)
}

// RendererConfig configures the PDF-to-image runner.
type RendererConfig struct {
	// Binary is the Poppler pdftoppm executable. Default: "pdftoppm".
	Binary string

	// DPI is the rasterization resolution. Default: 150.
	DPI int
}

// Renderer rasterizes a PDF into one PNG per page via pdftoppm.
//
// The PDF is validated with pdfcpu before the external process runs, so a
// malformed or password-protected document fails deterministically instead
// of burning the render timeout.
type Renderer struct {
	binary string
	dpi    int
}

var _ Runner = (*Renderer)(nil)

// NewRenderer creates the PDF-to-image runner.
func NewRenderer(cfg RendererConfig) *Renderer {
	bin := strings.TrimSpace(cfg.Binary)
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := cfg.DPI
	if dpi <= 0 {
		dpi = 150
	}
	return &Renderer{binary: bin, dpi: dpi}
}

func (r *Renderer) Name() string { return "pdf_to_image" }

func (r *Renderer) Version() int { return 1 }

// Probe validates the PDF and returns its page count without rendering.
func (r *Renderer) Probe(path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, err
	}
	return api.PageCountFile(path)
}

func (r *Renderer) Run(ctx context.Context, inputPath, workDir string, timeout time.Duration) Result {
	pages, err := r.Probe(inputPath)
	if err != nil {
		return failure(r.Name(), FailConversion,
			fmt.Sprintf("pdf validation: %v", err), 0)
	}
	if pages == 0 {
		return failure(r.Name(), FailCorruptOutput, "pdf has no pages", 0)
	}

	prefix := filepath.Join(workDir, "page")
	inv := runArgv(ctx, timeout, workDir, r.binary,
		"-png",
		"-r", fmt.Sprintf("%d", r.dpi),
		inputPath,
		prefix,
	)
	if res, failed := classify(ctx, r.Name(), inv); failed {
		return res
	}

	outputs, err := normalizePageImages(workDir, pages)
	if err != nil {
		return failure(r.Name(), FailCorruptOutput, err.Error(), inv.duration)
	}
	return Result{Stage: r.Name(), Status: StatusOK, Outputs: outputs, Duration: inv.duration}
}

// normalizePageImages renames pdftoppm's variably padded output
// (page-1.png, page-01.png, ...) to the fixed page-%04d.png contract and
// verifies the produced count matches the probe.
func normalizePageImages(workDir string, expected int) ([]string, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil, err
	}
	var produced []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "page-") || !strings.HasSuffix(name, ".png") {
			continue
		}
		produced = append(produced, name)
	}
	// pdftoppm pads page numbers uniformly, so lexical order is page order.
	sort.Strings(produced)

	if len(produced) != expected {
		return nil, fmt.Errorf("renderer produced %d page images, expected %d", len(produced), expected)
	}

	outputs := make([]string, 0, expected)
	for i, name := range produced {
		final := filepath.Join(workDir, PageImageName(i+1))
		src := filepath.Join(workDir, name)
		if src != final {
			if err := os.Rename(src, final); err != nil {
				return nil, err
			}
		}
		st, err := os.Stat(final)
		if err != nil || st.Size() == 0 {
			return nil, fmt.Errorf("page image %s is empty or unreadable", PageImageName(i+1))
		}
		outputs = append(outputs, final)
	}
	return outputs, nil
}
