package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverterRejectsUnrecognizedFormat(t *testing.T) {
	c := NewConverter(ConverterConfig{Binary: "/nonexistent/soffice"})

	in := filepath.Join(t.TempDir(), "upload.xyz")
	require.NoError(t, os.WriteFile(in, []byte("???"), 0o644))

	// The format check runs before any process spawn: a bogus binary
	// path must not matter.
	res := c.Run(context.Background(), in, t.TempDir(), time.Second)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, FailUnsupportedFormat, res.Code)
	assert.Contains(t, res.Detail, ".xyz")
}

func TestConverterPassesPDFThrough(t *testing.T) {
	c := NewConverter(ConverterConfig{})

	dir := t.TempDir()
	in := filepath.Join(dir, "already.pdf")
	require.NoError(t, os.WriteFile(in, []byte("%PDF-1.7"), 0o644))

	work := t.TempDir()
	res := c.Run(context.Background(), in, work, time.Second)

	require.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, filepath.Join(work, PDFOutputName), res.Outputs[0])

	b, err := os.ReadFile(res.Outputs[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), b)
}

func TestConverterFormatAllowlist(t *testing.T) {
	tests := []struct {
		name string
		path string
		want bool
	}{
		{"docx", "report.docx", true},
		{"uppercase ext", "REPORT.DOCX", true},
		{"odt", "memo.odt", true},
		{"pdf", "scan.pdf", true},
		{"image", "photo.png", false},
		{"no extension", "README", false},
	}
	c := NewConverter(ConverterConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Supported(tt.path))
		})
	}
}

func TestConverterCustomFormats(t *testing.T) {
	c := NewConverter(ConverterConfig{Formats: []string{".docx"}})
	assert.True(t, c.Supported("a.docx"))
	assert.False(t, c.Supported("a.odt"))
}

func TestPageNamesAreZeroPadded(t *testing.T) {
	assert.Equal(t, "page-0001.png", PageImageName(1))
	assert.Equal(t, "page-0042.png", PageImageName(42))
	assert.Equal(t, "page-0007.txt", PageTextName(7))
	assert.Equal(t, "page-0007.tsv", PageTSVName(7))
}

func TestNormalizePageImages(t *testing.T) {
	work := t.TempDir()
	// pdftoppm output naming for a 3-page document.
	for _, n := range []string{"page-1.png", "page-2.png", "page-3.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(work, n), []byte("png"), 0o644))
	}

	outputs, err := normalizePageImages(work, 3)
	require.NoError(t, err)
	require.Len(t, outputs, 3)
	assert.Equal(t, filepath.Join(work, "page-0001.png"), outputs[0])
	assert.Equal(t, filepath.Join(work, "page-0003.png"), outputs[2])
}

func TestNormalizePageImagesCountMismatch(t *testing.T) {
	work := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(work, "page-1.png"), []byte("png"), 0o644))

	_, err := normalizePageImages(work, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 3")
}

func TestScriptedRunnerCountsInvocations(t *testing.T) {
	r := NewScriptedRunner("doc_to_pdf", 1, ScriptOK(PDFOutputName))

	work := t.TempDir()
	res := r.Run(context.Background(), "in.docx", work, time.Second)
	require.True(t, res.OK())
	assert.Equal(t, "doc_to_pdf", res.Stage)
	assert.FileExists(t, filepath.Join(work, PDFOutputName))
	assert.Equal(t, int64(1), r.Invocations())

	fail := NewScriptedRunner("pdf_to_image", 1, ScriptFail(FailConversion, "boom"))
	res = fail.Run(context.Background(), "in.pdf", t.TempDir(), time.Second)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "pdf_to_image", res.Stage)
	assert.Equal(t, "boom", res.Detail)
}
