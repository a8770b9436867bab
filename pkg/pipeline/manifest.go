package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/3leaps/drawmill/pkg/store"
)

// manifestKey addresses whole-pipeline outputs in the artifact store. A
// stored manifest is the completion marker: its presence short-circuits the
// entire pipeline for identical documents.
var manifestKey = store.StageKey{Name: "pipeline", Version: 1}

const manifestName = "manifest.json"

// ArtifactRef references one stored artifact.
type ArtifactRef struct {
	// Path is the artifact's path inside the store.
	Path string `json:"path"`

	// Size is the artifact size in bytes.
	Size int64 `json:"size"`
}

// PageArtifacts groups the derived artifacts for one page, in page order.
type PageArtifacts struct {
	// Page is the 1-based page number.
	Page int `json:"page"`

	// Image is the rendered page image.
	Image ArtifactRef `json:"image"`

	// Text is the extracted plain text. Nil when extraction failed for
	// this page; see TextError.
	Text *ArtifactRef `json:"text,omitempty"`

	// Regions is the positional text output, when enabled.
	Regions *ArtifactRef `json:"regions,omitempty"`

	// TextError explains an unavailable text artifact. Per-page OCR
	// failures are isolated: the page's image is still delivered.
	TextError string `json:"text_error,omitempty"`
}

// Manifest is the ordered collection of artifact references for a
// successfully completed job. It is shared by every job whose document
// bytes fingerprint to the same value.
type Manifest struct {
	Fingerprint string          `json:"fingerprint"`
	Filename    string          `json:"filename,omitempty"`
	PageCount   int             `json:"page_count"`
	PDF         ArtifactRef     `json:"pdf"`
	Pages       []PageArtifacts `json:"pages"`
	CreatedAt   time.Time       `json:"created_at"`

	// Stages records the stage versions that produced these artifacts.
	Stages map[string]int `json:"stages,omitempty"`
}

// LoadManifest reads the completed-pipeline manifest for a fingerprint.
// Returns store.ErrNotFound (wrapped) when the pipeline has not completed
// for this document.
func LoadManifest(s *store.Store, fp string) (*Manifest, error) {
	var m Manifest
	if err := s.ReadDerivedJSON(fp, manifestKey, manifestName, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ManifestExists reports whether the whole-pipeline cache entry is present.
func ManifestExists(s *store.Store, fp string) bool {
	return s.ExistsDerived(fp, manifestKey, manifestName)
}

// CompletedFingerprints lists every fingerprint whose pipeline has completed,
// sorted lexically.
func CompletedFingerprints(s *store.Store) ([]string, error) {
	artifactsRoot := filepath.Join(s.Root(), "artifacts")
	shards, err := os.ReadDir(artifactsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, sh := range shards {
		if !sh.IsDir() {
			continue
		}
		fps, err := os.ReadDir(filepath.Join(artifactsRoot, sh.Name()))
		if err != nil {
			continue
		}
		for _, fpEntry := range fps {
			if fpEntry.IsDir() && ManifestExists(s, fpEntry.Name()) {
				out = append(out, fpEntry.Name())
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// saveManifest persists the manifest as the pipeline completion marker.
// It must be the last artifact written for a fingerprint.
func saveManifest(s *store.Store, m *Manifest) error {
	_, err := s.PutDerivedJSON(m.Fingerprint, manifestKey, manifestName, m)
	return err
}
