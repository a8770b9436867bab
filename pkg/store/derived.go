package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// StageKey identifies a pipeline stage for derived-artifact addressing.
//
// The version participates in every derived path, so bumping a stage's
// logic invalidates its cache entries without touching older outputs.
type StageKey struct {
	Name    string
	Version int
}

func (k StageKey) String() string {
	return fmt.Sprintf("%s@v%d", k.Name, k.Version)
}

// ParseStageKey parses the "name@vN" form produced by String.
func ParseStageKey(s string) (StageKey, error) {
	at := strings.LastIndex(s, "@v")
	if at <= 0 {
		return StageKey{}, fmt.Errorf("invalid stage key %q", s)
	}
	version, err := strconv.Atoi(s[at+2:])
	if err != nil || version < 1 {
		return StageKey{}, fmt.Errorf("invalid stage key %q", s)
	}
	return StageKey{Name: s[:at], Version: version}, nil
}

// ArtifactDir returns the directory holding every stage's outputs for the
// given source fingerprint.
func (s *Store) ArtifactDir(fp string) string {
	return filepath.Join(s.root, artifactsDir, shard(fp), fp)
}

// DerivedDir returns the directory holding a stage's outputs for the given
// source fingerprint.
func (s *Store) DerivedDir(fp string, key StageKey) string {
	return filepath.Join(s.ArtifactDir(fp), key.String())
}

// DerivedPath returns the deterministic path of one named stage output.
// Identical (fingerprint, stage, name) triples always resolve to the same
// path; that is the cache contract.
func (s *Store) DerivedPath(fp string, key StageKey, name string) string {
	return filepath.Join(s.DerivedDir(fp, key), name)
}

// PutDerived writes a stage output from an in-memory buffer and returns
// its path. Idempotent for identical keys.
func (s *Store) PutDerived(fp string, key StageKey, name string, data []byte) (string, error) {
	final := s.DerivedPath(fp, key, name)
	if err := s.writeAtomic(final, data); err != nil {
		return "", &StoreError{Op: "PutDerived", Path: s.rel(final), Err: err}
	}
	return final, nil
}

// PromoteDerived moves a file produced in a scratch directory into the
// store. The source file is consumed on success.
//
// Promotion copies through staging rather than renaming the original
// directly, since scratch directories may live on another filesystem.
func (s *Store) PromoteDerived(fp string, key StageKey, name, srcPath string) (string, error) {
	final := s.DerivedPath(fp, key, name)
	if _, err := os.Stat(final); err == nil {
		_ = os.Remove(srcPath)
		return final, nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", &StoreError{Op: "PromoteDerived", Path: s.rel(final), Err: err}
	}
	data, err := io.ReadAll(src)
	_ = src.Close()
	if err != nil {
		return "", &StoreError{Op: "PromoteDerived", Path: s.rel(final), Err: err}
	}
	if err := s.writeAtomic(final, data); err != nil {
		return "", &StoreError{Op: "PromoteDerived", Path: s.rel(final), Err: err}
	}
	_ = os.Remove(srcPath)
	return final, nil
}

// ExistsDerived reports whether a named stage output is stored.
func (s *Store) ExistsDerived(fp string, key StageKey, name string) bool {
	_, err := os.Stat(s.DerivedPath(fp, key, name))
	return err == nil
}

// ReadDerived reads a named stage output.
func (s *Store) ReadDerived(fp string, key StageKey, name string) ([]byte, error) {
	b, err := os.ReadFile(s.DerivedPath(fp, key, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &StoreError{Op: "ReadDerived", Path: s.rel(s.DerivedPath(fp, key, name)), Err: ErrNotFound}
		}
		return nil, &StoreError{Op: "ReadDerived", Path: s.rel(s.DerivedPath(fp, key, name)), Err: err}
	}
	return b, nil
}

// ListDerived returns the sorted names of a stage's stored outputs.
// Lock files and staging leftovers are never reported.
func (s *Store) ListDerived(fp string, key StageKey) ([]string, error) {
	entries, err := os.ReadDir(s.DerivedDir(fp, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StoreError{Op: "ListDerived", Path: s.rel(s.DerivedDir(fp, key)), Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// PutDerivedJSON marshals v and stores it as a named stage output.
func (s *Store) PutDerivedJSON(fp string, key StageKey, name string, v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", &StoreError{Op: "PutDerivedJSON", Path: name, Err: err}
	}
	b = append(b, '\n')
	return s.PutDerived(fp, key, name, b)
}

// ReadDerivedJSON reads a named stage output into v.
func (s *Store) ReadDerivedJSON(fp string, key StageKey, name string, v any) error {
	b, err := s.ReadDerived(fp, key, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return &StoreError{Op: "ReadDerivedJSON", Path: name, Err: err}
	}
	return nil
}
