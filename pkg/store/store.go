// Package store implements the content-addressed artifact store backing the
// conversion pipeline.
//
// The store holds two classes of files under one root:
//
//	sources/<fp[:2]>/<fp>                  uploaded documents, keyed by the
//	                                       SHA-256 of their bytes
//	artifacts/<fp[:2]>/<fp>/<stage>/<name> stage outputs, keyed by the source
//	                                       fingerprint plus stage identity
//
// All writes land in a staging directory first and are renamed into their
// final path, so a concurrent reader never observes a partially written
// file. Concurrent writers of the same path are reconciled with a lock
// file: the second writer either reuses the first writer's completed output
// or waits for it to appear. Entries are append-only; identical inputs
// always resolve to identical paths, which is what makes cache reuse safe
// without any caller-side locking.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Kind identifies a top-level storage class.
type Kind string

const (
	// KindSource holds uploaded documents, content-addressed.
	KindSource Kind = "source"
)

const (
	sourcesDir   = "sources"
	artifactsDir = "artifacts"
	stagingDir   = "staging"

	// lockWait is how long a writer waits for a competing writer's lock
	// to resolve before giving up.
	lockWait = 30 * time.Second

	lockPoll = 50 * time.Millisecond
)

// Fingerprint returns the hex-encoded SHA-256 of b.
func Fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FingerprintReader consumes r and returns its hex-encoded SHA-256.
func FingerprintReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Store is a content-addressed filesystem artifact store.
//
// Store is safe for concurrent use.
type Store struct {
	root string
}

// Open initializes a store rooted at dir, creating the layout if needed.
func Open(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, &StoreError{Op: "Open", Err: fmt.Errorf("store root is required")}
	}
	dir = filepath.Clean(dir)
	for _, sub := range []string{sourcesDir, artifactsDir, stagingDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, &StoreError{Op: "Open", Path: sub, Err: err}
		}
	}
	return &Store{root: dir}, nil
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// SourcePath returns the absolute path for a source fingerprint.
func (s *Store) SourcePath(fp string) string {
	return filepath.Join(s.root, sourcesDir, shard(fp), fp)
}

// Put writes data under its content fingerprint and returns the
// fingerprint. A second Put with identical bytes is a no-op returning the
// same fingerprint.
func (s *Store) Put(data []byte, kind Kind) (string, error) {
	if kind != KindSource {
		return "", &StoreError{Op: "Put", Err: fmt.Errorf("unknown kind %q", kind)}
	}
	fp := Fingerprint(data)
	final := s.SourcePath(fp)
	if err := s.writeAtomic(final, data); err != nil {
		return "", &StoreError{Op: "Put", Path: s.rel(final), Err: err}
	}
	return fp, nil
}

// Get reads a stored source by fingerprint.
func (s *Store) Get(fp string, kind Kind) ([]byte, error) {
	if kind != KindSource {
		return nil, &StoreError{Op: "Get", Err: fmt.Errorf("unknown kind %q", kind)}
	}
	b, err := os.ReadFile(s.SourcePath(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &StoreError{Op: "Get", Path: fp, Err: ErrNotFound}
		}
		return nil, &StoreError{Op: "Get", Path: fp, Err: err}
	}
	return b, nil
}

// Exists reports whether a source with the given fingerprint is stored.
func (s *Store) Exists(fp string, kind Kind) bool {
	if kind != KindSource {
		return false
	}
	_, err := os.Stat(s.SourcePath(fp))
	return err == nil
}

// writeAtomic writes data to final via staging + rename, reconciling
// concurrent writers of the same path through a lock file.
//
// Content at a given path is byte-identical by construction, so when the
// path already exists the write is skipped entirely.
func (s *Store) writeAtomic(final string, data []byte) error {
	if _, err := os.Stat(final); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return err
	}

	release, err := s.acquireLock(final)
	if err != nil {
		return err
	}
	defer release()

	// A competing writer may have completed while we waited for the lock.
	if _, err := os.Stat(final); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, stagingDir), "put.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, final)
}

// acquireLock takes the write lock for final, waiting out a competing
// writer. The returned func releases the lock.
func (s *Store) acquireLock(final string) (func(), error) {
	lockPath := final + ".lock"
	deadline := time.Now().Add(lockWait)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		// Lock held: wait for the holder to finish (final appears) or to
		// release. A holder that dies leaves a stale lock; break it once
		// the wait budget is exhausted.
		if _, err := os.Stat(final); err == nil {
			return func() {}, nil
		}
		if time.Now().After(deadline) {
			if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
				return nil, ErrLockTimeout
			}
			continue
		}
		time.Sleep(lockPoll)
	}
}

// shard returns the two-character directory shard for a fingerprint.
func shard(fp string) string {
	if len(fp) < 2 {
		return "00"
	}
	return fp[:2]
}

func (s *Store) rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return rel
}
