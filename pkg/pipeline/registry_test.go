package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/drawmill/pkg/stage"
)

func newJob(id, fp string) *Job {
	return &Job{
		ID:          id,
		Fingerprint: fp,
		Status:      JobPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestRegistryCreateAndGet(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, r.Create(newJob("job-1", "fp-1")))

	got, err := r.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "fp-1", got.Fingerprint)
	assert.Equal(t, JobPending, got.Status)

	_, err = r.Get("nope")
	assert.True(t, IsNotFound(err))

	// Duplicate ids are rejected.
	assert.Error(t, r.Create(newJob("job-1", "fp-1")))
}

func TestRegistrySnapshotsAreIsolated(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Create(newJob("job-1", "fp-1")))

	snap, err := r.Get("job-1")
	require.NoError(t, err)
	snap.Status = JobFailed
	snap.Stages = append(snap.Stages, StageRecord{Stage: "doc_to_pdf"})

	fresh, err := r.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, JobPending, fresh.Status)
	assert.Empty(t, fresh.Stages)
}

func TestRegistryUpdatePersists(t *testing.T) {
	root := t.TempDir()
	r, err := OpenRegistry(root)
	require.NoError(t, err)
	require.NoError(t, r.Create(newJob("job-1", "fp-1")))

	require.NoError(t, r.Update("job-1", func(j *Job) {
		j.Status = JobSucceeded
		j.Stages = append(j.Stages, StageRecord{Stage: "doc_to_pdf", Status: stage.StatusOK})
	}))

	// A fresh registry over the same root sees the persisted state.
	r2, err := OpenRegistry(root)
	require.NoError(t, err)
	got, err := r2.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, got.Status)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "doc_to_pdf", got.Stages[0].Stage)
}

func TestRegistryMarksInterruptedJobsFailed(t *testing.T) {
	root := t.TempDir()
	r, err := OpenRegistry(root)
	require.NoError(t, err)

	job := newJob("job-1", "fp-1")
	job.Status = JobRunning
	job.CurrentStage = "pdf_to_image"
	require.NoError(t, r.Create(job))

	// Simulate a process restart.
	r2, err := OpenRegistry(root)
	require.NoError(t, err)
	got, err := r2.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Contains(t, got.FailureDetail, "restarted")
}

func TestRegistryListOrder(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	require.NoError(t, err)

	older := newJob("job-old", "fp-1")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, r.Create(older))
	require.NoError(t, r.Create(newJob("job-new", "fp-2")))

	jobs := r.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-new", jobs[0].ID)
	assert.Equal(t, "job-old", jobs[1].ID)
}

func TestRegistryRemove(t *testing.T) {
	root := t.TempDir()
	r, err := OpenRegistry(root)
	require.NoError(t, err)
	require.NoError(t, r.Create(newJob("job-1", "fp-1")))

	r.Remove("job-1")
	_, err = r.Get("job-1")
	assert.True(t, IsNotFound(err))
	_, statErr := os.Stat(filepath.Join(root, "job-1"))
	assert.True(t, os.IsNotExist(statErr))
}
