package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stacksnap/rdsdump/internal/dump"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenExecutor struct{ dump.Executor }

func (brokenExecutor) Name() string { return "local" }

func (brokenExecutor) Check(context.Context) error {
	return errors.New("mysqldump not found on PATH")
}

func TestPreflight_OK(t *testing.T) {
	result := PreflightChecks(context.Background(), t.TempDir(), &fakeExecutor{})

	assert.True(t, result.CanProceed)
	assert.NoError(t, result.Err())
}

func TestPreflight_MissingDirectory(t *testing.T) {
	result := PreflightChecks(context.Background(), filepath.Join(t.TempDir(), "nope"), &fakeExecutor{})

	assert.False(t, result.CanProceed)
	require.Error(t, result.Err())
	assert.Contains(t, result.Err().Error(), "Dump directory not accessible")
}

func TestPreflight_FileInsteadOfDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	result := PreflightChecks(context.Background(), path, &fakeExecutor{})
	assert.False(t, result.CanProceed)
}

func TestPreflight_ExecutorUnusable(t *testing.T) {
	result := PreflightChecks(context.Background(), t.TempDir(), brokenExecutor{})

	assert.False(t, result.CanProceed)
	assert.Contains(t, result.Err().Error(), "local dump executor not usable")
}
