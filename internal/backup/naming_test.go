package backup

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNaming(t *testing.T) {
	ts := Timestamp(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	assert.Equal(t, "2024-01-02-03-04-05-UTC", ts)
	assert.Equal(t, "s3-dump-snap-2024-01-02-03-04-05-UTC", SnapshotID(ts))
	assert.Equal(t, "db1-s3-dump-server", RestoredInstanceID("db1"))
	assert.Equal(t, "db1-mysqldump-2024-01-02-03-04-05-UTC.sql.gz", ArtifactName("db1", ts))
	assert.Equal(t, "db_dumps/db1-mysqldump-2024-01-02-03-04-05-UTC.sql.gz", ObjectKey("db_dumps", ArtifactName("db1", ts)))
	assert.Equal(t, "db_dumps/db1-mysqldump-", PrunePrefix("db_dumps", "db1"))
	assert.Equal(t, "db_dumps/db1-mysqldump-", PrunePrefix("db_dumps/", "db1"))
}

func TestTimestampIsUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	ts := Timestamp(time.Date(2024, 1, 2, 12, 4, 5, 0, tokyo))

	assert.Equal(t, "2024-01-02-03-04-05-UTC", ts)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{NewError(KindConfiguration, "validate", "", errors.New("x")), 2},
		{NewError(KindCloudProvisioning, "snapshot", "s", errors.New("x")), 3},
		{NewError(KindDump, "dump", "", errors.New("x")), 4},
		{fmt.Errorf("wrapped: %w", NewError(KindUpload, "upload", "k", errors.New("x"))), 5},
		{NewError(KindCleanup, "cleanup", "", errors.New("x")), 1},
		{errors.New("plain"), 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), fmt.Sprint(tt.err))
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewError(KindUpload, "upload", "db_dumps/x.sql.gz", errors.New("timeout")).
		WithSuggestion("Check bucket permissions")

	assert.Contains(t, err.Error(), "[upload] UploadError db_dumps/x.sql.gz: timeout")
	assert.Contains(t, err.Error(), "Suggestion: Check bucket permissions")
	assert.Equal(t, KindUpload, KindOf(err))
}
