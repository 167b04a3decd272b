package backup

import (
	"path"
	"time"
)

// TimestampLayout renders run timestamps. Times are always formatted in UTC
// so the zone suffix is stable across hosts.
const TimestampLayout = "2006-01-02-15-04-05-MST"

func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func SnapshotID(ts string) string {
	return "s3-dump-snap-" + ts
}

// RestoredInstanceID is deterministic, so two concurrent runs against the
// same source collide on it.
func RestoredInstanceID(sourceID string) string {
	return sourceID + "-s3-dump-server"
}

func ArtifactName(sourceID, ts string) string {
	return sourceID + "-mysqldump-" + ts + ".sql.gz"
}

func ObjectKey(prefix, name string) string {
	return path.Join(prefix, name)
}

// PrunePrefix is the key prefix shared by every dump of sourceID.
func PrunePrefix(prefix, sourceID string) string {
	return path.Join(prefix, sourceID+"-mysqldump-")
}
