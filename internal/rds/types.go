package rds

import "strings"

type Status string

const (
	StatusCreating  Status = "creating"
	StatusAvailable Status = "available"
	StatusDeleting  Status = "deleting"
	StatusDeleted   Status = "deleted"
	StatusError     Status = "error"
)

// Stable reports whether a resource in this status can be deleted.
func (s Status) Stable() bool {
	return s == StatusAvailable || s == StatusError || s == StatusDeleted
}

type Snapshot struct {
	ID     string
	Status Status
}

type Instance struct {
	ID     string
	Status Status
	Host   string
	Port   int32
}

var failedStatuses = map[string]bool{
	"failed":                              true,
	"error":                               true,
	"incompatible-restore":                true,
	"incompatible-parameters":             true,
	"incompatible-network":                true,
	"incompatible-option-group":           true,
	"inaccessible-encryption-credentials": true,
	"restore-error":                       true,
	"storage-full":                        true,
}

// ParseStatus folds the many RDS lifecycle strings into the states the
// backup workflow cares about. Anything transitional counts as creating.
func ParseStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "available":
		return StatusAvailable
	case s == "deleting":
		return StatusDeleting
	case s == "deleted":
		return StatusDeleted
	case failedStatuses[s]:
		return StatusError
	default:
		return StatusCreating
	}
}
