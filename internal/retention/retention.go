// Package retention keeps the newest N dumps of one source instance and
// deletes the rest.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stacksnap/rdsdump/internal/storage"
)

// Deleter removes a single object.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Plan returns the objects under prefix that fall outside the newest keep,
// oldest first. Ties on LastModified are broken by key so the result does
// not depend on listing order. keep <= 0 disables pruning.
func Plan(objects []storage.BackupItem, prefix string, keep int) []storage.BackupItem {
	if keep <= 0 {
		return nil
	}

	var candidates []storage.BackupItem
	for _, obj := range objects {
		if strings.HasPrefix(obj.Key, prefix) {
			candidates = append(candidates, obj)
		}
	}
	if len(candidates) <= keep {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.Before(b.LastModified)
		}
		return a.Key < b.Key
	})

	return candidates[:len(candidates)-keep]
}

// Prune deletes the objects Plan selects. A failed deletion does not stop
// the others; the keys that were removed are returned together with every
// failure.
func Prune(ctx context.Context, d Deleter, objects []storage.BackupItem, prefix string, keep int) ([]string, error) {
	var (
		deleted []string
		errs    []error
	)

	for _, obj := range Plan(objects, prefix, keep) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := d.Delete(ctx, obj.Key); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", obj.Key, err))
			continue
		}
		deleted = append(deleted, obj.Key)
	}

	return deleted, errors.Join(errs...)
}
