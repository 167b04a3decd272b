package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/stacksnap/rdsdump/internal/dump"
)

// MinFreeSpace is the free space below which preflight warns about the
// dump directory.
const MinFreeSpace = 1 << 30

type PreflightWarning struct {
	Severity string
	Message  string
	Fix      string
}

type PreflightResult struct {
	Warnings   []PreflightWarning
	CanProceed bool
}

// Err folds the error-severity warnings into one error, or returns nil.
func (r *PreflightResult) Err() error {
	var msgs []string
	for _, w := range r.Warnings {
		if w.Severity == "error" {
			msgs = append(msgs, w.Message)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(msgs, "; "))
}

// PreflightChecks verifies the local side of a run before any cloud
// resource is created.
func PreflightChecks(ctx context.Context, dumpDir string, executor dump.Executor) *PreflightResult {
	result := &PreflightResult{
		Warnings:   []PreflightWarning{},
		CanProceed: true,
	}

	info, err := os.Stat(dumpDir)
	switch {
	case err != nil:
		result.Warnings = append(result.Warnings, PreflightWarning{
			Severity: "error",
			Message:  "Dump directory not accessible: " + err.Error(),
			Fix:      "Create the directory or point dump_directory somewhere else",
		})
		result.CanProceed = false
	case !info.IsDir():
		result.Warnings = append(result.Warnings, PreflightWarning{
			Severity: "error",
			Message:  "Dump directory is not a directory: " + dumpDir,
			Fix:      "Verify the dump_directory path is correct",
		})
		result.CanProceed = false
	default:
		if err := checkWritable(dumpDir); err != nil {
			result.Warnings = append(result.Warnings, PreflightWarning{
				Severity: "error",
				Message:  "Dump directory is not writable: " + err.Error(),
				Fix:      "Run as a user that can write to dump_directory",
			})
			result.CanProceed = false
		}
	}

	var stat syscall.Statfs_t
	if result.CanProceed && syscall.Statfs(dumpDir, &stat) == nil {
		available := stat.Bavail * uint64(stat.Bsize)
		if available < MinFreeSpace {
			result.Warnings = append(result.Warnings, PreflightWarning{
				Severity: "warning",
				Message:  fmt.Sprintf("Low disk space in %s: %s available", dumpDir, humanize.IBytes(available)),
				Fix:      "Free up disk space or use a larger dump_directory",
			})
		}
	}

	if executor != nil {
		if err := executor.Check(ctx); err != nil {
			result.Warnings = append(result.Warnings, PreflightWarning{
				Severity: "error",
				Message:  fmt.Sprintf("%s dump executor not usable: %v", executor.Name(), err),
				Fix:      "Install the MySQL client tools or switch dump_executor",
			})
			result.CanProceed = false
		}
	}

	return result
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".rdsdump-preflight-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
