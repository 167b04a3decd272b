// Package dump produces compressed logical MySQL dumps of a reachable
// database endpoint.
package dump

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Target is the database a dump is taken from.
type Target struct {
	Host     string
	Port     int32
	Username string
	Password string
	Database string
}

type Artifact struct {
	Path   string
	Size   int64
	Exists bool
}

// Executor runs the dump-then-compress pipeline. Check verifies the
// executor's tooling before any cloud resource exists.
type Executor interface {
	Name() string
	Check(ctx context.Context) error
	Run(ctx context.Context, target Target, outputPath string) (*Artifact, error)
}

// Error reports a failed pipeline: a nonzero exit of either stage or any
// output on stderr.
type Error struct {
	Stage    string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed", e.Stage)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += fmt.Sprintf(": %s", s)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PasswordEnv carries the password to mysqldump so it never shows up in
// the process list.
const PasswordEnv = "MYSQL_PWD"

// MySQLDumpArgs returns the mysqldump argument list for target, without the
// binary name and without the password.
func MySQLDumpArgs(target Target) []string {
	args := []string{
		"--opt",
		"--add-drop-table",
		"--single-transaction",
		"--order-by-primary",
		"-h", target.Host,
	}
	if target.Port != 0 {
		args = append(args, "-P", strconv.Itoa(int(target.Port)))
	}
	args = append(args, "-u", target.Username, target.Database)
	return args
}

func statArtifact(path string) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat dump file: %w", err)
	}
	return &Artifact{Path: path, Size: info.Size(), Exists: true}, nil
}
