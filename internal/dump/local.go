package dump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
)

// LocalExecutor runs mysqldump and the compressor as two host processes
// joined by a pipe. No shell is involved.
type LocalExecutor struct {
	DumpBinary     string
	CompressBinary string
	CompressArgs   []string
	Logger         *log.Logger
}

// NewLocalExecutor compresses with pigz when it is installed and falls back
// to gzip. Both accept the same flags and produce the same format.
func NewLocalExecutor(logger *log.Logger) *LocalExecutor {
	return &LocalExecutor{
		DumpBinary:     "mysqldump",
		CompressBinary: compressor(),
		CompressArgs:   []string{"--fast", "-c"},
		Logger:         logger,
	}
}

func compressor() string {
	if _, err := exec.LookPath("pigz"); err == nil {
		return "pigz"
	}
	return "gzip"
}

func (e *LocalExecutor) Name() string { return "local" }

func (e *LocalExecutor) Check(ctx context.Context) error {
	for _, bin := range []string{e.DumpBinary, e.CompressBinary} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found on PATH: %w", bin, err)
		}
	}
	return nil
}

func (e *LocalExecutor) Run(ctx context.Context, target Target, outputPath string) (*Artifact, error) {
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create dump file: %w", err)
	}
	defer out.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}

	var dumpStderr, compressStderr bytes.Buffer

	dumpCmd := exec.CommandContext(ctx, e.DumpBinary, MySQLDumpArgs(target)...)
	dumpCmd.Env = append(os.Environ(), PasswordEnv+"="+target.Password)
	dumpCmd.Stdout = pw
	dumpCmd.Stderr = &dumpStderr

	compressCmd := exec.CommandContext(ctx, e.CompressBinary, e.CompressArgs...)
	compressCmd.Stdin = pr
	compressCmd.Stdout = out
	compressCmd.Stderr = &compressStderr

	if e.Logger != nil {
		e.Logger.Debug("Starting dump pipeline", "dump", e.DumpBinary, "compress", e.CompressBinary,
			"host", target.Host, "database", target.Database)
	}

	if err := compressCmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, &Error{Stage: e.CompressBinary, Err: err}
	}
	if err := dumpCmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		_ = compressCmd.Wait()
		return nil, &Error{Stage: e.DumpBinary, Err: err}
	}

	// Both children hold their own copies of the pipe ends.
	pw.Close()
	pr.Close()

	dumpErr := dumpCmd.Wait()
	compressErr := compressCmd.Wait()

	if err := stageError(e.DumpBinary, dumpErr, dumpStderr.String()); err != nil {
		return nil, err
	}
	if err := stageError(e.CompressBinary, compressErr, compressStderr.String()); err != nil {
		return nil, err
	}

	if err := out.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync dump file: %w", err)
	}
	return statArtifact(outputPath)
}

func stageError(stage string, waitErr error, stderr string) error {
	if waitErr == nil && strings.TrimSpace(stderr) == "" {
		return nil
	}

	dErr := &Error{Stage: stage, Stderr: stderr}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		dErr.ExitCode = exitErr.ExitCode()
	} else if waitErr != nil {
		dErr.Err = waitErr
	}
	return dErr
}
