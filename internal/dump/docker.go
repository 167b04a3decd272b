package dump

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"
	"github.com/stacksnap/rdsdump/internal/docker"
)

// ContainerRunner is the part of the Docker client the executor needs.
type ContainerRunner interface {
	Ping(ctx context.Context) error
	EnsureImage(ctx context.Context, ref string) error
	Run(ctx context.Context, opts docker.RunOptions, stdout, stderr io.Writer) (int, error)
}

// DockerExecutor runs mysqldump inside a throwaway client container and
// compresses its output in-process. Useful on hosts without a MySQL client.
type DockerExecutor struct {
	Runner      ContainerRunner
	Image       string
	NetworkMode string
	Logger      *log.Logger
}

func NewDockerExecutor(runner ContainerRunner, image string, logger *log.Logger) *DockerExecutor {
	return &DockerExecutor{
		Runner:      runner,
		Image:       image,
		NetworkMode: "host",
		Logger:      logger,
	}
}

func (e *DockerExecutor) Name() string { return "docker" }

func (e *DockerExecutor) Check(ctx context.Context) error {
	if err := e.Runner.Ping(ctx); err != nil {
		return fmt.Errorf("cannot connect to Docker: %w", err)
	}
	return nil
}

func (e *DockerExecutor) Run(ctx context.Context, target Target, outputPath string) (*Artifact, error) {
	if err := e.Runner.EnsureImage(ctx, e.Image); err != nil {
		return nil, &Error{Stage: "docker", Err: err}
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create dump file: %w", err)
	}
	defer out.Close()

	gzWriter, err := gzip.NewWriterLevel(out, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	if e.Logger != nil {
		e.Logger.Debug("Starting dump container", "image", e.Image, "host", target.Host, "database", target.Database)
	}

	var stderr bytes.Buffer
	exitCode, err := e.Runner.Run(ctx, docker.RunOptions{
		Image:       e.Image,
		Cmd:         append([]string{"mysqldump"}, MySQLDumpArgs(target)...),
		Env:         []string{PasswordEnv + "=" + target.Password},
		NetworkMode: e.NetworkMode,
	}, gzWriter, &stderr)
	if err != nil {
		gzWriter.Close()
		return nil, &Error{Stage: "mysqldump", Err: err, Stderr: stderr.String()}
	}

	if err := gzWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize dump file: %w", err)
	}

	if exitCode != 0 || strings.TrimSpace(stderr.String()) != "" {
		return nil, &Error{Stage: "mysqldump", ExitCode: exitCode, Stderr: stderr.String()}
	}

	if err := out.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync dump file: %w", err)
	}
	return statArtifact(outputPath)
}
