package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

type Client struct {
	cli *client.Client
}

func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

// EnsureImage pulls ref unless it is already present locally.
func (c *Client) EnsureImage(ctx context.Context, ref string) error {
	if _, _, err := c.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	reader, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// RunOptions describe a one-shot container. Cmd is passed as an argument
// vector; no shell is started inside the container.
type RunOptions struct {
	Image       string
	Cmd         []string
	Env         []string
	NetworkMode string
}

func containerConfig(opts RunOptions) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:        opts.Image,
		Cmd:          opts.Cmd,
		Env:          opts.Env,
		AttachStdout: true,
		AttachStderr: true,
	}
	hostCfg := &container.HostConfig{}
	if opts.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(opts.NetworkMode)
	}
	return cfg, hostCfg
}

// Run starts a container, streams its stdout and stderr into the given
// writers and returns its exit code. The container is always removed.
func (c *Client) Run(ctx context.Context, opts RunOptions, stdout, stderr io.Writer) (int, error) {
	cfg, hostCfg := containerConfig(opts)

	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return 0, fmt.Errorf("failed to create container: %w", err)
	}
	defer c.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})

	attachResp, err := c.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to attach to container: %w", err)
	}
	defer attachResp.Close()

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return 0, fmt.Errorf("failed to start container: %w", err)
	}

	if _, err := stdcopy.StdCopy(stdout, stderr, attachResp.Reader); err != nil {
		return 0, fmt.Errorf("failed to read container output: %w", err)
	}

	statusCh, errCh := c.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, fmt.Errorf("error waiting for container: %w", err)
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}
