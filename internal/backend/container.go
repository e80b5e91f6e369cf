package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const containerLabelSession = "clauderon.session_id"

// Container runs each sandbox as a Docker (or Docker-API-compatible)
// container. The workspace is bind-mounted from the session's Git
// worktree, so data always survives a recreate; the proxy port and CA
// trust are passed to the agent process via environment variables.
type Container struct {
	cli *client.Client
}

// NewContainer dials the Docker daemon using the standard
// DOCKER_HOST/DOCKER_CERT_PATH environment, matching `docker` CLI
// behavior.
func NewContainer() (*Container, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Container{cli: cli}, nil
}

func (c *Container) Create(ctx context.Context, name, workdir, initialPrompt string, opts CreateOptions) (string, error) {
	imageRef := opts.ContainerImage
	if imageRef == "" {
		return "", fmt.Errorf("container backend requires a container image")
	}
	if err := c.ensureImage(ctx, imageRef, opts.PullPolicy); err != nil {
		return "", err
	}

	env := []string{
		"TERM=xterm-256color",
		fmt.Sprintf("CLAUDERON_SESSION_ID=%s", opts.SessionID),
	}
	if opts.SessionProxyPort != 0 {
		env = append(env,
			fmt.Sprintf("HTTPS_PROXY=http://127.0.0.1:%d", opts.SessionProxyPort),
			fmt.Sprintf("HTTP_PROXY=http://127.0.0.1:%d", opts.SessionProxyPort),
			"SSL_CERT_FILE=/etc/clauderon/proxy-ca.pem",
		)
	}

	cfg := &container.Config{
		Image: imageRef,
		Cmd:   agentArgv(opts.Agent, opts.Model, opts.PrintMode, opts.PlanMode, initialPrompt),
		Env:   env,
		Labels: map[string]string{
			containerLabelSession: opts.SessionID,
			"clauderon":           "true",
		},
		User:       "1000:1000",
		WorkingDir: "/workspace",
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: workdir,
				Target: "/workspace",
			},
		},
		PortBindings: nat.PortMap{},
	}
	if opts.ContainerResources != nil {
		hostCfg.Resources = container.Resources{
			NanoCPUs: opts.ContainerResources.CPUMillis * 1_000_000,
			Memory:   opts.ContainerResources.MemoryMB * 1024 * 1024,
		}
	}
	if opts.HTTPPort != 0 {
		port, err := nat.NewPort("tcp", strconv.Itoa(opts.HTTPPort))
		if err != nil {
			return "", fmt.Errorf("invalid http port %d: %w", opts.HTTPPort, err)
		}
		cfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings[port] = []nat.PortBinding{{HostIP: "127.0.0.1"}}
	}

	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(name, opts.SessionID))
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	return resp.ID, nil
}

// ensureImage applies the normalized pull policy before create: Never
// trusts the image is already local, Always re-pulls unconditionally,
// and IfNotPresent (the default for an unspecified policy) only pulls
// when the image isn't already cached.
func (c *Container) ensureImage(ctx context.Context, ref string, policy ImagePullPolicy) error {
	switch policy {
	case PullNever:
		return nil
	case PullAlways:
		return c.pullImage(ctx, ref)
	default:
		_, _, err := c.cli.ImageInspectWithRaw(ctx, ref)
		if err == nil {
			return nil
		}
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("inspect image %s: %w", ref, err)
		}
		return c.pullImage(ctx, ref)
	}
}

func (c *Container) pullImage(ctx context.Context, ref string) error {
	rc, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

func containerName(sessionName, sessionID string) string {
	return fmt.Sprintf("clauderon-%s-%s", sessionName, sessionID)
}

func (c *Container) Exists(ctx context.Context, id string) (bool, error) {
	_, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %s: %w", id, err)
	}
	return true, nil
}

func (c *Container) Delete(ctx context.Context, id string) error {
	err := c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}

func (c *Container) AttachCommand(_ context.Context, id string) ([]string, error) {
	return []string{"docker", "attach", id}, nil
}

func (c *Container) GetOutput(ctx context.Context, id string, lines int) (string, error) {
	rc, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines),
	})
	if err != nil {
		return "", fmt.Errorf("container logs %s: %w", id, err)
	}
	defer rc.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return sb.String(), fmt.Errorf("read container logs %s: %w", id, err)
	}
	return sb.String(), nil
}

func (c *Container) CheckHealth(ctx context.Context, id string) (Health, error) {
	info, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Health{State: HealthNotFound}, nil
		}
		return Health{}, fmt.Errorf("inspect container %s: %w", id, err)
	}
	if info.State == nil {
		return Health{State: HealthNotFound}, nil
	}

	switch {
	case info.State.Running:
		return Health{State: HealthRunning}, nil
	case info.State.Paused:
		return Health{State: HealthHibernated}, nil
	case info.State.Restarting:
		return Health{State: HealthCrashLoop}, nil
	case info.State.ExitCode != 0:
		return Health{State: HealthError, Message: fmt.Sprintf("exited with code %d: %s", info.State.ExitCode, info.State.Error)}, nil
	default:
		return Health{State: HealthStopped}, nil
	}
}

func (c *Container) Capabilities() Capabilities {
	return Capabilities{
		CanRecreate:                 true,
		CanUpdateImage:              true,
		PreservesDataOnRecreate:     true,
		CanStart:                    true,
		CanWake:                     false,
		DataPreservationDescription: "the workspace is bind-mounted from the host worktree; recreating the container leaves it untouched",
	}
}

func (c *Container) IsRemote() bool { return false }
