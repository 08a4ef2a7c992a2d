// Package docker builds, pushes, pulls and runs package images through the docker daemon.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// APIClient defines the subset of Docker API methods we use.
// This allows for mocking in tests.
type APIClient interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Credentials authenticate against the image registry. Empty credentials send no auth header.
type Credentials struct {
	Host     string
	Username string
	Password string
}

// Client wraps the official Docker client to provide high-level build and run operations.
type Client struct {
	api         APIClient
	credentials Credentials
}

// NewClient creates a client for the daemon configured in the environment (DOCKER_HOST etc).
func NewClient(credentials Credentials) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return NewClientWithAPI(cli, credentials), nil
}

// NewClientWithAPI creates a client on top of api.
func NewClientWithAPI(api APIClient, credentials Credentials) *Client {
	return &Client{api: api, credentials: credentials}
}

// Close closes the underlying docker client connection.
func (c *Client) Close() error {
	return c.api.Close()
}

func (c *Client) registryAuth() (string, error) {
	if c.credentials.Username == "" {
		return "", nil
	}

	return registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      c.credentials.Username,
		Password:      c.credentials.Password,
		ServerAddress: c.credentials.Host,
	})
}

// readMessages collects the stream of a build, push or pull response.
// The returned error is the first error message reported by the daemon.
func readMessages(reader io.Reader) (string, error) {
	var output strings.Builder
	decoder := json.NewDecoder(reader)
	for {
		var msg jsonmessage.JSONMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return output.String(), fmt.Errorf("failed to decode daemon output: %w", err)
		}

		if msg.Error != nil {
			output.WriteString(msg.Error.Message)
			output.WriteString("\n")
			return output.String(), errors.New(msg.Error.Message)
		}
		if msg.Stream != "" {
			output.WriteString(msg.Stream)
		} else if msg.Status != "" && msg.Progress == nil {
			output.WriteString(msg.Status)
			output.WriteString("\n")
		}
	}

	return output.String(), nil
}

// BuildImage builds the tar stream buildContext, tags the image with tag, and returns the build output.
// Parent images are always pulled and intermediate containers always removed.
func (c *Client) BuildImage(ctx context.Context, buildContext io.Reader, tag string) (string, error) {
	if buildContext == nil {
		return "", fmt.Errorf("build context is required")
	}
	if tag == "" {
		return "", fmt.Errorf("image tag is required")
	}

	auth, err := c.registryAuth()
	if err != nil {
		return "", err
	}
	buildOptions := types.ImageBuildOptions{
		Dockerfile:  "Dockerfile",
		Tags:        []string{tag},
		PullParent:  true,
		Remove:      true,
		ForceRemove: true,
	}
	if auth != "" {
		buildOptions.AuthConfigs = map[string]registry.AuthConfig{
			c.credentials.Host: {
				Username:      c.credentials.Username,
				Password:      c.credentials.Password,
				ServerAddress: c.credentials.Host,
			},
		}
	}

	resp, err := c.api.ImageBuild(ctx, buildContext, buildOptions)
	if err != nil {
		return "", fmt.Errorf("failed to start image build: %w", err)
	}
	defer resp.Body.Close()

	output, err := readMessages(resp.Body)
	if err != nil {
		return output, fmt.Errorf("build failed: %w", err)
	}

	return output, nil
}

// PushImage pushes tag and returns the push output.
func (c *Client) PushImage(ctx context.Context, tag string) (string, error) {
	auth, err := c.registryAuth()
	if err != nil {
		return "", err
	}

	reader, err := c.api.ImagePush(ctx, tag, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return "", fmt.Errorf("failed to push image %s: %w", tag, err)
	}
	defer reader.Close()

	output, err := readMessages(reader)
	if err != nil {
		return output, fmt.Errorf("push failed: %w", err)
	}

	return output, nil
}

// PullImage pulls imageRef, failing on any error reported by the daemon.
func (c *Client) PullImage(ctx context.Context, imageRef string) error {
	auth, err := c.registryAuth()
	if err != nil {
		return err
	}

	reader, err := c.api.ImagePull(ctx, imageRef, image.PullOptions{RegistryAuth: auth})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	defer reader.Close()

	if _, err := readMessages(reader); err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	return nil
}

// RunOptions describes a container run to completion.
type RunOptions struct {
	Image string
	Cmd   []string
	Env   []string
}

// RunResult is the exit code and the combined stdout and stderr of a finished container.
type RunResult struct {
	ExitCode int64
	Output   string
}

// RunContainer creates and starts a container, waits for it to exit, and collects its output.
// The container is removed afterwards, also when ctx is cancelled.
func (c *Client) RunContainer(ctx context.Context, opts RunOptions) (*RunResult, error) {
	resp, err := c.api.ContainerCreate(ctx,
		&container.Config{
			Image: opts.Image,
			Cmd:   opts.Cmd,
			Env:   opts.Env,
		},
		&container.HostConfig{}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer c.api.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	if err := c.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	result := &RunResult{}
	statusCh, errCh := c.api.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("failed to wait for container: %w", err)
		}
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return nil, fmt.Errorf("container wait failed: %s", status.Error.Message)
		}
		result.ExitCode = status.StatusCode
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	logs, err := c.api.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, logs); err != nil {
		return nil, fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	result.Output = output.String()

	return result, nil
}
