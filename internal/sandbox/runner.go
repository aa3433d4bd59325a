package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	goarchive "github.com/moby/go-archive"
	"swarmd/internal/config"
)

// Runner executes sandbox task payloads in throwaway containers. Each
// execution gets a fresh container with the task's files copied in; the
// container is removed when the run finishes, succeeds or not.
type Runner struct {
	docker *client.Client
	cfg    config.SandboxConfig
}

type Result struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

func NewRunner(cfg config.SandboxConfig) (*Runner, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Runner{docker: docker, cfg: cfg}, nil
}

// Run executes command in a container with files staged under /work. The
// configured timeout is a hard deadline: on expiry the container is killed
// and the run reports failure.
func (r *Runner) Run(ctx context.Context, image string, command []string, files map[string]string) (*Result, error) {
	if image == "" {
		image = r.cfg.Image
	}
	if len(command) == 0 {
		return nil, fmt.Errorf("sandbox command is empty")
	}

	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.ensureImage(ctx, image); err != nil {
		return nil, fmt.Errorf("pull image: %w", err)
	}

	containerName := fmt.Sprintf("swarmd-sandbox-%d", time.Now().UnixNano())
	resp, err := r.docker.ContainerCreate(ctx,
		&dockercontainer.Config{
			Image:      image,
			Cmd:        command,
			WorkingDir: "/work",
			Labels:     map[string]string{"swarmd.managed": "true"},
		},
		&dockercontainer.HostConfig{
			NetworkMode: "none",
			AutoRemove:  false,
		},
		nil, nil, containerName,
	)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		_ = r.docker.ContainerRemove(context.Background(), resp.ID, dockercontainer.RemoveOptions{Force: true})
	}()

	if len(files) > 0 {
		if err := r.stageFiles(ctx, resp.ID, files); err != nil {
			return nil, err
		}
	}

	if err := r.docker.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	statusCh, errCh := r.docker.ContainerWait(ctx, resp.ID, dockercontainer.WaitConditionNotRunning)
	var exitCode int
	select {
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case err := <-errCh:
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		killTimeout := 0
		_ = r.docker.ContainerStop(context.Background(), resp.ID, dockercontainer.StopOptions{Timeout: &killTimeout})
		return nil, fmt.Errorf("sandbox execution timed out after %s", timeout)
	}

	output, err := r.collectLogs(ctx, resp.ID)
	if err != nil {
		slog.Warn("failed to collect sandbox logs", "container", resp.ID[:12], "error", err)
	}

	return &Result{ExitCode: exitCode, Output: output}, nil
}

// stageFiles writes the task's files to a temp dir and copies them into the
// container as a tar stream.
func (r *Runner) stageFiles(ctx context.Context, containerID string, files map[string]string) error {
	dir, err := os.MkdirTemp("", "swarmd-sandbox-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(dir)

	for name, content := range files {
		dst := filepath.Join(dir, filepath.Clean(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("create staging subdir: %w", err)
		}
		if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write staged file %s: %w", name, err)
		}
	}

	tarStream, err := goarchive.TarWithOptions(dir, &goarchive.TarOptions{})
	if err != nil {
		return fmt.Errorf("tar staging dir: %w", err)
	}
	defer tarStream.Close()

	if err := r.docker.CopyToContainer(ctx, containerID, "/work", tarStream, dockercontainer.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy files to container: %w", err)
	}
	return nil
}

func (r *Runner) collectLogs(ctx context.Context, containerID string) (string, error) {
	logs, err := r.docker.ContainerLogs(ctx, containerID, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", err
	}
	defer logs.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, logs); err != nil {
		return buf.String(), err
	}
	return buf.String(), nil
}

func (r *Runner) ensureImage(ctx context.Context, image string) error {
	_, err := r.docker.ImageInspect(ctx, image)
	if err == nil {
		return nil // already present
	}

	slog.Info("pulling sandbox image", "image", image)
	reader, err := r.docker.ImagePull(ctx, image, dockerimage.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (r *Runner) Close() error {
	return r.docker.Close()
}
