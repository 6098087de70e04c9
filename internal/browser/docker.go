package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/go-resty/resty/v2"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/poll"
)

const browserPort = "3000/tcp"

// DockerLauncher runs each browser in its own browserless container and
// attaches to it over CDP.
type DockerLauncher struct {
	client  *client.Client
	runtime *Runtime
	image   string
	http    *resty.Client
	logger  *zap.Logger

	imageMu    sync.Mutex
	imageReady bool
}

func NewDockerLauncher(runtime *Runtime, imageName string, logger *zap.Logger) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerLauncher{
		client:  cli,
		runtime: runtime,
		image:   imageName,
		http:    resty.New().SetTimeout(2 * time.Second),
		logger:  logger.Named("docker"),
	}, nil
}

func (l *DockerLauncher) Launch(ctx context.Context, opts LaunchOptions) (Instance, error) {
	if err := l.ensureImageOnce(ctx); err != nil {
		return nil, err
	}

	containerConfig := &container.Config{
		Image: l.image,
		Labels: map[string]string{
			"username":   opts.Label,
			"managed-by": "rednote-publisher",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
			fmt.Sprintf("DEFAULT_HEADLESS=%t", opts.Headless),
		},
		ExposedPorts: nat.PortSet{
			browserPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			browserPort: []nat.PortBinding{
				{
					HostIP:   "0.0.0.0",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
	}

	resp, err := l.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := resp.ID

	cleanup := func() {
		if err := l.stopContainer(containerID); err != nil {
			l.logger.Warn("failed to remove container", zap.String("container_id", containerID), zap.Error(err))
		}
	}

	if err := l.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := l.client.ContainerInspect(ctx, containerID)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[browserPort]
	if len(bindings) == 0 {
		cleanup()
		return nil, fmt.Errorf("container %s exposes no browser port", containerID[:12])
	}
	port := bindings[0].HostPort

	if err := l.waitForBrowserReady(ctx, port); err != nil {
		cleanup()
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	pw, err := l.runtime.get()
	if err != nil {
		cleanup()
		return nil, err
	}
	b, err := pw.Chromium.ConnectOverCDP(fmt.Sprintf("ws://localhost:%s", port), playwright.BrowserTypeConnectOverCDPOptions{
		Timeout: playwright.Float(millis(30 * time.Second)),
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	inst, err := newInstance(b, opts, func() error { return l.stopContainer(containerID) })
	if err != nil {
		cleanup()
		return nil, err
	}

	l.logger.Info("browser container ready",
		zap.String("container_id", containerID[:12]),
		zap.String("port", port),
		zap.String("label", opts.Label),
	)
	return inst, nil
}

func (l *DockerLauncher) stopContainer(containerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	timeout := 10
	if err := l.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := l.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (l *DockerLauncher) ensureImageOnce(ctx context.Context) error {
	l.imageMu.Lock()
	defer l.imageMu.Unlock()

	if l.imageReady {
		return nil
	}
	if err := l.EnsureImage(ctx); err != nil {
		return err
	}
	l.imageReady = true
	return nil
}

// EnsureImage pulls the browser image unless it is already present.
func (l *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := l.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == l.image {
				return nil
			}
		}
	}

	l.logger.Info("pulling browser image", zap.String("image", l.image))
	reader, err := l.client.ImagePull(ctx, l.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (l *DockerLauncher) Close() error {
	rtErr := l.runtime.Stop()
	if err := l.client.Close(); err != nil {
		return err
	}
	return rtErr
}

// waitForBrowserReady polls the DevTools version endpoint until it answers.
func (l *DockerLauncher) waitForBrowserReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)

	return poll.Until(ctx, poll.Options{
		Name:     "browser container ready",
		Interval: 500 * time.Millisecond,
		Timeout:  10 * time.Second,
	}, func(ctx context.Context) (bool, string, error) {
		resp, err := l.http.R().SetContext(ctx).Get(url)
		if err != nil {
			return false, strings.TrimSpace(err.Error()), nil
		}
		if resp.StatusCode() != http.StatusOK {
			return false, resp.Status(), nil
		}
		return true, "", nil
	})
}

var _ Launcher = (*DockerLauncher)(nil)
var _ Launcher = (*PlaywrightLauncher)(nil)
var _ Instance = (*instance)(nil)
var _ Page = (*playwrightPage)(nil)
