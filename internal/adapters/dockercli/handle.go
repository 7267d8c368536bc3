// Package dockercli adapts a docker container to the orchestrator's
// ContainerHandle capability by shelling out to the docker CLI. It keeps the
// runtime dependency to the binary already required for provisioning the
// cluster.
package dockercli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"time"

	"github.com/faultline-io/faultline/internal/ports"
	"github.com/faultline-io/faultline/internal/xjson"
)

// Config locates the docker binary and the in-container artifacts the
// orchestrator reads.
type Config struct {
	// Binary is the docker CLI executable, "docker" by default.
	Binary string
	// Network is the docker network members detach from and reattach to.
	Network string
	// LogPaths maps each log channel to its in-container file path.
	LogPaths map[ports.LogChannel]string
}

func (c *Config) applyDefaults() {
	if c.Binary == "" {
		c.Binary = "docker"
	}
}

// Handle drives one container through the docker CLI. The handle reference
// is fixed for the member's lifetime; only the container state behind it
// changes.
type Handle struct {
	id     string
	cfg    Config
	logger *slog.Logger
}

func NewHandle(containerID string, cfg Config, logger *slog.Logger) *Handle {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		id:     containerID,
		cfg:    cfg,
		logger: logger.With("component", "dockercli", "container_id", containerID),
	}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, h.cfg.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", h.cfg.Binary, args[0], err, stderr.String())
	}
	return stdout.String(), nil
}

func (h *Handle) Start(ctx context.Context) error {
	_, err := h.run(ctx, "start", h.id)
	return err
}

func (h *Handle) Stop(ctx context.Context, timeout time.Duration) error {
	seconds := int(timeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	_, err := h.run(ctx, "stop", "--time", strconv.Itoa(seconds), h.id)
	return err
}

func (h *Handle) Kill(ctx context.Context) error {
	_, err := h.run(ctx, "kill", h.id)
	return err
}

func (h *Handle) Pause(ctx context.Context) error {
	_, err := h.run(ctx, "pause", h.id)
	return err
}

func (h *Handle) Unpause(ctx context.Context) error {
	_, err := h.run(ctx, "unpause", h.id)
	return err
}

func (h *Handle) DisconnectNetwork(ctx context.Context) error {
	_, err := h.run(ctx, "network", "disconnect", h.cfg.Network, h.id)
	return err
}

func (h *Handle) ReconnectNetwork(ctx context.Context) error {
	_, err := h.run(ctx, "network", "connect", h.cfg.Network, h.id)
	return err
}

type inspectInfo struct {
	State struct {
		Running bool `json:"Running"`
		Paused  bool `json:"Paused"`
	} `json:"State"`
	NetworkSettings struct {
		Ports map[string][]portBinding `json:"Ports"`
	} `json:"NetworkSettings"`
}

type portBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

func parseInspect(out []byte) (*inspectInfo, error) {
	var infos []inspectInfo
	if err := xjson.Unmarshal(out, &infos); err != nil {
		return nil, fmt.Errorf("decoding docker inspect output: %w", err)
	}
	if len(infos) == 0 {
		return nil, errors.New("docker inspect returned nothing")
	}
	return &infos[0], nil
}

func (info *inspectInfo) mappedAddress(port int) (string, error) {
	bindings := info.NetworkSettings.Ports[fmt.Sprintf("%d/tcp", port)]
	if len(bindings) == 0 {
		return "", fmt.Errorf("no host mapping for port %d", port)
	}
	host := bindings[0].HostIP
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, bindings[0].HostPort), nil
}

func (h *Handle) inspect(ctx context.Context) (*inspectInfo, error) {
	out, err := h.run(ctx, "inspect", h.id)
	if err != nil {
		return nil, err
	}
	info, err := parseInspect([]byte(out))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.id, err)
	}
	return info, nil
}

func (h *Handle) IsRunning(ctx context.Context) (bool, error) {
	info, err := h.inspect(ctx)
	if err != nil {
		return false, err
	}
	return info.State.Running, nil
}

func (h *Handle) Exec(ctx context.Context, cmd []string) (ports.ExecResult, error) {
	args := append([]string{"exec", h.id}, cmd...)
	command := exec.CommandContext(ctx, h.cfg.Binary, args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	result := ports.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("%s exec in %s: %w", h.cfg.Binary, h.id, err)
	}
	return result, nil
}

func (h *Handle) ReadLog(ctx context.Context, channel ports.LogChannel, offset int64) (string, error) {
	path, ok := h.cfg.LogPaths[channel]
	if !ok {
		return "", fmt.Errorf("no log path configured for channel %q", channel)
	}
	result, err := h.Exec(ctx, []string{"cat", path})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("reading %s from %s: exit code %d: %s", path, h.id, result.ExitCode, result.Stderr)
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(result.Stdout)) {
		return "", nil
	}
	return result.Stdout[offset:], nil
}

func (h *Handle) ContainerLogs(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, h.cfg.Binary, "logs", h.id)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s logs %s: %w", h.cfg.Binary, h.id, err)
	}
	return combined.String(), nil
}

func (h *Handle) FollowOutput(ctx context.Context) (<-chan ports.LogFrame, error) {
	cmd := exec.CommandContext(ctx, h.cfg.Binary, "logs", "--follow", h.id)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s logs --follow %s: %w", h.cfg.Binary, h.id, err)
	}

	frames := make(chan ports.LogFrame, 256)
	done := make(chan struct{}, 2)

	pump := func(r io.Reader, source ports.FrameSource) {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case frames <- ports.LogFrame{Source: source, Text: string(buf[:n])}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}
	go pump(stdout, ports.FrameStdout)
	go pump(stderr, ports.FrameStderr)

	go func() {
		<-done
		<-done
		_ = cmd.Wait()
		close(frames)
	}()

	return frames, nil
}

func (h *Handle) MappedAddress(ctx context.Context, port int) (string, error) {
	info, err := h.inspect(ctx)
	if err != nil {
		return "", err
	}
	address, err := info.mappedAddress(port)
	if err != nil {
		return "", fmt.Errorf("container %s: %w", h.id, err)
	}
	return address, nil
}

// Close removes the container. The member's lifecycle ends here.
func (h *Handle) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := h.run(ctx, "rm", "--force", h.id)
	return err
}
