// Package docker drives the RTC processor container through the docker CLI.
package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
)

// Runtime shells out to the docker binary.
type Runtime struct {
	dockerBin string
}

var _ ports.ContainerRuntime = (*Runtime)(nil)

// NewRuntime resolves dockerBin, defaulting to "docker".
func NewRuntime(dockerBin string) (*Runtime, error) {
	dockerBin = strings.TrimSpace(dockerBin)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	if _, err := exec.LookPath(dockerBin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	return &Runtime{dockerBin: dockerBin}, nil
}

// Start runs the container detached and returns its id.
func (r *Runtime) Start(ctx context.Context, spec domain.ContainerSpec) (string, error) {
	args, err := runArgs(spec)
	if err != nil {
		return "", err
	}
	out, err := exec.CommandContext(ctx, r.dockerBin, args...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return "", fmt.Errorf("docker run failed: %w: %s", err, text)
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", errors.New("docker run printed no container id")
	}
	return fields[len(fields)-1], nil
}

func runArgs(spec domain.ContainerSpec) ([]string, error) {
	image := strings.TrimSpace(spec.Image)
	if image == "" {
		return nil, errors.New("image ref is required")
	}
	args := []string{"run", "--detach"}
	if user := strings.TrimSpace(spec.User); user != "" {
		args = append(args, "--user", user)
	}
	for _, m := range spec.Mounts {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		args = append(args, "-v", m+":"+m)
	}
	args = append(args, image)
	return append(args, spec.Command...), nil
}

type inspectState struct {
	Status   string `json:"Status"`
	ExitCode int    `json:"ExitCode"`
}

// State returns the docker status string (created, running, exited, dead, ...).
func (r *Runtime) State(ctx context.Context, id string) (string, error) {
	out, err := exec.CommandContext(ctx, r.dockerBin, "inspect", "--format", "{{json .State}}", id).CombinedOutput()
	if err != nil {
		text := strings.TrimSpace(string(out))
		if strings.Contains(text, "No such object") || strings.Contains(text, "not found") {
			return domain.ContainerDead, nil
		}
		return "", fmt.Errorf("docker inspect failed: %w: %s", err, text)
	}
	var state inspectState
	if err := json.Unmarshal(out, &state); err != nil {
		return "", fmt.Errorf("parse docker inspect: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(state.Status)), nil
}

// Logs returns everything the container has written so far, stdout and stderr merged.
func (r *Runtime) Logs(ctx context.Context, id string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, r.dockerBin, "logs", id).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("docker logs failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Kill stops the container. Killing a stopped container is an error from docker.
func (r *Runtime) Kill(ctx context.Context, id string) error {
	out, err := exec.CommandContext(ctx, r.dockerBin, "kill", id).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker kill failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
