// Package processor runs the containerized RTC processor for one scene and decides
// the outcome from the files it leaves behind.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/clock"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
)

const (
	DefaultImage        = "opera/rtc:final_1.0.4-atmosbugfix"
	DefaultUser         = "rtc_user"
	DefaultPollInterval = 5 * time.Second
	DefaultTimeout      = 6 * time.Hour
)

// Config controls how the processor container is started and watched.
type Config struct {
	Image        string
	User         string
	Mounts       []string
	PollInterval time.Duration
	Timeout      time.Duration
	Skip         bool
}

// Invocation identifies the runconfig and where its products land.
type Invocation struct {
	SceneName  string
	ConfigPath string
	ProductID  string
	OutputDir  string
}

// Result is what the invoker observed.
type Result struct {
	OutputPath  string
	LogPath     string
	ContainerID string
	FinalState  string
	LogBytes    int
	Polls       int
	Skipped     bool
}

// Invoker starts the processor and tails its logs with a cooperative poll loop.
type Invoker struct {
	runtime ports.ContainerRuntime
	clock   clock.Clock
	cfg     Config
	logger  *slog.Logger
}

// NewInvoker fills unset config with the defaults.
func NewInvoker(rt ports.ContainerRuntime, clk clock.Clock, cfg Config, log *slog.Logger) *Invoker {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.User == "" {
		cfg.User = DefaultUser
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Invoker{runtime: rt, clock: clk, cfg: cfg, logger: log}
}

// OutputPath is the artifact whose presence marks a successful run.
func OutputPath(outputDir, productID string) string {
	return filepath.Join(outputDir, productID+".h5")
}

// LogPath is where the container log is saved.
func LogPath(outputDir, productID string) string {
	return filepath.Join(outputDir, productID+".logs")
}

// Run starts the container, polls its state and logs until it leaves created/running
// or the timeout expires, saves the full log and kills the container. Success is
// judged only by the existence of the output artifact.
func (i *Invoker) Run(ctx context.Context, inv Invocation) (Result, error) {
	res := Result{
		OutputPath: OutputPath(inv.OutputDir, inv.ProductID),
		LogPath:    LogPath(inv.OutputDir, inv.ProductID),
	}
	if i.cfg.Skip {
		res.Skipped = true
		i.info("rtc processing skipped, checking existing output", "scene", inv.SceneName)
		return res, checkOutput(res.OutputPath)
	}
	if i.runtime == nil {
		return res, errors.New("container runtime is not configured")
	}

	spec := domain.ContainerSpec{
		Image:   i.cfg.Image,
		User:    i.cfg.User,
		Command: []string{"rtc_s1.py", inv.ConfigPath},
		Mounts:  i.cfg.Mounts,
	}
	id, err := i.runtime.Start(ctx, spec)
	if err != nil {
		return res, fmt.Errorf("start processor: %w", err)
	}
	res.ContainerID = id
	i.info("processor container started", "scene", inv.SceneName, "container", id, "log_path", res.LogPath)

	logs, loopErr := i.watch(ctx, id, &res)

	// The container may outlive a cancelled scene context; teardown must still run.
	teardown := context.WithoutCancel(ctx)
	if final, err := i.runtime.Logs(teardown, id); err == nil && len(final) >= len(logs) {
		logs = final
	}
	res.LogBytes = len(logs)
	if err := writeLogs(res.LogPath, logs); err != nil {
		i.warn("save processor logs", "path", res.LogPath, "error", err)
	}
	if err := i.runtime.Kill(teardown, id); err != nil {
		i.debug("container already stopped", "container", id, "error", err)
	} else {
		i.debug("container killed", "container", id)
	}

	if loopErr != nil {
		return res, loopErr
	}
	return res, checkOutput(res.OutputPath)
}

// watch polls until the container leaves created/running, the timeout expires or ctx
// is cancelled. It returns the logs seen so far.
func (i *Invoker) watch(ctx context.Context, id string, res *Result) ([]byte, error) {
	deadline := i.clock.Now().Add(i.cfg.Timeout)
	var logs []byte
	for {
		res.Polls++
		state, err := i.runtime.State(ctx, id)
		if err != nil {
			return logs, fmt.Errorf("inspect container %s: %w", id, err)
		}
		res.FinalState = state

		if current, err := i.runtime.Logs(ctx, id); err == nil {
			if len(current) > len(logs) {
				i.info(strings.TrimRight(string(current[len(logs):]), "\n"), "container", id)
			}
			logs = current
		}

		if state != domain.ContainerCreated && state != domain.ContainerRunning {
			return logs, nil
		}
		if !i.clock.Now().Before(deadline) {
			return logs, fmt.Errorf("%w: processor still %s after %s", domain.ErrTimeout, state, i.cfg.Timeout)
		}

		select {
		case <-ctx.Done():
			return logs, ctx.Err()
		case <-i.clock.After(i.cfg.PollInterval):
		}
	}
}

func checkOutput(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrProcessingFailed, path)
	}
	return nil
}

func writeLogs(path string, logs []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, logs, 0o644)
}

func (i *Invoker) info(msg string, args ...interface{}) {
	if i.logger != nil {
		i.logger.Info(msg, args...)
	}
}

func (i *Invoker) warn(msg string, args ...interface{}) {
	if i.logger != nil {
		i.logger.Warn(msg, args...)
	}
}

func (i *Invoker) debug(msg string, args ...interface{}) {
	if i.logger != nil {
		i.logger.Debug(msg, args...)
	}
}
