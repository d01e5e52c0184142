// Package fsops removes local working files, including ones the processor container
// created as another user.
package fsops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
)

// Remover deletes paths with os.RemoveAll and retries permission failures through
// a privileged command when one is configured.
type Remover struct {
	privileged []string
	logger     *slog.Logger
}

var _ ports.Remover = (*Remover)(nil)

// NewRemover takes the privileged prefix, e.g. ["sudo", "-n"]; empty disables the retry.
func NewRemover(privileged []string, log *slog.Logger) *Remover {
	return &Remover{privileged: privileged, logger: log}
}

// RemoveAll deletes path. A missing path is not an error.
func (r *Remover) RemoveAll(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" || path == "/" {
		return fmt.Errorf("refusing to remove %q", path)
	}
	err := os.RemoveAll(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrPermission) || len(r.privileged) == 0 {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	r.debug("retrying removal with privileges", "path", path, "error", err)
	args := append(append([]string{}, r.privileged[1:]...), "rm", "-rf", "--", path)
	out, runErr := exec.CommandContext(ctx, r.privileged[0], args...).CombinedOutput()
	if runErr != nil {
		return fmt.Errorf("privileged remove %s: %w: %s", path, runErr, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r *Remover) debug(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
