package executor

import (
	"context"
	"fmt"
	"strings"
)

// WritePrivilegedFile writes content to a root-owned path without the
// destination ever holding partial content: the content is staged next to
// the target with sudo tee, its mode fixed, then moved into place.
func (r *Runner) WritePrivilegedFile(ctx context.Context, path, content, mode string) error {
	tmpPath := path + ".tmp"

	if res, err := r.SudoWithStdin(ctx, strings.NewReader(content), "tee", tmpPath); err != nil {
		r.RemovePath(ctx, tmpPath)
		errMsg := err.Error()
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			errMsg = strings.TrimSpace(res.Stderr)
		}
		return fmt.Errorf("stage file %s: %s", tmpPath, errMsg)
	}

	if mode != "" {
		if _, err := r.Sudo(ctx, "chmod", mode, tmpPath); err != nil {
			r.RemovePath(ctx, tmpPath)
			return fmt.Errorf("chmod %s: %w", tmpPath, err)
		}
	}

	if _, err := r.Sudo(ctx, "mv", "-f", tmpPath, path); err != nil {
		r.RemovePath(ctx, tmpPath)
		return fmt.Errorf("move file into place: %w", err)
	}
	return nil
}

// EnsureDir creates a directory (and parents) with sudo mkdir -p.
func (r *Runner) EnsureDir(ctx context.Context, path string) error {
	if _, err := r.Sudo(ctx, "mkdir", "-p", path); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// RemovePath removes a file or directory tree with sudo rm -rf.
// Best effort: errors are ignored.
func (r *Runner) RemovePath(ctx context.Context, path string) {
	r.Sudo(ctx, "rm", "-rf", path)
}
