// Package installer decides and executes exactly one top-level setup
// action per run: remove, standard install, or from-source install,
// optionally layered with CUDA and sound-bridge support.
package installer

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/linuxrdp/xrdp-setup/internal/config"
	"github.com/linuxrdp/xrdp-setup/internal/executor"
	"github.com/linuxrdp/xrdp-setup/internal/hostinfo"
	"github.com/linuxrdp/xrdp-setup/internal/state"
)

// Request holds the per-run install flags. Immutable for the run.
type Request struct {
	Custom          bool `json:"custom"`
	Remove          bool `json:"remove"`
	UseDev          bool `json:"dev"`
	UseSound        bool `json:"sound"`
	UseCUDA         bool `json:"cuda"`
	UseNexarianFork bool `json:"nexarian"`
	Verbose         bool `json:"verbose"`
}

// Mode names the top-level action the controller will take, for logging
// and the run journal.
func (r Request) Mode() string {
	switch {
	case r.Remove:
		return "remove"
	case r.Custom:
		return "custom"
	default:
		return "standard"
	}
}

// PrivilegeError is returned when the process is already elevated. The
// runner elevates per command; a pre-elevated environment would leak root
// ownership into fetched sources and build trees.
type PrivilegeError struct {
	EUID int
}

func (e *PrivilegeError) Error() string {
	return fmt.Sprintf("running with effective uid %d: run as a regular user, commands elevate themselves via sudo", e.EUID)
}

// CheckPrivilege rejects an already-elevated process before any external
// action is dispatched.
func CheckPrivilege(euid int) error {
	if euid == 0 {
		return &PrivilegeError{EUID: euid}
	}
	return nil
}

// Runner dispatches external commands. Satisfied by executor.Runner;
// tests substitute a recording mock.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*executor.Result, error)
	RunInDir(ctx context.Context, dir, name string, args ...string) (*executor.Result, error)
	Sudo(ctx context.Context, name string, args ...string) (*executor.Result, error)
	SudoInDir(ctx context.Context, dir, name string, args ...string) (*executor.Result, error)
	SudoWithStdin(ctx context.Context, stdin io.Reader, name string, args ...string) (*executor.Result, error)
	Query(ctx context.Context, name string, args ...string) (string, error)
	WritePrivilegedFile(ctx context.Context, path, content, mode string) error
	EnsureDir(ctx context.Context, path string) error
	RemovePath(ctx context.Context, path string)
}

// ModeStore persists the install-mode marker. Satisfied by state.Store.
type ModeStore interface {
	Read() state.Mode
	Write(ctx context.Context, m state.Mode) error
}

// Controller sequences a setup run. Strictly sequential: one external
// action at a time, no retries, no rollback of completed steps.
type Controller struct {
	run    Runner
	store  ModeStore
	cfg    *config.Config
	facts  *hostinfo.Facts
	logger *slog.Logger
}

// New creates a Controller.
func New(run Runner, store ModeStore, cfg *config.Config, facts *hostinfo.Facts, logger *slog.Logger) *Controller {
	return &Controller{run: run, store: store, cfg: cfg, facts: facts, logger: logger}
}

// Run executes the state machine. Removal short-circuits everything else;
// otherwise the mode branch runs unless the persisted marker records a
// completed install of the opposing mode, in which case it is silently
// skipped so that re-runs stay idempotent. CUDA runs before and sound
// after the mode branch, each independent of it.
func (c *Controller) Run(ctx context.Context, req Request) error {
	prior := c.store.Read()
	c.logger.Info("starting setup run", "mode", req.Mode(), "prior_mode", string(prior))

	if req.Remove {
		return c.remove(ctx)
	}

	if req.UseCUDA {
		if err := c.installCUDA(ctx); err != nil {
			return err
		}
	}

	if err := c.prepOS(ctx); err != nil {
		return err
	}

	switch {
	case req.Custom && prior == state.ModeStandard:
		c.logger.Info("package-manager install already recorded, skipping source build")
	case req.Custom:
		if err := c.installCustom(ctx, req); err != nil {
			return err
		}
		if err := c.store.Write(ctx, state.ModeCustom); err != nil {
			return fmt.Errorf("persist install mode: %w", err)
		}
	case prior == state.ModeCustom:
		c.logger.Info("from-source install already recorded, skipping package install")
	default:
		if err := c.installStandard(ctx); err != nil {
			return err
		}
		if err := c.store.Write(ctx, state.ModeStandard); err != nil {
			return fmt.Errorf("persist install mode: %w", err)
		}
	}

	if req.UseSound {
		if err := c.enableSound(ctx); err != nil {
			return err
		}
	}

	c.logger.Info("setup run complete")
	return nil
}

// downloadDir is where sources are fetched and built.
func (c *Controller) downloadDir() string {
	if c.cfg.DownloadDir != "" {
		return c.cfg.DownloadDir
	}
	return c.facts.DownloadDir
}
