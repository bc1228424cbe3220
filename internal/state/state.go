// Package state persists the installation-mode marker that gates
// re-installation across runs.
package state

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// Mode is the install strategy recorded by the last completed run.
type Mode string

const (
	// ModeAbsent means no prior completed install is recorded.
	ModeAbsent Mode = ""
	// ModeStandard marks a completed package-manager install.
	ModeStandard Mode = "standard"
	// ModeCustom marks a completed from-source install.
	ModeCustom Mode = "custom"
)

// DefaultPath is the well-known marker location. The xrdp package owns
// /etc/xrdp, so the marker disappears with a purge.
const DefaultPath = "/etc/xrdp/xrdp-installer-check.log"

// FileWriter writes root-owned files atomically. Satisfied by
// executor.Runner.
type FileWriter interface {
	WritePrivilegedFile(ctx context.Context, path, content, mode string) error
	EnsureDir(ctx context.Context, path string) error
}

// Store reads and writes the single-line mode marker.
type Store struct {
	path string
	fw   FileWriter
}

// New creates a Store for the marker at path.
func New(path string, fw FileWriter) *Store {
	return &Store{path: path, fw: fw}
}

// Read returns the persisted mode. Best effort: a missing or unreadable
// file, or an unknown token, reads as ModeAbsent and never as an error.
func (s *Store) Read() Mode {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ModeAbsent
	}
	line, _, _ := strings.Cut(string(data), "\n")
	switch Mode(strings.TrimSpace(line)) {
	case ModeStandard:
		return ModeStandard
	case ModeCustom:
		return ModeCustom
	default:
		return ModeAbsent
	}
}

// Write persists the mode marker. Called only after a successful install
// branch; a failure here is fatal since diverging state is worse than
// aborting.
func (s *Store) Write(ctx context.Context, m Mode) error {
	if err := s.fw.EnsureDir(ctx, filepath.Dir(s.path)); err != nil {
		return err
	}
	return s.fw.WritePrivilegedFile(ctx, s.path, string(m)+"\n", "0644")
}
