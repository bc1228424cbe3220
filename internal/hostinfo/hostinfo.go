// Package hostinfo collects read-only facts about the host: distribution,
// desktop session, hardware-enablement graphics stack, and sound server.
// Probing performs no mutations.
package hostinfo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/linuxrdp/xrdp-setup/internal/validate"
)

// Querier runs read-only probe commands. Satisfied by executor.Runner.
type Querier interface {
	Query(ctx context.Context, name string, args ...string) (string, error)
}

// Facts is an immutable snapshot of the host captured once at startup.
type Facts struct {
	// Distribution identity from lsb_release.
	Description string `validate:"required"`
	Release     string
	Codename    string
	// UBUNTU_CODENAME from /etc/os-release; empty on Debian.
	UbuntuCodename string

	// Desktop session identifiers, with defaults for tty (SSH) sessions.
	Desktop     string
	SessionMode string
	DataDirs    string
	GDMSession  string

	// HWE reports whether the hardware-enablement X server stack is
	// installed; it selects the matching -dev packages for source builds.
	HWE bool

	// DownloadDir is where sources are fetched and built.
	DownloadDir string `validate:"required"`
}

// UnsupportedPlatformError is returned when the distribution is not in the
// supported set. Fatal before any mutation.
type UnsupportedPlatformError struct {
	Description string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform %q (supported: %s)",
		e.Description, strings.Join(supportedPlatforms, ", "))
}

var supportedPlatforms = []string{"Ubuntu 24.04", "Debian"}

// Supported reports whether the lsb_release description names a supported
// distribution.
func Supported(description string) bool {
	for _, p := range supportedPlatforms {
		if strings.Contains(description, p) {
			return true
		}
	}
	return false
}

// Probe captures host facts. It fails with *UnsupportedPlatformError on an
// unsupported distribution and never mutates the system.
func Probe(ctx context.Context, q Querier) (*Facts, error) {
	desc, err := q.Query(ctx, "lsb_release", "-sd")
	if err != nil {
		return nil, fmt.Errorf("detect distribution: %w", err)
	}
	if !Supported(desc) {
		return nil, &UnsupportedPlatformError{Description: desc}
	}

	release, _ := q.Query(ctx, "lsb_release", "-sr")
	codename, _ := q.Query(ctx, "lsb_release", "-sc")

	facts := &Facts{
		Description:    desc,
		Release:        release,
		Codename:       codename,
		UbuntuCodename: ubuntuCodename(),
		DownloadDir:    downloadDir(ctx, q),
	}
	facts.Desktop, facts.SessionMode, facts.DataDirs, facts.GDMSession = desktopEnv(os.Getenv)

	hweOut, _ := q.Query(ctx, "dpkg-query", "-W", "-f=${Status}", "xserver-xorg-core-hwe-"+release)
	facts.HWE = StatusInstalled(hweOut)

	if err := validate.Struct(facts); err != nil {
		return nil, fmt.Errorf("host facts: %w", err)
	}
	return facts, nil
}

// desktopEnv resolves the desktop session identifiers from the environment.
// tty sessions (SSH) have no desktop variables, so the stock Ubuntu GNOME
// identifiers are assumed.
func desktopEnv(getenv func(string) string) (desktop, sessionMode, dataDirs, gdmSession string) {
	if getenv("XDG_SESSION_TYPE") == "tty" {
		return "ubuntu:GNOME", "ubuntu",
			"/usr/share/ubuntu:/usr/local/share/:/usr/share/:/var/lib/snapd/desktop",
			"ubuntu"
	}
	desktop = envOr(getenv, "XDG_CURRENT_DESKTOP", "ubuntu:GNOME")
	sessionMode = envOr(getenv, "GNOME_SHELL_SESSION_MODE", "ubuntu")
	dataDirs = envOr(getenv, "XDG_DATA_DIRS", "/usr/share/ubuntu:/usr/local/share/:/usr/share/")
	gdmSession = envOr(getenv, "GDMSESSION", "ubuntu")
	return desktop, sessionMode, dataDirs, gdmSession
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

// ubuntuCodename reads UBUNTU_CODENAME from /etc/os-release.
func ubuntuCodename() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return ""
	}
	return ParseOSRelease(string(data))["UBUNTU_CODENAME"]
}

// ParseOSRelease parses os-release key=value content. Values may be quoted.
func ParseOSRelease(content string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"`)
	}
	return fields
}

// StatusInstalled reports whether a dpkg-query "${Status}" string names an
// installed package. The status is "want flag status"; only the last field
// counts, since "not-installed" would match a substring check.
func StatusInstalled(status string) bool {
	fields := strings.Fields(status)
	return len(fields) == 3 && fields[2] == "installed"
}

// downloadDir resolves the user's download directory via xdg-user-dir,
// falling back to ~/Downloads.
func downloadDir(ctx context.Context, q Querier) string {
	if dir, err := q.Query(ctx, "xdg-user-dir", "DOWNLOAD"); err == nil && dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Downloads")
}

// SoundServer queries the active sound server name from pactl.
func SoundServer(ctx context.Context, q Querier) (string, error) {
	out, err := q.Query(ctx, "pactl", "info")
	if err != nil {
		return "", fmt.Errorf("query sound server: %w", err)
	}
	name := ParseSoundServerName(out)
	if name == "" {
		return "", fmt.Errorf("no Server Name in pactl output")
	}
	return name, nil
}

// ParseSoundServerName extracts the "Server Name" field from pactl info
// output.
func ParseSoundServerName(pactlOut string) string {
	for _, line := range strings.Split(pactlOut, "\n") {
		if key, value, ok := strings.Cut(line, ":"); ok && strings.TrimSpace(key) == "Server Name" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
