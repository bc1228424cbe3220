package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/linuxrdp/xrdp-setup/internal/hostinfo"
)

// remove stops the service and purges the package. Exclusive with every
// other action: a removal run terminates here.
func (c *Controller) remove(ctx context.Context) error {
	c.logger.Info("removing xrdp")
	if _, err := c.run.Sudo(ctx, "systemctl", "stop", "xrdp"); err != nil {
		return err
	}
	if _, err := c.run.Sudo(ctx, "apt-get", "autoremove", "xrdp", "-y"); err != nil {
		return err
	}
	if _, err := c.run.Sudo(ctx, "apt-get", "purge", "xrdp", "-y"); err != nil {
		return err
	}
	return nil
}

// installCUDA installs the NVIDIA CUDA toolkit via the vendor keyring
// package. Independent of the install mode.
func (c *Controller) installCUDA(ctx context.Context) error {
	c.logger.Info("installing CUDA toolkit")

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	keyring := filepath.Join(home, filepath.Base(c.cfg.CUDAKeyringURL))

	if _, err := c.run.RunInDir(ctx, home, "wget", c.cfg.CUDAKeyringURL); err != nil {
		return err
	}
	if _, err := c.run.Sudo(ctx, "dpkg", "-i", keyring); err != nil {
		return err
	}
	if _, err := c.run.Sudo(ctx, "apt-get", "update"); err != nil {
		return err
	}
	if _, err := c.run.Sudo(ctx, "apt-get", "-y", "install", "cuda"); err != nil {
		return err
	}
	os.Remove(keyring)
	return nil
}

// prepOS readies the package manager before any install branch. On Debian
// the leftover cdrom entries in sources.list break apt-get update on
// machines installed from ISO media.
func (c *Controller) prepOS(ctx context.Context) error {
	if strings.Contains(c.facts.Description, "Debian") {
		if _, err := c.run.Sudo(ctx, "sed", "-i", "s/deb cdrom:/#deb cdrom:/", "/etc/apt/sources.list"); err != nil {
			return err
		}
		if _, err := c.run.Sudo(ctx, "apt-get", "update"); err != nil {
			return err
		}
	}
	_, err := c.run.Sudo(ctx, "apt-get", "-y", "install", "pulseaudio-utils")
	return err
}

// installStandard installs the packaged distribution build.
func (c *Controller) installStandard(ctx context.Context) error {
	c.logger.Info("installing xrdp from distribution packages")
	if _, err := c.run.Sudo(ctx, "apt-get", "install", "xrdp", "-y"); err != nil {
		return err
	}
	return c.installCommon(ctx)
}

// installCustom builds and packages xrdp and xorgxrdp from source.
func (c *Controller) installCustom(ctx context.Context, req Request) error {
	c.logger.Info("installing xrdp from source")
	if err := c.installPrereqs(ctx); err != nil {
		return err
	}
	if err := c.fetchSources(ctx, req); err != nil {
		return err
	}
	if err := c.compileSources(ctx); err != nil {
		return err
	}
	if err := c.enableServices(ctx); err != nil {
		return err
	}
	return c.installCommon(ctx)
}

// installPrereqs installs the build toolchain. The X server dev packages
// must match the installed stack: hwe-suffixed when the
// hardware-enablement stack is present, stock otherwise.
func (c *Controller) installPrereqs(ctx context.Context) error {
	args := append([]string{"-y", "install"}, c.cfg.BuildPackages...)
	if _, err := c.run.Sudo(ctx, "apt-get", args...); err != nil {
		return err
	}

	if c.facts.HWE {
		_, err := c.run.Sudo(ctx, "apt-get", "install", "-y",
			"xserver-xorg-dev-hwe-"+c.facts.Release,
			"xserver-xorg-core-hwe-"+c.facts.Release)
		return err
	}
	_, err := c.run.Sudo(ctx, "apt-get", "install", "-y",
		"xserver-xorg-dev", "xserver-xorg-core")
	return err
}

// cloneArgs builds the git clone argv for one source component.
// Branch policy: the fork pins its merge branch, the development flag
// builds the repository HEAD, and the default builds the release branch.
func (c *Controller) cloneArgs(req Request, upstreamRepo, forkRepo, dest string) []string {
	repo := upstreamRepo
	args := []string{"clone", "--recursive"}
	switch {
	case req.UseNexarianFork:
		repo = forkRepo
		args = append(args, "--branch", c.cfg.ForkBranch)
	case req.UseDev:
		// HEAD: no --branch pin.
	default:
		args = append(args, "--branch", c.cfg.ReleaseBranch)
	}
	return append(args, repo, dest)
}

// fetchSources clears any stale checkouts and clones xrdp and xorgxrdp
// into the download directory.
func (c *Controller) fetchSources(ctx context.Context, req Request) error {
	dir := c.downloadDir()

	type component struct {
		name     string
		upstream string
		fork     string
	}
	components := []component{
		{"xrdp", c.cfg.XrdpRepo, c.cfg.ForkXrdpRepo},
		{"xorgxrdp", c.cfg.XorgxrdpRepo, c.cfg.ForkXorgxrdpRepo},
	}

	for _, comp := range components {
		c.run.RemovePath(ctx, filepath.Join(dir, comp.name))
		args := c.cloneArgs(req, comp.upstream, comp.fork, comp.name)
		if _, err := c.run.RunInDir(ctx, dir, "git", args...); err != nil {
			return err
		}
	}
	return nil
}

// compileSources runs bootstrap/configure/make/checkinstall for both
// components. checkinstall produces a .deb so removal later goes through
// the package manager.
func (c *Controller) compileSources(ctx context.Context) error {
	jobs := strconv.Itoa(runtime.NumCPU())

	xrdpDir := filepath.Join(c.downloadDir(), "xrdp")
	if err := c.buildComponent(ctx, xrdpDir, "xrdp", jobs, c.cfg.ConfigureFlags); err != nil {
		return err
	}

	xorgDir := filepath.Join(c.downloadDir(), "xorgxrdp")
	return c.buildComponent(ctx, xorgDir, "xorgxrdp", jobs, nil)
}

func (c *Controller) buildComponent(ctx context.Context, dir, pkgName, jobs string, configureFlags []string) error {
	if _, err := c.run.SudoInDir(ctx, dir, "./bootstrap"); err != nil {
		return err
	}
	if _, err := c.run.SudoInDir(ctx, dir, "./configure", configureFlags...); err != nil {
		return err
	}
	if _, err := c.run.SudoInDir(ctx, dir, "make", "-j", jobs); err != nil {
		return err
	}
	_, err := c.run.SudoInDir(ctx, dir, "checkinstall", "--pkgname="+pkgName, "--default")
	return err
}

// enableServices wires the freshly packaged build into systemd.
func (c *Controller) enableServices(ctx context.Context) error {
	if _, err := c.run.Sudo(ctx, "systemctl", "daemon-reload"); err != nil {
		return err
	}
	if _, err := c.run.Sudo(ctx, "systemctl", "enable", "xrdp.service"); err != nil {
		return err
	}
	if _, err := c.run.Sudo(ctx, "systemctl", "enable", "xrdp-sesman.service"); err != nil {
		return err
	}
	_, err := c.run.Sudo(ctx, "systemctl", "start", "xrdp")
	return err
}

// installCommon applies the post-install fixups shared by both modes:
// GNOME tweaks where applicable, X wrapper permissions, and the colord
// polkit rule that suppresses authentication prompts inside rdp sessions.
func (c *Controller) installCommon(ctx context.Context) error {
	if strings.Contains(c.facts.Desktop, "GNOME") {
		if _, err := c.run.Sudo(ctx, "apt-get", "install", "gnome-tweaks", "-y"); err != nil {
			return err
		}
	}

	if err := c.run.WritePrivilegedFile(ctx, xwrapperPath, xwrapperConfig, "0644"); err != nil {
		return err
	}

	if err := c.run.EnsureDir(ctx, filepath.Dir(colordPolicyPath)); err != nil {
		return err
	}
	return c.run.WritePrivilegedFile(ctx, colordPolicyPath, colordPolicy, "0644")
}

// enableSound builds and installs the audio-bridge module when the active
// sound server is PipeWire. Always the last step; other sound servers are
// logged and skipped.
func (c *Controller) enableSound(ctx context.Context) error {
	server, err := hostinfo.SoundServer(ctx, c.run)
	if err != nil {
		return err
	}
	if !strings.Contains(server, "PipeWire") {
		c.logger.Info("sound server is not PipeWire, skipping audio bridge", "server", server)
		return nil
	}

	c.logger.Info("installing PipeWire audio bridge")
	args := append([]string{"install", "-y"}, c.cfg.SoundBuildPackages...)
	if _, err := c.run.Sudo(ctx, "apt", args...); err != nil {
		return err
	}

	dir := c.downloadDir()
	moduleDir := filepath.Join(dir, moduleName(c.cfg.SoundModuleRepo))
	c.run.RemovePath(ctx, moduleDir)
	if _, err := c.run.RunInDir(ctx, dir, "git", "clone", "--recursive", c.cfg.SoundModuleRepo); err != nil {
		return err
	}

	if _, err := c.run.RunInDir(ctx, moduleDir, "./bootstrap"); err != nil {
		return err
	}
	if _, err := c.run.RunInDir(ctx, moduleDir, "./configure"); err != nil {
		return err
	}
	if _, err := c.run.RunInDir(ctx, moduleDir, "make"); err != nil {
		return err
	}
	_, err = c.run.SudoInDir(ctx, moduleDir, "make", "install")
	return err
}

// moduleName derives the checkout directory from a git URL.
func moduleName(repoURL string) string {
	return strings.TrimSuffix(filepath.Base(repoURL), ".git")
}
