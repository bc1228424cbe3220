// Package config holds the tunable inputs of a setup run: upstream
// repositories, package lists, and well-known paths. Defaults cover the
// stock install; an optional YAML file overrides individual fields.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linuxrdp/xrdp-setup/internal/state"
	"github.com/linuxrdp/xrdp-setup/internal/validate"
)

// Config is validated after defaults and file overrides are merged.
type Config struct {
	// MarkerPath is where the install-mode marker is persisted.
	MarkerPath string `yaml:"marker_path" validate:"required"`

	// DownloadDir overrides the probed download directory when set.
	DownloadDir string `yaml:"download_dir"`

	// Source repositories for the from-source build.
	XrdpRepo         string `yaml:"xrdp_repo" validate:"required,url"`
	XorgxrdpRepo     string `yaml:"xorgxrdp_repo" validate:"required,url"`
	ForkXrdpRepo     string `yaml:"fork_xrdp_repo" validate:"required,url"`
	ForkXorgxrdpRepo string `yaml:"fork_xorgxrdp_repo" validate:"required,url"`
	SoundModuleRepo  string `yaml:"sound_module_repo" validate:"required,url"`

	// Branch selection: ReleaseBranch is built by default; ForkBranch when
	// the fork is requested. The development flag builds the repository
	// HEAD instead.
	ReleaseBranch string `yaml:"release_branch" validate:"required"`
	ForkBranch    string `yaml:"fork_branch" validate:"required"`

	// CUDAKeyringURL is the NVIDIA repository keyring package.
	CUDAKeyringURL string `yaml:"cuda_keyring_url" validate:"required,url"`

	// BuildPackages are the from-source build prerequisites.
	BuildPackages []string `yaml:"build_packages" validate:"required,min=1"`

	// ConfigureFlags are passed to the xrdp ./configure step.
	ConfigureFlags []string `yaml:"configure_flags"`

	// SoundBuildPackages are the audio-bridge build prerequisites.
	SoundBuildPackages []string `yaml:"sound_build_packages" validate:"required,min=1"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		MarkerPath: state.DefaultPath,

		XrdpRepo:         "https://github.com/neutrinolabs/xrdp.git",
		XorgxrdpRepo:     "https://github.com/neutrinolabs/xorgxrdp.git",
		ForkXrdpRepo:     "https://github.com/Nexarian/xrdp.git",
		ForkXorgxrdpRepo: "https://github.com/Nexarian/xorgxrdp.git",
		SoundModuleRepo:  "https://github.com/neutrinolabs/pipewire-module-xrdp.git",

		ReleaseBranch: "latest",
		ForkBranch:    "mainline_merge",

		CUDAKeyringURL: "https://developer.download.nvidia.com/compute/cuda/repos/ubuntu2204/x86_64/cuda-keyring_1.1-1_all.deb",

		BuildPackages: []string{
			"git", "jq", "xvfb", "libmp3lame-dev", "curl", "libfuse-dev",
			"libx11-dev", "libxfixes-dev", "libssl-dev", "libpam0g-dev",
			"libtool", "libjpeg-dev", "flex", "bison", "gettext", "autoconf",
			"libxml-parser-perl", "xsltproc", "libxrandr-dev",
			"python3-libxml2", "nasm", "pkg-config", "intltool",
			"checkinstall",
		},

		ConfigureFlags: []string{
			"--enable-fuse", "--enable-jpeg", "--enable-rfxcodec",
			"--enable-mp3lame", "--enable-vsock",
		},

		SoundBuildPackages: []string{
			"git", "pkg-config", "autotools-dev", "libtool", "make", "gcc",
			"libpipewire-0.3-dev", "libspa-0.2-dev",
		},
	}
}

// Load returns the defaults, merged with the YAML file at path when path is
// non-empty, then validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
