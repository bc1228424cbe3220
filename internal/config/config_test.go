package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxrdp/xrdp-setup/internal/state"
)

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, state.DefaultPath, cfg.MarkerPath)
	assert.Equal(t, "latest", cfg.ReleaseBranch)
	assert.Equal(t, "mainline_merge", cfg.ForkBranch)
	assert.Contains(t, cfg.BuildPackages, "checkinstall")
	assert.Contains(t, cfg.ConfigureFlags, "--enable-fuse")
	assert.Empty(t, cfg.DownloadDir, "download dir defaults to the probed value")
}

func TestLoad_MergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
download_dir: /srv/build
release_branch: v0.10
xrdp_repo: https://example.com/mirror/xrdp.git
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/build", cfg.DownloadDir)
	assert.Equal(t, "v0.10", cfg.ReleaseBranch)
	assert.Equal(t, "https://example.com/mirror/xrdp.git", cfg.XrdpRepo)

	// Untouched fields keep their defaults.
	assert.Equal(t, "https://github.com/neutrinolabs/xorgxrdp.git", cfg.XorgxrdpRepo)
	assert.Equal(t, "mainline_merge", cfg.ForkBranch)
}

func TestLoad_RejectsInvalidURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("xrdp_repo: not-a-url\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xrdp_repo")
}

func TestLoad_RejectsEmptyRequiredField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`release_branch: ""`+"\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("release_branch: [unclosed\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}
