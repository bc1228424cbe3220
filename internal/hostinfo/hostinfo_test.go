package hostinfo

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQuerier serves canned probe output keyed by the joined argv.
type fakeQuerier struct {
	out map[string]string
}

func (f *fakeQuerier) Query(_ context.Context, name string, args ...string) (string, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	if v, ok := f.out[key]; ok {
		return v, nil
	}
	return "", &queryError{key}
}

type queryError struct{ key string }

func (e *queryError) Error() string { return "no output for " + e.key }

func TestSupported(t *testing.T) {
	assert.True(t, Supported("Ubuntu 24.04.1 LTS"))
	assert.True(t, Supported("Debian GNU/Linux 12 (bookworm)"))
	assert.False(t, Supported("Ubuntu 22.04.4 LTS"))
	assert.False(t, Supported("Fedora Linux 40"))
	assert.False(t, Supported(""))
}

func TestProbe_UnsupportedPlatform(t *testing.T) {
	q := &fakeQuerier{out: map[string]string{
		"lsb_release -sd": "Ubuntu 22.04.4 LTS",
	}}

	_, err := Probe(context.Background(), q)
	require.Error(t, err)

	var platErr *UnsupportedPlatformError
	require.ErrorAs(t, err, &platErr)
	assert.Equal(t, "Ubuntu 22.04.4 LTS", platErr.Description)
	assert.Contains(t, platErr.Error(), "Ubuntu 24.04")
}

func TestProbe_Ubuntu(t *testing.T) {
	q := &fakeQuerier{out: map[string]string{
		"lsb_release -sd":       "Ubuntu 24.04.1 LTS",
		"lsb_release -sr":       "24.04",
		"lsb_release -sc":       "noble",
		"xdg-user-dir DOWNLOAD": "/home/user/Downloads",
		"dpkg-query -W -f=${Status} xserver-xorg-core-hwe-24.04": "install ok installed",
	}}

	facts, err := Probe(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "Ubuntu 24.04.1 LTS", facts.Description)
	assert.Equal(t, "24.04", facts.Release)
	assert.Equal(t, "noble", facts.Codename)
	assert.Equal(t, "/home/user/Downloads", facts.DownloadDir)
	assert.True(t, facts.HWE)
}

func TestProbe_NoHWE(t *testing.T) {
	q := &fakeQuerier{out: map[string]string{
		"lsb_release -sd":       "Debian GNU/Linux 12 (bookworm)",
		"lsb_release -sr":       "12",
		"lsb_release -sc":       "bookworm",
		"xdg-user-dir DOWNLOAD": "/home/user/Downloads",
	}}

	facts, err := Probe(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, facts.HWE, "a failed dpkg-query probe means no HWE stack")
}

func TestDesktopEnv_TTYDefaults(t *testing.T) {
	getenv := func(key string) string {
		if key == "XDG_SESSION_TYPE" {
			return "tty"
		}
		return "should-not-be-read"
	}

	desktop, sessionMode, dataDirs, gdmSession := desktopEnv(getenv)
	assert.Equal(t, "ubuntu:GNOME", desktop)
	assert.Equal(t, "ubuntu", sessionMode)
	assert.Equal(t, "/usr/share/ubuntu:/usr/local/share/:/usr/share/:/var/lib/snapd/desktop", dataDirs)
	assert.Equal(t, "ubuntu", gdmSession)
}

func TestDesktopEnv_FromEnvironment(t *testing.T) {
	env := map[string]string{
		"XDG_SESSION_TYPE":         "wayland",
		"XDG_CURRENT_DESKTOP":      "KDE",
		"GNOME_SHELL_SESSION_MODE": "",
		"XDG_DATA_DIRS":            "/usr/share",
		"GDMSESSION":               "plasma",
	}
	getenv := func(key string) string { return env[key] }

	desktop, sessionMode, dataDirs, gdmSession := desktopEnv(getenv)
	assert.Equal(t, "KDE", desktop)
	assert.Equal(t, "ubuntu", sessionMode, "empty variables fall back to the stock identifier")
	assert.Equal(t, "/usr/share", dataDirs)
	assert.Equal(t, "plasma", gdmSession)
}

func TestParseOSRelease(t *testing.T) {
	content := `PRETTY_NAME="Ubuntu 24.04.1 LTS"
NAME="Ubuntu"
VERSION_ID="24.04"
# a comment
UBUNTU_CODENAME=noble

MALFORMED LINE
`
	fields := ParseOSRelease(content)
	assert.Equal(t, "Ubuntu 24.04.1 LTS", fields["PRETTY_NAME"])
	assert.Equal(t, "noble", fields["UBUNTU_CODENAME"])
	assert.NotContains(t, fields, "MALFORMED LINE")
	assert.NotContains(t, fields, "# a comment")
}

func TestStatusInstalled(t *testing.T) {
	assert.True(t, StatusInstalled("install ok installed"))
	assert.False(t, StatusInstalled("deinstall ok config-files"))
	assert.False(t, StatusInstalled("unknown ok not-installed"))
	assert.False(t, StatusInstalled(""))
}

func TestSoundServer(t *testing.T) {
	q := &fakeQuerier{out: map[string]string{
		"pactl info": "Server String: /run/user/1000/pulse/native\nServer Name: PulseAudio (on PipeWire 1.0.5)\nServer Version: 15.0.0",
	}}

	name, err := SoundServer(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "PulseAudio (on PipeWire 1.0.5)", name)
}

func TestSoundServer_QueryFails(t *testing.T) {
	q := &fakeQuerier{out: map[string]string{}}

	_, err := SoundServer(context.Background(), q)
	require.Error(t, err)
}

func TestParseSoundServerName(t *testing.T) {
	assert.Equal(t, "pulseaudio", ParseSoundServerName("Server Name: pulseaudio\n"))
	assert.Equal(t, "", ParseSoundServerName("Server Version: 15.0.0\n"))
	assert.Equal(t, "", ParseSoundServerName(""))
}
