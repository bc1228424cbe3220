package installer

import _ "embed"

// Destination paths for the post-install fixup files.
const (
	xwrapperPath     = "/etc/X11/Xwrapper.config"
	colordPolicyPath = "/etc/polkit-1/localauthority/50-local.d/45-allow-colord.pkla"
)

// xwrapperConfig lets xrdp sessions start an X server; the distribution
// default restricts that to console users.
//
//go:embed assets/xwrapper.config
var xwrapperConfig string

// colordPolicy suppresses the color-manager authentication dialog that
// otherwise appears on every remote login.
//
//go:embed assets/45-allow-colord.pkla
var colordPolicy string
