package browser

import (
	"path/filepath"
	"strings"

	"github.com/go-rod/rod/lib/devices"
)

// BrowserConfig holds browser configuration
type BrowserConfig struct {
	Bin          string `json:"bin" toml:"bin" yaml:"bin"`                            // Browser executable (empty = search Brave, then system Chromium)
	Dir          string `json:"dir" toml:"dir" yaml:"dir"`                            // Browser data directory (empty = ~/.zaibridge/browser)
	Profile      string `json:"profile" toml:"profile" yaml:"profile"`                // Profile name under <dir>/profiles
	Port         int    `json:"port" toml:"port" yaml:"port"`                         // Remote debugging port, shared across restarts
	Headless     bool   `json:"headless" toml:"headless" yaml:"headless"`             // Run in headless mode
	NoSandbox    bool   `json:"noSandbox" toml:"noSandbox" yaml:"noSandbox"`          // Disable sandbox (needed for Docker/root)
	Stealth      bool   `json:"stealth" toml:"stealth" yaml:"stealth"`                // Enable stealth mode on new pages
	AutoDownload bool   `json:"autoDownload" toml:"autoDownload" yaml:"autoDownload"` // Download Chromium if no browser is found
	Device       string `json:"device" toml:"device" yaml:"device"`                   // Device emulation: "clear", "laptop", ...
}

// DefaultBrowserConfig returns the default browser configuration
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Profile:      "default",
		Port:         9223,
		Headless:     false, // login needs a visible window
		Stealth:      true,
		AutoDownload: true,
		Device:       "clear", // No viewport emulation, fills window
	}
}

// ResolveDir returns the browser directory, defaulting to ~/.zaibridge/browser
func (c *BrowserConfig) ResolveDir(homeDir string) string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(homeDir, ".zaibridge", "browser")
}

// ResolveBinDir returns the downloaded chromium directory
func (c *BrowserConfig) ResolveBinDir(homeDir string) string {
	return filepath.Join(c.ResolveDir(homeDir), "bin")
}

// ResolveProfilesDir returns the profiles directory
func (c *BrowserConfig) ResolveProfilesDir(homeDir string) string {
	return filepath.Join(c.ResolveDir(homeDir), "profiles")
}

// ResolveProfile returns the profile name, "default" when unset
func (c *BrowserConfig) ResolveProfile() string {
	if c.Profile == "" {
		return "default"
	}
	return c.Profile
}

// ResolveDevice returns the devices.Device for the configured device name.
// Supported friendly names:
//   - "clear" - No emulation, browser fills window (default)
//   - "laptop" or "laptop-mdpi" - LaptopWithMDPIScreen (1280x800)
//   - "laptop-hidpi" - LaptopWithHiDPIScreen (1440x900, 2x DPI)
//   - "laptop-touch" - LaptopWithTouch (1280x950)
func (c *BrowserConfig) ResolveDevice() devices.Device {
	switch strings.ToLower(c.Device) {
	case "laptop", "laptop-mdpi":
		return devices.LaptopWithMDPIScreen
	case "laptop-hidpi":
		return devices.LaptopWithHiDPIScreen
	case "laptop-touch":
		return devices.LaptopWithTouch
	default:
		return devices.Clear
	}
}
