package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/roelfdiedericks/zaibridge/internal/bridge"
	. "github.com/roelfdiedericks/zaibridge/internal/logging"
	"github.com/roelfdiedericks/zaibridge/internal/paths"
)

// braveCandidates lists the usual Brave install locations for goos
func braveCandidates(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
		}
	case "windows":
		var out []string
		for _, env := range []string{"ProgramFiles", "ProgramFiles(x86)", "LocalAppData"} {
			if base := os.Getenv(env); base != "" {
				out = append(out, filepath.Join(base, "BraveSoftware", "Brave-Browser", "Application", "brave.exe"))
			}
		}
		return out
	default:
		return []string{
			"/usr/bin/brave-browser",
			"/usr/bin/brave",
			"/opt/brave.com/brave/brave",
			"/snap/bin/brave",
		}
	}
}

// findExecutable resolves the browser binary: configured path, then Brave,
// then any system Chromium, then the downloaded one.
func (m *Manager) findExecutable() (string, error) {
	if m.config.Bin != "" {
		bin, err := paths.ExpandTilde(m.config.Bin)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(bin); err != nil {
			return "", fmt.Errorf("%w: configured browser %s: %v", bridge.ErrBrowserUnavailable, bin, err)
		}
		return bin, nil
	}

	for _, candidate := range braveCandidates(runtime.GOOS) {
		if _, err := os.Stat(candidate); err == nil {
			L_debug("browser: using brave", "path", candidate)
			return candidate, nil
		}
	}

	if found, ok := launcher.LookPath(); ok {
		L_debug("browser: using system browser", "path", found)
		return found, nil
	}

	if bin, err := m.downloader.FindExistingBrowser(); err == nil {
		return bin, nil
	}

	if !m.config.AutoDownload {
		return "", fmt.Errorf("%w: no browser found and autoDownload is disabled", bridge.ErrBrowserUnavailable)
	}

	bin, err := m.downloader.EnsureBrowser()
	if err != nil {
		return "", fmt.Errorf("%w: %v", bridge.ErrBrowserUnavailable, err)
	}
	return bin, nil
}
