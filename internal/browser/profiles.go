package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/roelfdiedericks/zaibridge/internal/logging"
)

// Chrome refuses to start on a profile that still holds these
var lockFiles = []string{
	"SingletonLock",
	"SingletonCookie",
	"SingletonSocket",
}

// ProfileInfo contains information about a browser profile
type ProfileInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`     // Total size in bytes
	LastUsed time.Time `json:"lastUsed"` // Last modification time
}

// ProfileManager handles the persistent profile directories that keep the
// site's login alive between runs.
type ProfileManager struct {
	profilesDir string
}

// NewProfileManager creates a new profile manager
func NewProfileManager(profilesDir string) *ProfileManager {
	return &ProfileManager{
		profilesDir: profilesDir,
	}
}

// EnsureProfile ensures a profile directory exists
func (m *ProfileManager) EnsureProfile(name string) (string, error) {
	profileDir := m.GetProfileDir(name)

	if err := os.MkdirAll(profileDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}

	L_debug("browser: ensured profile", "name", name, "path", profileDir)
	return profileDir, nil
}

// GetProfileDir returns the path to a profile directory (does not create it)
func (m *ProfileManager) GetProfileDir(name string) string {
	if name == "" {
		name = "default"
	}
	return filepath.Join(m.profilesDir, name)
}

// ProfileExists checks if a profile exists
func (m *ProfileManager) ProfileExists(name string) bool {
	info, err := os.Stat(m.GetProfileDir(name))
	return err == nil && info.IsDir()
}

// Info returns size and last use of a profile
func (m *ProfileManager) Info(name string) (ProfileInfo, error) {
	if !m.ProfileExists(name) {
		return ProfileInfo{}, fmt.Errorf("profile does not exist: %s", name)
	}
	return m.getProfileInfo(name, m.GetProfileDir(name))
}

// getProfileInfo calculates profile information
func (m *ProfileManager) getProfileInfo(name, path string) (ProfileInfo, error) {
	info := ProfileInfo{
		Name: name,
		Path: path,
	}

	err := filepath.Walk(path, func(filePath string, fileInfo os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !fileInfo.IsDir() {
			info.Size += fileInfo.Size()
		}

		if fileInfo.ModTime().After(info.LastUsed) {
			info.LastUsed = fileInfo.ModTime()
		}

		return nil
	})

	return info, err
}

// ClearProfile removes all data from a profile (cookies, cache, etc.).
// The browser must not be running on it.
func (m *ProfileManager) ClearProfile(name string) error {
	if !m.ProfileExists(name) {
		return fmt.Errorf("profile does not exist: %s", name)
	}
	profileDir := m.GetProfileDir(name)

	// Remove all contents but keep the directory
	entries, err := os.ReadDir(profileDir)
	if err != nil {
		return fmt.Errorf("failed to read profile directory: %w", err)
	}

	for _, entry := range entries {
		entryPath := filepath.Join(profileDir, entry.Name())
		if err := os.RemoveAll(entryPath); err != nil {
			L_warn("browser: failed to remove profile entry", "path", entryPath, "error", err)
		}
	}

	L_info("browser: cleared profile", "name", name)
	return nil
}

// cleanupStaleLocks removes lock files left behind by a crashed browser.
// Only called once attaching to a live browser on the port has failed.
func cleanupStaleLocks(profileDir string) int {
	removed := 0
	for _, lockFile := range lockFiles {
		lockPath := filepath.Join(profileDir, lockFile)
		if _, err := os.Lstat(lockPath); err != nil {
			continue
		}
		if err := os.Remove(lockPath); err != nil {
			L_warn("browser: failed to remove stale lock file", "file", lockPath, "error", err)
			continue
		}
		removed++
		L_info("browser: removed stale lock file", "file", lockPath)
	}
	return removed
}

// FormatSize returns a human-readable size string
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
