package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/devices"
)

func TestDefaultBrowserConfig(t *testing.T) {
	cfg := DefaultBrowserConfig()
	if cfg.Port != 9223 {
		t.Errorf("Port = %d, want 9223", cfg.Port)
	}
	if cfg.Headless {
		t.Error("default should be headed so login works")
	}
	if cfg.ResolveProfile() != "default" {
		t.Errorf("ResolveProfile() = %q", cfg.ResolveProfile())
	}
}

func TestResolveDirs(t *testing.T) {
	cfg := BrowserConfig{}
	if got := cfg.ResolveDir("/home/u"); got != filepath.Join("/home/u", ".zaibridge", "browser") {
		t.Errorf("ResolveDir() = %q", got)
	}
	if got := cfg.ResolveProfilesDir("/home/u"); got != filepath.Join("/home/u", ".zaibridge", "browser", "profiles") {
		t.Errorf("ResolveProfilesDir() = %q", got)
	}

	cfg.Dir = "/data/b"
	if got := cfg.ResolveBinDir("/home/u"); got != filepath.Join("/data/b", "bin") {
		t.Errorf("ResolveBinDir() = %q", got)
	}
}

func TestResolveDevice(t *testing.T) {
	tests := []struct {
		name string
		want devices.Device
	}{
		{"", devices.Clear},
		{"clear", devices.Clear},
		{"laptop", devices.LaptopWithMDPIScreen},
		{"Laptop-HiDPI", devices.LaptopWithHiDPIScreen},
		{"laptop-touch", devices.LaptopWithTouch},
		{"toaster", devices.Clear},
	}
	for _, tt := range tests {
		cfg := BrowserConfig{Device: tt.name}
		if got := cfg.ResolveDevice(); got.Title != tt.want.Title {
			t.Errorf("ResolveDevice(%q) = %q, want %q", tt.name, got.Title, tt.want.Title)
		}
	}
}

func TestProfileLifecycle(t *testing.T) {
	pm := NewProfileManager(t.TempDir())

	if pm.ProfileExists("work") {
		t.Fatal("profile exists before creation")
	}
	if _, err := pm.Info("work"); err == nil {
		t.Error("Info on missing profile succeeded")
	}

	dir, err := pm.EnsureProfile("work")
	if err != nil {
		t.Fatal(err)
	}
	if dir != pm.GetProfileDir("work") || !pm.ProfileExists("work") {
		t.Fatalf("EnsureProfile() = %q", dir)
	}

	if err := os.MkdirAll(filepath.Join(dir, "Default"), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Default", "Cookies"), make([]byte, 2048), 0600); err != nil {
		t.Fatal(err)
	}

	info, err := pm.Info("work")
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 2048 || info.Name != "work" || info.LastUsed.IsZero() {
		t.Errorf("Info() = %+v", info)
	}

	if err := pm.ClearProfile("work"); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 || !pm.ProfileExists("work") {
		t.Errorf("ClearProfile left %d entries, exists=%v", len(entries), pm.ProfileExists("work"))
	}

	if pm.GetProfileDir("") != pm.GetProfileDir("default") {
		t.Error("empty profile name should map to default")
	}
}

func TestCleanupStaleLocks(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "SingletonCookie"), nil, 0600); err != nil {
		t.Fatal(err)
	}
	// Chrome's SingletonLock is a dangling symlink to host-pid
	if err := os.Symlink("somehost-12345", filepath.Join(dir, "SingletonLock")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Preferences"), []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}

	if n := cleanupStaleLocks(dir); n != 2 {
		t.Errorf("cleanupStaleLocks() = %d, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "Preferences")); err != nil {
		t.Error("non-lock file removed")
	}
	if n := cleanupStaleLocks(dir); n != 0 {
		t.Errorf("second cleanup removed %d", n)
	}
}

func TestMatchesSite(t *testing.T) {
	tests := []struct {
		page string
		want bool
	}{
		{"https://chat.z.ai/", true},
		{"https://chat.z.ai/c/1234", true},
		{"https://CHAT.Z.AI/", true},
		{"http://chat.z.ai:443/x", true},
		{"https://z.ai/", false},
		{"https://accounts.google.com/o/oauth2", false},
		{"about:blank", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := matchesSite(tt.page, "https://chat.z.ai"); got != tt.want {
			t.Errorf("matchesSite(%q) = %v, want %v", tt.page, got, tt.want)
		}
	}
}

func TestIsBlankPage(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"about:blank", true},
		{"chrome://newtab/", true},
		{"chrome://new-tab-page/", true},
		{"brave://newtab/", true},
		{"chrome://settings", false},
		{"https://chat.z.ai", false},
	}
	for _, tt := range tests {
		if got := isBlankPage(tt.url); got != tt.want {
			t.Errorf("isBlankPage(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestSiteOrigin(t *testing.T) {
	tests := map[string]string{
		"https://chat.z.ai":          "https://chat.z.ai",
		"https://chat.z.ai/c/1?x=1":  "https://chat.z.ai",
		"http://localhost:8080/path": "http://localhost:8080",
		"not a url":                  "",
		"":                           "",
	}
	for in, want := range tests {
		if got := siteOrigin(in); got != want {
			t.Errorf("siteOrigin(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBraveCandidates(t *testing.T) {
	if got := braveCandidates("darwin"); len(got) != 1 || !strings.Contains(got[0], "Brave Browser.app") {
		t.Errorf("darwin candidates = %v", got)
	}
	linux := braveCandidates("linux")
	if len(linux) == 0 || linux[0] != "/usr/bin/brave-browser" {
		t.Errorf("linux candidates = %v", linux)
	}

	t.Setenv("ProgramFiles", `C:\Program Files`)
	t.Setenv("ProgramFiles(x86)", "")
	t.Setenv("LocalAppData", "")
	win := braveCandidates("windows")
	if len(win) != 1 || !strings.HasSuffix(win[0], "brave.exe") {
		t.Errorf("windows candidates = %v", win)
	}
}

func TestStateString(t *testing.T) {
	if StateConnected.String() != "connected" || StateConnecting.String() != "connecting" || State(9).String() != "disconnected" {
		t.Error("unexpected state names")
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.in); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWaitForText(t *testing.T) {
	t.Run("late paste is seen", func(t *testing.T) {
		var calls int
		read := func() (string, error) {
			calls++
			if calls < 3 {
				return "", nil
			}
			return "[USER]:\nhi", nil
		}
		if !waitForText(context.Background(), read, time.Second, 5*time.Millisecond) {
			t.Error("text that appears after a few polls was missed")
		}
	})

	t.Run("empty input gives up", func(t *testing.T) {
		start := time.Now()
		read := func() (string, error) { return "  \n", nil }
		if waitForText(context.Background(), read, 60*time.Millisecond, 10*time.Millisecond) {
			t.Error("blank input reported as filled")
		}
		if time.Since(start) < 60*time.Millisecond {
			t.Error("gave up before the settle time")
		}
	})

	t.Run("read errors keep polling", func(t *testing.T) {
		var calls int
		read := func() (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("node detached")
			}
			return "x", nil
		}
		if !waitForText(context.Background(), read, time.Second, 5*time.Millisecond) {
			t.Error("transient read error ended the wait")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if waitForText(ctx, func() (string, error) { return "", nil }, time.Second, 5*time.Millisecond) {
			t.Error("cancelled wait reported text")
		}
	})
}
