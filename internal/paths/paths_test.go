package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandTilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/abs/path", "/abs/path"},
		{"rel/path", "rel/path"},
		{"~", home},
		{"~/profiles/x", filepath.Join(home, "profiles", "x")},
	}
	for _, tt := range tests {
		got, err := ExpandTilde(tt.in)
		if err != nil {
			t.Fatalf("ExpandTilde(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ExpandTilde(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigPathPriority(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	if got, err := ConfigPath(); err != nil || got != "" {
		t.Fatalf("ConfigPath() = %q, %v; want none", got, err)
	}

	global := filepath.Join(home, ".zaibridge", "zaibridge.yaml")
	if err := EnsureParentDir(global); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(global, []byte("listen: x\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got, _ := ConfigPath(); got != global {
		t.Errorf("ConfigPath() = %q, want %q", got, global)
	}

	if err := os.WriteFile("zaibridge.toml", nil, 0600); err != nil {
		t.Fatal(err)
	}
	got, _ := ConfigPath()
	if filepath.Base(got) != "zaibridge.toml" || !filepath.IsAbs(got) {
		t.Errorf("local config should win, got %q", got)
	}
}

func TestCredentialsPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := CredentialsPath()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".zaibridge", "credentials.json"); got != want {
		t.Errorf("CredentialsPath() = %q, want %q", got, want)
	}
}
