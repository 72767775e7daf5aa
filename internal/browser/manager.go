package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/roelfdiedericks/zaibridge/internal/bridge"
	. "github.com/roelfdiedericks/zaibridge/internal/logging"
	"github.com/roelfdiedericks/zaibridge/internal/metrics"
)

// State of the browser connection
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Target describes the chat site the manager keeps a page open on
type Target struct {
	URL               string        // Chat page URL
	InputSelector     string        // CSS selector of the prompt input
	BodyMode          string        // "stream" or "buffered" response body capture
	NavigationTimeout time.Duration // Bound on the page settling after navigation
}

// Session is a live connection to the browser
type Session struct {
	Browser    *rod.Browser
	ControlURL string
	Attached   bool // reused a browser that was already running on the port
	Since      time.Time
}

// Manager owns the single browser session. The browser is persistent: it
// is launched on a fixed debugging port with a fixed profile, survives this
// process, and is re-attached to on the next run.
type Manager struct {
	config     BrowserConfig
	target     Target
	homeDir    string
	downloader *Downloader
	profiles   *ProfileManager

	// ctx bounds the CDP connections, not the browser process
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex // serializes Acquire
	session atomic.Pointer[Session]
	state   atomic.Int32
}

// NewManager creates a browser manager. Nothing is launched until Acquire.
func NewManager(cfg BrowserConfig, target Target) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	if target.NavigationTimeout <= 0 {
		target.NavigationTimeout = 30 * time.Second
	}
	if target.BodyMode == "" {
		target.BodyMode = BodyModeStream
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:     cfg,
		target:     target,
		homeDir:    homeDir,
		downloader: NewDownloader(cfg.ResolveBinDir(homeDir)),
		profiles:   NewProfileManager(cfg.ResolveProfilesDir(homeDir)),
		ctx:        ctx,
		cancel:     cancel,
	}

	L_debug("browser: manager initialized",
		"port", cfg.Port,
		"profile", cfg.ResolveProfile(),
		"headless", cfg.Headless,
		"stealth", cfg.Stealth,
	)
	return m, nil
}

// State returns the current connection state
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) != s {
		L_debug("browser: state changed", "state", s.String())
	}
}

// Profiles returns the profile manager
func (m *Manager) Profiles() *ProfileManager {
	return m.profiles
}

// Config returns the browser configuration
func (m *Manager) Config() BrowserConfig {
	return m.config
}

func (m *Manager) debugAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", m.config.Port)
}

// Acquire returns the live session, attaching to a browser already running
// on the debugging port or launching one. Concurrent callers share the
// result; a dead session is replaced transparently.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.session.Load(); s != nil {
		if alive(s.Browser) {
			return s, nil
		}
		L_warn("browser: session lost, reconnecting", "controlURL", s.ControlURL)
		m.session.Store(nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.setState(StateConnecting)
	s, err := m.connect()
	if err != nil {
		m.setState(StateDisconnected)
		return nil, err
	}

	m.session.Store(s)
	m.setState(StateConnected)
	return s, nil
}

// alive probes the CDP connection
func alive(b *rod.Browser) (ok bool) {
	// rod has no IsConnected; a dead client can panic on use
	defer func() {
		if r := recover(); r != nil {
			L_debug("browser: connection check panicked, browser is dead", "panic", r)
			ok = false
		}
	}()
	_, err := b.Call(context.Background(), "", "Browser.getVersion", nil)
	return err == nil
}

func (m *Manager) connect() (*Session, error) {
	s, err := m.attach()
	if err == nil {
		return s, nil
	}
	L_debug("browser: nothing to attach to, launching", "addr", m.debugAddr(), "reason", err)
	return m.launch()
}

// attach connects to a browser already listening on the debugging port
func (m *Manager) attach() (*Session, error) {
	controlURL, err := launcher.ResolveURL(m.debugAddr())
	if err != nil {
		return nil, err
	}

	b := rod.New().Context(m.ctx).ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", controlURL, err)
	}

	metrics.BrowserSessions.WithLabelValues("attached").Inc()
	L_info("browser: attached to running browser", "port", m.config.Port)
	return m.prepare(b, controlURL, true), nil
}

func (m *Manager) launch() (*Session, error) {
	bin, err := m.findExecutable()
	if err != nil {
		return nil, err
	}

	profileDir, err := m.profiles.EnsureProfile(m.config.ResolveProfile())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bridge.ErrBrowserUnavailable, err)
	}

	// Nothing answered on the port, so any lock is left over from a crash
	cleanupStaleLocks(profileDir)

	L_debug("browser: launching browser", "bin", bin, "profileDir", profileDir, "headless", m.config.Headless)

	l := launcher.New().
		Bin(bin).
		UserDataDir(profileDir).
		Headless(m.config.Headless).
		RemoteDebuggingPort(m.config.Port).
		Leakless(false). // keep running after we exit
		Delete("enable-automation").
		Set("disable-dev-shm-usage")

	// Use a desktop-sized window so the site shows its full layout
	if !m.config.Headless {
		l = l.Set("window-size", "1920,1080").
			Set("start-maximized")
	}

	if m.config.Stealth {
		l = l.Set("disable-blink-features", "AutomationControlled")
	}

	if m.config.NoSandbox {
		l = l.Set("no-sandbox")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to launch %s: %v", bridge.ErrBrowserUnavailable, bin, err)
	}

	b := rod.New().Context(m.ctx).ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to browser: %v", bridge.ErrBrowserUnavailable, err)
	}

	metrics.BrowserSessions.WithLabelValues("launched").Inc()
	L_info("browser: launched", "port", m.config.Port, "profile", m.config.ResolveProfile())
	return m.prepare(b, controlURL, false), nil
}

// prepare applies per-session settings
func (m *Manager) prepare(b *rod.Browser, controlURL string, attached bool) *Session {
	// Rod defaults to LaptopWithMDPIScreen which constrains the viewport
	b.DefaultDevice(m.config.ResolveDevice())

	if origin := siteOrigin(m.target.URL); origin != "" {
		err := proto.BrowserGrantPermissions{
			Permissions: []proto.BrowserPermissionType{
				proto.BrowserPermissionTypeClipboardReadWrite,
				proto.BrowserPermissionTypeClipboardSanitizedWrite,
			},
			Origin: origin,
		}.Call(b)
		if err != nil {
			L_warn("browser: clipboard permission not granted, prompts will be typed", "origin", origin, "error", err)
		}
	}

	return &Session{
		Browser:    b,
		ControlURL: controlURL,
		Attached:   attached,
		Since:      time.Now(),
	}
}

// LocatePage returns a tab showing the chat site. An existing site tab is
// reused as-is; otherwise a blank tab (or a new one) is navigated to the
// site and must settle within the navigation timeout.
func (m *Manager) LocatePage(ctx context.Context, s *Session) (*rod.Page, error) {
	pages, err := s.Browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list pages: %v", bridge.ErrBrowserUnavailable, err)
	}

	var blank *rod.Page
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if matchesSite(info.URL, m.target.URL) {
			return p, nil
		}
		if blank == nil && isBlankPage(info.URL) {
			blank = p
		}
	}

	page := blank
	if page == nil {
		page, err = m.newPage(s.Browser)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open tab: %v", bridge.ErrBrowserUnavailable, err)
		}
	}

	if err := m.navigate(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

func (m *Manager) newPage(b *rod.Browser) (*rod.Page, error) {
	if m.config.Stealth {
		return stealth.Page(b)
	}
	return b.Page(proto.TargetCreateTarget{})
}

// navigate loads the site and waits for network activity to go quiet
func (m *Manager) navigate(ctx context.Context, page *rod.Page) error {
	timeout := m.target.NavigationTimeout
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	p := page.Context(nctx)

	// Long-lived sockets would keep the page from ever looking idle
	wait := p.WaitRequestIdle(500*time.Millisecond, nil, nil, []proto.NetworkResourceType{
		proto.NetworkResourceTypeWebSocket,
		proto.NetworkResourceTypeEventSource,
	})

	err := p.Navigate(m.target.URL)
	if err == nil {
		wait()
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if nctx.Err() != nil {
		return fmt.Errorf("%w: %s did not settle within %s", bridge.ErrNavigationTimeout, m.target.URL, timeout)
	}
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", m.target.URL, err)
	}

	L_elapsed(start, "browser: site loaded", "url", m.target.URL)
	return nil
}

// Close drops the CDP connection. The browser itself keeps running.
func (m *Manager) Close() {
	m.cancel()
	m.session.Store(nil)
	m.setState(StateDisconnected)
}

// Shutdown closes the browser running on the debugging port, if any.
// Used before wiping the profile it holds open.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session.Load()
	if s == nil {
		var err error
		if s, err = m.attach(); err != nil {
			return nil // nothing running
		}
	}

	err := s.Browser.Close()
	m.session.Store(nil)
	m.setState(StateDisconnected)
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	L_info("browser: closed", "port", m.config.Port)
	return nil
}

// Running reports whether a browser answers on the debugging port,
// without connecting to it or launching one.
func (m *Manager) Running() bool {
	_, err := launcher.ResolveURL(m.debugAddr())
	return err == nil
}

// Status describes the browser for the status endpoint and CLI
type Status struct {
	State      string    `json:"state"`
	Port       int       `json:"port"`
	Profile    string    `json:"profile"`
	ProfileDir string    `json:"profileDir"`
	ControlURL string    `json:"controlURL,omitempty"`
	Attached   bool      `json:"attached,omitempty"`
	PageCount  int       `json:"pageCount,omitempty"`
	Since      time.Time `json:"since,omitempty"`
}

// Status returns a snapshot without blocking on a connect in progress
func (m *Manager) Status() Status {
	st := Status{
		State:      m.State().String(),
		Port:       m.config.Port,
		Profile:    m.config.ResolveProfile(),
		ProfileDir: m.profiles.GetProfileDir(m.config.ResolveProfile()),
	}

	if s := m.session.Load(); s != nil {
		st.ControlURL = s.ControlURL
		st.Attached = s.Attached
		st.Since = s.Since
		if pages, err := s.Browser.Pages(); err == nil {
			st.PageCount = len(pages)
		}
	}
	return st
}

// siteOrigin returns scheme://host of rawURL, or "" if it does not parse
func siteOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// matchesSite reports whether pageURL is on the same host as siteURL
func matchesSite(pageURL, siteURL string) bool {
	p, err := url.Parse(pageURL)
	if err != nil || p.Host == "" {
		return false
	}
	s, err := url.Parse(siteURL)
	if err != nil || s.Host == "" {
		return false
	}
	return strings.EqualFold(p.Hostname(), s.Hostname())
}

// isBlankPage reports whether a tab shows nothing worth keeping
func isBlankPage(pageURL string) bool {
	if pageURL == "" || pageURL == "about:blank" {
		return true
	}
	for _, prefix := range []string{"chrome://newtab", "chrome://new-tab-page", "brave://newtab", "edge://newtab"} {
		if strings.HasPrefix(pageURL, prefix) {
			return true
		}
	}
	return false
}
