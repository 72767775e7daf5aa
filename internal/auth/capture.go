// Package auth captures the chat site's login from the managed browser and
// stores it as an API-style credential.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	. "github.com/roelfdiedericks/zaibridge/internal/logging"
	"github.com/roelfdiedericks/zaibridge/internal/metrics"
)

var (
	ErrLoginTimeout   = errors.New("login not detected before polling gave up")
	ErrLoginCancelled = errors.New("login capture cancelled")
)

// Cookie is the part of a browser cookie the capture needs
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// CookieSource reads cookies applicable to the given URLs
type CookieSource interface {
	Cookies(ctx context.Context, urls []string) ([]Cookie, error)
}

// State of a capture
type State int

const (
	StateIdle State = iota
	StateWaiting
	StatePolling
	StateCaptured
	StateExpired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePolling:
		return "polling"
	case StateCaptured:
		return "captured"
	case StateExpired:
		return "expired"
	case StateCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// Options controls what counts as logged in and how long to wait for it
type Options struct {
	URLs         []string      // cookie URLs to read
	Domain       string        // cookies whose domain contains this are kept
	TokenCookies []string      // presence of any of these means logged in
	Interval     time.Duration // first poll delay
	MaxInterval  time.Duration // backoff ceiling
	MaxAttempts  int           // polls before giving up
}

// DefaultOptions returns the settings for chat.z.ai
func DefaultOptions() Options {
	return Options{
		URLs:         []string{"https://chat.z.ai", "https://z.ai"},
		Domain:       "z.ai",
		TokenCookies: []string{"token", "oauth_id_token"},
		Interval:     time.Second,
		MaxInterval:  5 * time.Second,
		MaxAttempts:  150,
	}
}

// Capture polls a CookieSource until a login token appears.
type Capture struct {
	source CookieSource
	opts   Options

	mu       sync.Mutex
	state    State
	attempts int
}

// NewCapture creates a capture. Zero options take the defaults.
func NewCapture(source CookieSource, opts Options) *Capture {
	def := DefaultOptions()
	if len(opts.URLs) == 0 {
		opts.URLs = def.URLs
	}
	if opts.Domain == "" {
		opts.Domain = def.Domain
	}
	if len(opts.TokenCookies) == 0 {
		opts.TokenCookies = def.TokenCookies
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.MaxInterval < opts.Interval {
		opts.MaxInterval = opts.Interval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	return &Capture{source: source, opts: opts}
}

// State returns the current state
func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns how many polls have been made
func (c *Capture) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Capture) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// AwaitLogin polls until a token cookie shows up. Errors from the source
// are treated as transient (the page may be mid-navigation) and polling
// continues. Returns ErrLoginTimeout after MaxAttempts polls and
// ErrLoginCancelled when ctx ends first.
func (c *Capture) AwaitLogin(ctx context.Context) (*Credential, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.Interval
	b.MaxInterval = c.opts.MaxInterval
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.2
	b.Reset()

	c.setState(StateWaiting)
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			c.setState(StateCancelled)
			return nil, fmt.Errorf("%w: %v", ErrLoginCancelled, err)
		}

		c.mu.Lock()
		c.state = StatePolling
		c.attempts = attempt
		c.mu.Unlock()

		cred, err := c.Poll(ctx)
		switch {
		case err != nil:
			metrics.LoginPolls.WithLabelValues("error").Inc()
			L_debug("auth: cookie poll failed, retrying", "attempt", attempt, "error", err)
		case cred != nil:
			metrics.LoginPolls.WithLabelValues("captured").Inc()
			c.setState(StateCaptured)
			L_info("auth: login captured", "attempt", attempt, "cookies", cred.Count)
			return cred, nil
		default:
			metrics.LoginPolls.WithLabelValues("pending").Inc()
			if attempt%10 == 0 {
				L_info("auth: still waiting for login", "attempt", attempt, "max", c.opts.MaxAttempts)
			}
		}

		if attempt == c.opts.MaxAttempts {
			break
		}

		c.setState(StateWaiting)
		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateCancelled)
			return nil, fmt.Errorf("%w: %v", ErrLoginCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	c.setState(StateExpired)
	return nil, fmt.Errorf("%w (%d attempts)", ErrLoginTimeout, c.opts.MaxAttempts)
}

// Poll reads cookies once. It returns nil, nil when no token is present.
func (c *Capture) Poll(ctx context.Context) (*Credential, error) {
	cookies, err := c.source.Cookies(ctx, c.opts.URLs)
	if err != nil {
		return nil, err
	}
	return c.credentialFrom(cookies), nil
}

// credentialFrom builds a credential when a token cookie is present.
// Kept cookies are those on the site domain or named as a token.
func (c *Capture) credentialFrom(cookies []Cookie) *Credential {
	hasToken := false
	seen := make(map[string]bool)
	parts := make([]string, 0, len(cookies))

	for _, ck := range cookies {
		isToken := c.isTokenCookie(ck.Name)
		if isToken && ck.Value != "" {
			hasToken = true
		}
		if !isToken && !strings.Contains(ck.Domain, c.opts.Domain) {
			continue
		}
		if seen[ck.Name] {
			continue
		}
		seen[ck.Name] = true
		parts = append(parts, ck.Name+"="+ck.Value)
	}

	if !hasToken {
		return nil
	}
	return &Credential{
		CookieString: strings.Join(parts, "; "),
		Count:        len(parts),
		CapturedAt:   time.Now().UTC(),
	}
}

func (c *Capture) isTokenCookie(name string) bool {
	for _, t := range c.opts.TokenCookies {
		if name == t {
			return true
		}
	}
	return false
}
