package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/roelfdiedericks/zaibridge/internal/browser"
)

// BrowserCookies reads cookies from the managed browser.
//
// Cookies come from the browser's cookie store rather than a page, so the
// capture keeps working while the login tab redirects through the
// identity provider.
type BrowserCookies struct {
	manager *browser.Manager
}

// NewBrowserCookies creates a cookie source over m
func NewBrowserCookies(m *browser.Manager) *BrowserCookies {
	return &BrowserCookies{manager: m}
}

// Cookies returns the browser cookies that would be sent to any of urls
func (b *BrowserCookies) Cookies(ctx context.Context, urls []string) ([]Cookie, error) {
	s, err := b.manager.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	all, err := s.Browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read browser cookies: %w", err)
	}

	hosts := make([]string, 0, len(urls))
	for _, u := range urls {
		if h := hostOf(u); h != "" {
			hosts = append(hosts, h)
		}
	}

	var out []Cookie
	for _, c := range all {
		for _, h := range hosts {
			if cookieApplies(c.Domain, h) {
				out = append(out, Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain})
				break
			}
		}
	}
	return out, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// cookieApplies reports whether a cookie set for domain is sent to host.
// A leading dot (or none) covers the domain and its subdomains.
func cookieApplies(domain, host string) bool {
	d := strings.ToLower(strings.TrimPrefix(domain, "."))
	if d == "" || host == "" {
		return false
	}
	return host == d || strings.HasSuffix(host, "."+d)
}
