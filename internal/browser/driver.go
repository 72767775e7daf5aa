package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/roelfdiedericks/zaibridge/internal/bridge"
	. "github.com/roelfdiedericks/zaibridge/internal/logging"
)

// Page returns the chat tab ready for a request. The browser is attached
// or launched on demand and the tab is brought to the front so key events
// and clipboard access reach it.
func (m *Manager) Page(ctx context.Context) (bridge.Page, error) {
	s, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	page, err := m.LocatePage(ctx, s)
	if err != nil {
		return nil, err
	}

	if _, err := page.Context(ctx).Activate(); err != nil {
		return nil, fmt.Errorf("%w: failed to activate tab: %v", bridge.ErrBrowserUnavailable, err)
	}
	return newChatPage(page, m.target), nil
}

// OpenLogin brings the chat site to the front for an interactive sign-in.
// Unlike Page it tolerates a slow load, since the site may bounce through
// its identity provider.
func (m *Manager) OpenLogin(ctx context.Context) error {
	s, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	page, err := m.LocatePage(ctx, s)
	if errors.Is(err, bridge.ErrNavigationTimeout) {
		L_debug("browser: login page still loading", "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := page.Activate(); err != nil {
		return fmt.Errorf("failed to activate tab: %w", err)
	}
	return nil
}

var _ bridge.Driver = (*Manager)(nil)
