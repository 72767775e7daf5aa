package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/roelfdiedericks/zaibridge/internal/auth"
	. "github.com/roelfdiedericks/zaibridge/internal/logging"
)

// LoginCmd opens the site in the managed browser and waits for a login
type LoginCmd struct{}

func (c *LoginCmd) Run(g *Globals) error {
	cfg, _, err := g.load()
	if err != nil {
		return err
	}
	if cfg.Browser.Headless {
		L_warn("ignoring headless for login, the site needs a visible window")
		cfg.Browser.Headless = false
	}

	manager, err := newManager(cfg)
	if err != nil {
		return err
	}
	defer manager.Close()

	store, err := auth.NewFileStore("")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.OpenLogin(ctx); err != nil {
		return fmt.Errorf("failed to open %s: %w", cfg.Site.URL, err)
	}

	fmt.Println(titleStyle.Render("zaibridge login"))
	fmt.Printf("Sign in to %s in the browser window.\n", cfg.Site.URL)
	fmt.Println(dimStyle.Render("Waiting for the login cookie, press Ctrl+C to give up."))

	capture := auth.NewCapture(auth.NewBrowserCookies(manager), captureOptions(cfg))
	cred, err := capture.AwaitLogin(ctx)
	if err != nil {
		return err
	}

	if err := store.Save(cred); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("Logged in.") + " " + dimStyle.Render("Credential stored at "+store.Path()))
	return nil
}

// LogoutCmd forgets the stored credential
type LogoutCmd struct {
	ClearProfile bool `help:"Also wipe the browser profile (cookies, storage)" name:"clear-profile"`
	Yes          bool `help:"Do not ask for confirmation" short:"y"`
}

func (c *LogoutCmd) Run(g *Globals) error {
	cfg, _, err := g.load()
	if err != nil {
		return err
	}

	if c.ClearProfile && !c.Yes {
		ok, err := confirm(fmt.Sprintf("Wipe browser profile %q? The site login will be lost.", cfg.Browser.ResolveProfile()))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	store, err := auth.NewFileStore("")
	if err != nil {
		return err
	}
	if err := store.Delete(); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("Stored credential removed."))

	if !c.ClearProfile {
		return nil
	}

	manager, err := newManager(cfg)
	if err != nil {
		return err
	}
	// The profile is locked while the browser runs
	if err := manager.Shutdown(); err != nil {
		return err
	}
	profile := cfg.Browser.ResolveProfile()
	if !manager.Profiles().ProfileExists(profile) {
		fmt.Println(dimStyle.Render("No browser profile to clear."))
		return nil
	}
	if err := manager.Profiles().ClearProfile(profile); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("Browser profile cleared."))
	return nil
}

// confirm asks a yes/no question; without a terminal it refuses
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("not a terminal, pass --yes to confirm")
	}

	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}
