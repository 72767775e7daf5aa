// Command zaibridge serves an OpenAI-compatible API backed by a logged-in
// chat.z.ai browser session.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/zaibridge/internal/auth"
	"github.com/roelfdiedericks/zaibridge/internal/browser"
	"github.com/roelfdiedericks/zaibridge/internal/config"
	. "github.com/roelfdiedericks/zaibridge/internal/logging"
	"github.com/roelfdiedericks/zaibridge/internal/paths"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

// CLI is the command line
type CLI struct {
	Config string `help:"Config file (default: ./zaibridge.json, ~/.zaibridge/zaibridge.json)" short:"c" type:"path"`
	Debug  bool   `help:"Enable debug logging" short:"d"`
	Trace  bool   `help:"Enable trace logging"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the API server"`
	Login   LoginCmd   `cmd:"" help:"Open the browser and capture the site login"`
	Logout  LogoutCmd  `cmd:"" help:"Forget the stored login"`
	Status  StatusCmd  `cmd:"" help:"Show browser and login state"`
	Version VersionCmd `cmd:"" help:"Print the version"`
}

// Globals is passed to every command's Run
type Globals struct {
	ConfigPath string
	Debug      bool
	Trace      bool
}

// VersionCmd prints the version
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("zaibridge %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("zaibridge"),
		kong.Description("OpenAI-compatible API for chat.z.ai, driven through a real browser."),
		kong.UsageOnError(),
	)

	err := ctx.Run(&Globals{
		ConfigPath: cli.Config,
		Debug:      cli.Debug,
		Trace:      cli.Trace,
	})
	ctx.FatalIfErrorf(err)
}

// load reads the config and initializes logging from it and the flags.
// The returned path is empty when running on defaults.
func (g *Globals) load() (*config.Config, string, error) {
	path := g.ConfigPath
	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = found
	}

	// Log config problems at the requested level
	Init(&Config{Level: g.level(""), TimeFormat: "15:04:05"})

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}

	Init(&Config{
		Level:      g.level(cfg.LogLevel),
		TimeFormat: "15:04:05",
		ShowCaller: g.Trace,
	})
	L_debug("zaibridge starting", "version", version, "config", path)
	return cfg, path, nil
}

// level resolves the log level; flags win over the config file
func (g *Globals) level(configured string) int {
	switch {
	case g.Trace:
		return LevelTrace
	case g.Debug:
		return LevelDebug
	default:
		return ParseLevel(configured)
	}
}

func newManager(cfg *config.Config) (*browser.Manager, error) {
	return browser.NewManager(cfg.Browser, browser.Target{
		URL:               cfg.Site.URL,
		InputSelector:     cfg.Site.InputSelector,
		BodyMode:          cfg.Site.BodyMode,
		NavigationTimeout: cfg.Timeouts.NavigationTimeout(),
	})
}

func captureOptions(cfg *config.Config) auth.Options {
	return auth.Options{
		URLs:         cfg.Site.CookieURLs,
		Domain:       cfg.Site.CookieDomain,
		TokenCookies: cfg.Site.TokenCookies,
		Interval:     cfg.Login.PollInterval(),
		MaxInterval:  cfg.Login.PollMaxInterval(),
		MaxAttempts:  cfg.Login.MaxAttempts,
	}
}
