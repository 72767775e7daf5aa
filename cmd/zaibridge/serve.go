package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/roelfdiedericks/zaibridge/internal/auth"
	"github.com/roelfdiedericks/zaibridge/internal/bridge"
	"github.com/roelfdiedericks/zaibridge/internal/config"
	apihttp "github.com/roelfdiedericks/zaibridge/internal/http"
	. "github.com/roelfdiedericks/zaibridge/internal/logging"
	"github.com/roelfdiedericks/zaibridge/internal/tokens"
)

// ServeCmd runs the API server
type ServeCmd struct {
	Listen   string `help:"Listen address (overrides config)"`
	APIKey   string `help:"Bearer key clients must send (overrides config)" name:"api-key" env:"ZAIBRIDGE_API_KEY"`
	Port     int    `help:"Browser remote debugging port (overrides config)"`
	Headless bool   `help:"Run the browser headless (only once logged in)"`
	Thinking string `help:"Thinking output: inline, reasoning or drop"`
	NoWatch  bool   `help:"Do not reload the config file when it changes" name:"no-watch"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, path, err := g.load()
	if err != nil {
		return err
	}

	overrides := config.Config{
		Listen:   c.Listen,
		APIKey:   c.APIKey,
		Thinking: c.Thinking,
	}
	overrides.Browser.Port = c.Port
	if err := cfg.ApplyOverrides(overrides); err != nil {
		return err
	}
	if c.Headless {
		cfg.Browser.Headless = true
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
	if _, err := store.Load(); errors.Is(err, auth.ErrNoCredential) {
		L_warn("no stored login; requests will fail until you run 'zaibridge login'")
	} else if err != nil {
		L_warn("stored login unreadable", "error", err)
	}

	b := bridge.New(manager, bridge.Options{
		CompletionPath:  cfg.Site.CompletionPath,
		InputTimeout:    cfg.Timeouts.InputTimeout(),
		ResponseTimeout: cfg.Timeouts.ResponseTimeout(),
		ReadTimeout:     cfg.Timeouts.ReadTimeout(),
	})

	server := apihttp.NewServer(&apihttp.ServerConfig{
		Listen:   cfg.Listen,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Thinking: cfg.Thinking,
		Tokens:   tokens.Get(),
		Status: func() map[string]any {
			_, credErr := store.Load()
			return map[string]any{
				"browser":    manager.Status(),
				"credential": credErr == nil,
			}
		},
	}, b)
	if err := server.Start(); err != nil {
		return err
	}

	if cfg.Login.Refresh != "" {
		capture := auth.NewCapture(auth.NewBrowserCookies(manager), captureOptions(cfg))
		refresher, err := auth.NewRefresher(capture, store, cfg.Login.Refresh)
		if err != nil {
			L_warn("credential refresh disabled", "error", err)
		} else {
			refresher.Start()
			defer refresher.Stop()
		}
	}

	if path != "" && !c.NoWatch {
		watcher, err := config.NewWatcher(path, 0, func(next *config.Config) {
			SetLevel(g.level(next.LogLevel))
			if c.Thinking == "" {
				server.SetThinking(next.Thinking)
			}
		})
		if err != nil {
			L_warn("config watching disabled", "error", err)
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	L_info("zaibridge ready", "addr", server.Addr(), "site", cfg.Site.URL, "model", cfg.Model)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	SetShuttingDown()
	L_info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
