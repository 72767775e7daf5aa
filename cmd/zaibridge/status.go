package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/roelfdiedericks/zaibridge/internal/auth"
	"github.com/roelfdiedericks/zaibridge/internal/browser"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// StatusCmd reports browser and login state without starting anything
type StatusCmd struct {
	JSON bool `help:"Print as JSON" name:"json"`
}

type statusReport struct {
	Site        string              `json:"site"`
	Listen      string              `json:"listen"`
	Running     bool                `json:"browserRunning"`
	Port        int                 `json:"port"`
	Profile     browser.ProfileInfo `json:"profile"`
	Credential  bool                `json:"credential"`
	CapturedAt  time.Time           `json:"capturedAt,omitempty"`
	AgeSeconds  int64               `json:"ageSeconds,omitempty"`
	Credentials string              `json:"credentialsPath"`
}

func (c *StatusCmd) Run(g *Globals) error {
	cfg, _, err := g.load()
	if err != nil {
		return err
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

	profile := cfg.Browser.ResolveProfile()
	report := statusReport{
		Site:        cfg.Site.URL,
		Listen:      cfg.Listen,
		Running:     manager.Running(),
		Port:        cfg.Browser.Port,
		Profile:     browser.ProfileInfo{Name: profile, Path: manager.Profiles().GetProfileDir(profile)},
		Credentials: store.Path(),
	}
	if info, err := manager.Profiles().Info(profile); err == nil {
		report.Profile = info
	}

	cred, err := store.Load()
	switch {
	case err == nil:
		report.Credential = true
		report.CapturedAt = cred.CapturedAt
		report.AgeSeconds = int64(cred.Age() / time.Second)
	case !errors.Is(err, auth.ErrNoCredential):
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	row := func(label, value string) {
		fmt.Println(labelStyle.Render(label) + value)
	}

	fmt.Println(titleStyle.Render("zaibridge " + version))
	row("site", report.Site)
	row("listen", report.Listen)
	if report.Running {
		row("browser", okStyle.Render("running")+dimStyle.Render(fmt.Sprintf(" on port %d", report.Port)))
	} else {
		row("browser", dimStyle.Render(fmt.Sprintf("not running (port %d)", report.Port)))
	}
	if report.Profile.Size > 0 {
		row("profile", fmt.Sprintf("%s %s", report.Profile.Name, dimStyle.Render(browser.FormatSize(report.Profile.Size)+" at "+report.Profile.Path)))
	} else {
		row("profile", fmt.Sprintf("%s %s", report.Profile.Name, dimStyle.Render("(empty)")))
	}
	if report.Credential {
		age := "captured"
		if report.AgeSeconds > 0 {
			age = "captured " + (time.Duration(report.AgeSeconds) * time.Second).Round(time.Minute).String() + " ago"
		}
		row("login", okStyle.Render("stored")+" "+dimStyle.Render(age))
	} else {
		row("login", warnStyle.Render("none")+" "+dimStyle.Render("run 'zaibridge login'"))
	}
	return nil
}
