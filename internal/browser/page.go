package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	. "github.com/roelfdiedericks/zaibridge/internal/logging"
)

// Empties an input, textarea or contenteditable and tells the page about it
const clearInputJS = `function() {
	if ('value' in this) {
		this.value = '';
	} else {
		this.textContent = '';
	}
	this.dispatchEvent(new Event('input', {bubbles: true}));
}`

const writeClipboardJS = `(text) => navigator.clipboard.writeText(text)`

// chatPage drives the chat tab through rod
type chatPage struct {
	page     *rod.Page
	selector string
	bodyMode string

	input   *rod.Element
	pending string // last clipboard text, for the paste check
}

func newChatPage(page *rod.Page, target Target) *chatPage {
	return &chatPage{
		page:     page,
		selector: target.InputSelector,
		bodyMode: target.BodyMode,
	}
}

// modifierKey is the platform's clipboard shortcut modifier
func modifierKey() input.Key {
	if runtime.GOOS == "darwin" {
		return input.MetaLeft
	}
	return input.ControlLeft
}

func (p *chatPage) LocateInput(ctx context.Context) error {
	el, err := p.page.Context(ctx).Element(p.selector)
	if err != nil {
		return err
	}
	p.input = el
	return nil
}

func (p *chatPage) element(ctx context.Context) (*rod.Element, error) {
	if p.input == nil {
		return nil, fmt.Errorf("input not located")
	}
	return p.input.Context(ctx), nil
}

// Clear selects everything in the input and deletes it, falling back to
// resetting the element when keystrokes leave text behind.
func (p *chatPage) Clear(ctx context.Context) error {
	el, err := p.element(ctx)
	if err != nil {
		return err
	}

	if err := el.Click(proto.InputMouseButtonLeft, 3); err != nil {
		return fmt.Errorf("focus input: %w", err)
	}
	keys := p.page.Context(ctx).KeyActions()
	if err := keys.Press(modifierKey()).Type(input.KeyA).Do(); err != nil {
		return fmt.Errorf("select input: %w", err)
	}
	if err := p.page.Context(ctx).KeyActions().Type(input.Backspace).Do(); err != nil {
		return fmt.Errorf("delete input: %w", err)
	}

	if text, err := el.Text(); err == nil && strings.TrimSpace(text) != "" {
		L_debug("browser: keyboard clear left text, resetting element", "remaining", len(text))
		if _, err := el.Eval(clearInputJS); err != nil {
			return fmt.Errorf("reset input: %w", err)
		}
	}
	return nil
}

func (p *chatPage) SetClipboard(ctx context.Context, text string) error {
	if _, err := p.page.Context(ctx).Eval(writeClipboardJS, text); err != nil {
		return err
	}
	p.pending = text
	return nil
}

// Paste sends the paste shortcut. If the input is still empty afterwards
// (the page swallowed the paste) the text is inserted directly.
func (p *chatPage) Paste(ctx context.Context) error {
	el, err := p.element(ctx)
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focus input: %w", err)
	}
	if err := p.page.Context(ctx).KeyActions().Press(modifierKey()).Type(input.KeyV).Do(); err != nil {
		return err
	}

	if p.pending == "" {
		return nil
	}
	if !waitForText(ctx, el.Text, pasteSettle, pastePoll) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		L_debug("browser: paste produced no text, inserting directly")
		return p.InsertText(ctx, p.pending)
	}
	return nil
}

// Pasting is applied by the page asynchronously
const (
	pasteSettle = 400 * time.Millisecond
	pastePoll   = 50 * time.Millisecond
)

// waitForText polls read until it returns non-blank text or settle elapses.
func waitForText(ctx context.Context, read func() (string, error), settle, poll time.Duration) bool {
	deadline := time.NewTimer(settle)
	defer deadline.Stop()
	tick := time.NewTicker(poll)
	defer tick.Stop()

	for {
		if text, err := read(); err == nil && strings.TrimSpace(text) != "" {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			// one last look, the paste may have landed during the final poll
			text, err := read()
			return err == nil && strings.TrimSpace(text) != ""
		case <-tick.C:
		}
	}
}

func (p *chatPage) InsertText(ctx context.Context, text string) error {
	el, err := p.element(ctx)
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focus input: %w", err)
	}
	return p.page.Context(ctx).InsertText(text)
}

func (p *chatPage) Submit(ctx context.Context) error {
	return p.page.Context(ctx).KeyActions().Type(input.Enter).Do()
}
